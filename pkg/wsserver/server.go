package wsserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/cuemby/mls-relay/pkg/eventstore"
	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/log"
	"github.com/cuemby/mls-relay/pkg/security"
	"github.com/cuemby/mls-relay/pkg/session"
	"github.com/cuemby/mls-relay/pkg/subscription"
	"github.com/gorilla/websocket"
)

// outboundQueueSize bounds how many frames a session's socket writer may
// have pending before the connection is closed for backpressure rather
// than letting the writer block the broadcast loop indefinitely.
const outboundQueueSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades HTTP connections to WebSocket and drives one Session per
// connection.
type Server struct {
	store eventstore.Store
	chain *extension.Chain
	subs  *subscription.Registry
	cfg   config.Config
	jwks  *security.JWKSCache
}

// New builds a Server. jwks may be nil if bearer-token enforcement at
// upgrade time is disabled in cfg.Auth.
func New(store eventstore.Store, chain *extension.Chain, subs *subscription.Registry, cfg config.Config, jwks *security.JWKSCache) *Server {
	return &Server{store: store, chain: chain, subs: subs, cfg: cfg, jwks: jwks}
}

// ServeHTTP upgrades the connection after enforcing bearer-token
// admission (when configured) and then runs the session loop until the
// connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth.Enabled && s.cfg.Auth.RequireAppAttestation {
		if err := s.checkBearer(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("wsserver").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := session.New(s.store, s.chain, s.subs, s.cfg.Limitation.MaxSubscriptions)
	c := &clientConn{server: s, ws: conn, session: sess, out: make(chan []byte, outboundQueueSize)}
	c.run()
}

func (s *Server) checkBearer(r *http.Request) error {
	if s.jwks == nil {
		return fmt.Errorf("bearer enforcement is enabled but no JWKS source is configured")
	}
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("missing bearer token")
	}
	token := strings.TrimPrefix(header, prefix)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	_, err := security.VerifyBearerToken(ctx, s.jwks, token, s.cfg.Auth.BearerAudience)
	return err
}
