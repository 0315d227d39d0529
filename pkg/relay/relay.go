package relay

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/cuemby/mls-relay/pkg/auxstore"
	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/cuemby/mls-relay/pkg/eventstore"
	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/httpapi"
	"github.com/cuemby/mls-relay/pkg/log"
	"github.com/cuemby/mls-relay/pkg/metrics"
	"github.com/cuemby/mls-relay/pkg/mlsgateway"
	"github.com/cuemby/mls-relay/pkg/scheduler"
	"github.com/cuemby/mls-relay/pkg/security"
	"github.com/cuemby/mls-relay/pkg/servicemember"
	"github.com/cuemby/mls-relay/pkg/subscription"
	"github.com/cuemby/mls-relay/pkg/wsserver"
)

// Relay owns every long-lived collaborator the process needs and their
// combined lifecycle.
type Relay struct {
	cfg config.Config

	store eventstore.Store
	aux   auxstore.Store
	subs  *subscription.Registry
	chain *extension.Chain

	gateway    *mlsgateway.Gateway
	dispatcher *servicemember.Dispatcher
	sched      *scheduler.Scheduler
	collector  *metrics.Collector
	jwks       *security.JWKSCache

	wsSrv   *wsserver.Server
	httpSrv *httpapi.Server

	listener net.Listener
	server   *http.Server
}

// New constructs every collaborator from cfg but does not start network
// listeners or background workers; call Start for that.
func New(cfg config.Config) (*Relay, error) {
	store, err := eventstore.NewBoltStore(cfg.Data.Path, eventstore.Window{
		MaxOlderThanNow: cfg.Limitation.MaxEventTimeOlderThan,
		MaxNewerThanNow: cfg.Limitation.MaxEventTimeNewerThan,
	})
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	aux, err := auxstore.NewBoltStore(cfg.Data.Path)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open auxiliary store: %w", err)
	}

	subs := subscription.NewRegistry()

	gateway := mlsgateway.New(aux, cfg.Extensions.MLSGateway)

	hooks := []extension.Hook{}
	if len(cfg.RateLimiter.Event) > 0 {
		hooks = append(hooks, extension.NewRateLimitHook(cfg.RateLimiter.Event))
	}
	hooks = append(hooks, gateway)
	chain := extension.NewChain(hooks...).WithReqHooks(gateway)

	var jwks *security.JWKSCache
	if cfg.Auth.JWKSURL != "" {
		jwks = security.NewJWKSCache(cfg.Auth.JWKSURL, 5*time.Minute)
	}

	r := &Relay{
		cfg:     cfg,
		store:   store,
		aux:     aux,
		subs:    subs,
		chain:   chain,
		gateway: gateway,
		jwks:    jwks,
		sched:   scheduler.NewScheduler(aux, cfg.Extensions.MLSGateway),
	}

	if cfg.Extensions.MLSGateway.Enabled && cfg.ServiceMember.SigningKeyFile != "" {
		dispatcher, err := r.buildDispatcher()
		if err != nil {
			store.Close()
			aux.Close()
			return nil, fmt.Errorf("build service member: %w", err)
		}
		r.dispatcher = dispatcher
		gateway.SetDispatcher(dispatcher)
	}

	r.collector = metrics.NewCollector(subs, 15*time.Second)
	r.wsSrv = wsserver.New(store, chain, subs, cfg, jwks)
	r.httpSrv = httpapi.New(store, aux, chain, subs, cfg, jwks)

	return r, nil
}

// loadSigningKey reads the service member's signing key file, which is
// stored at rest as an AES-256-GCM envelope (base64) sealed under a key
// derived from cfg.ServiceMember.DeploymentID, and returns the unwrapped
// private key.
func (r *Relay) loadSigningKey() (*btcec.PrivateKey, error) {
	sealed, err := os.ReadFile(r.cfg.ServiceMember.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read signing key file: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(sealed)))
	if err != nil {
		return nil, fmt.Errorf("decode sealed signing key: %w", err)
	}

	sm, err := security.NewSecretsManagerFromPassword(r.cfg.ServiceMember.DeploymentID)
	if err != nil {
		return nil, fmt.Errorf("build secrets manager: %w", err)
	}
	keyHex, err := sm.DecryptSecret(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt signing key: %w", err)
	}

	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(keyHex)))
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	signingKey, _ := btcec.PrivKeyFromBytes(keyBytes)
	return signingKey, nil
}

func (r *Relay) buildDispatcher() (*servicemember.Dispatcher, error) {
	signingKey, err := r.loadSigningKey()
	if err != nil {
		return nil, err
	}

	var macSigner security.MACSigner = security.NewHTTPMACSigner(r.cfg.ServiceMember.MACEndpoint)

	return servicemember.New(
		servicemember.NewGate(),
		r.aux,
		r.cfg.ServiceMember,
		unavailableMLSCodec{},
		unavailableMLSCodec{},
		macSigner,
		r.jwks,
		signingKey,
		r.cfg.Extensions.MLSGateway.AdminPubkeys,
	), nil
}

// Start binds the HTTP/WebSocket listener and starts every background
// worker. It returns once the listener is bound; serving happens on a
// background goroutine, with errors delivered to errCh.
func (r *Relay) Start(errCh chan<- error) error {
	addr := fmt.Sprintf("%s:%d", r.cfg.Network.Host, r.cfg.Network.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.listener = ln

	mux := http.NewServeMux()
	mux.Handle("/", r.wsSrv)
	mux.Handle("/health", r.httpSrv)
	mux.Handle("/ready", r.httpSrv)
	mux.Handle("/live", r.httpSrv)
	mux.Handle("/metrics", r.httpSrv)
	mux.Handle("/api/v1/", r.httpSrv)
	r.server = &http.Server{Handler: mux}

	r.subs.Start()
	r.sched.Start()
	r.collector.Start()

	metrics.RegisterComponent("eventstore", true, "ready")
	metrics.RegisterComponent("auxstore", true, "ready")
	metrics.RegisterComponent("wsserver", true, "ready")

	go func() {
		if err := r.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	log.WithComponent("relay").Info().Str("addr", addr).Msg("relay listening")
	return nil
}

// Shutdown stops every background worker and closes the stores, in
// reverse order of Start.
func (r *Relay) Shutdown(ctx context.Context) error {
	if r.server != nil {
		if err := r.server.Shutdown(ctx); err != nil {
			log.WithComponent("relay").Warn().Err(err).Msg("http server shutdown error")
		}
	}
	r.collector.Stop()
	r.sched.Stop()
	r.subs.Stop()

	if err := r.aux.Close(); err != nil {
		log.WithComponent("relay").Warn().Err(err).Msg("auxiliary store close error")
	}
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("close event store: %w", err)
	}
	return nil
}
