package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func newTestConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Data.Path = t.TempDir()
	cfg.Network.Host = "127.0.0.1"
	cfg.Network.Port = freePort(t)
	cfg.Auth.Enabled = false
	cfg.Extensions.MLSGateway.Enabled = true
	return cfg
}

func TestNewWiresEveryCollaboratorWithoutServiceMember(t *testing.T) {
	cfg := newTestConfig(t)

	r, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, r.store)
	require.NotNil(t, r.aux)
	require.NotNil(t, r.subs)
	require.NotNil(t, r.chain)
	require.NotNil(t, r.gateway)
	require.Nil(t, r.dispatcher, "no signing key file configured, so no dispatcher should be built")
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestStartServesHealthAndShutdownStopsCleanly(t *testing.T) {
	cfg := newTestConfig(t)

	r, err := New(cfg)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	require.NoError(t, r.Start(errCh))

	addr := fmt.Sprintf("http://%s:%d/health", cfg.Network.Host, cfg.Network.Port)
	var resp *http.Response
	require.Eventually(t, func() bool {
		var getErr error
		resp, getErr = http.Get(addr)
		return getErr == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	default:
	}
}
