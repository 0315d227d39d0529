package relay

import (
	"testing"

	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestCheckStoresReportsOKForFreshDataDir(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Path = t.TempDir()

	report, err := CheckStores(cfg)
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Equal(t, "ok", report.EventStoreStatus)
	require.Equal(t, "ok", report.AuxStoreStatus)
}

func TestCheckStoresReportsErrorForUnwritablePath(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Path = "/nonexistent/does/not/exist"

	report, err := CheckStores(cfg)
	require.NoError(t, err)
	require.False(t, report.OK())
}
