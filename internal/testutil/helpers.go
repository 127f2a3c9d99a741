package testutil

import (
	"errors"
	"testing"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/config"
	"github.com/stretchr/testify/require"
)

var errMissingMetadata = errors.New("intake body must start with a metadata line")

// Config returns a valid configuration pointing at serverURL with central
// config and metrics disabled and short intervals.
func Config(serverURL string) *config.Config {
	cfg := config.Default()
	cfg.ServerURL = serverURL
	cfg.ServiceName = "test-service"
	cfg.FlushInterval = 50 * time.Millisecond
	cfg.ServerTimeout = 2 * time.Second
	cfg.CentralConfig = false
	cfg.MetricsInterval = 0
	return cfg
}

// Store builds a snapshot store from cfg.
func Store(t testing.TB, cfg *config.Config) *config.Store {
	t.Helper()
	require.NoError(t, cfg.Validate())
	snap, err := config.NewSnapshot(cfg)
	require.NoError(t, err)
	return config.NewStore(snap)
}
