package agent

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/tracepipe/internal/config"
)

var (
	defaultMu    sync.Mutex
	defaultAgent *Agent
)

// Init creates the process-wide default agent. It fails with
// ErrAlreadyInitialized while a default agent exists.
func Init(cfg *config.Config, opts ...Option) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultAgent != nil {
		return ErrAlreadyInitialized
	}
	a, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	defaultAgent = a
	return nil
}

// Default returns the default agent, or nil before Init.
func Default() *Agent {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultAgent
}

// Shutdown closes the default agent. Init may be called again afterwards.
func Shutdown(ctx context.Context) error {
	defaultMu.Lock()
	a := defaultAgent
	defaultAgent = nil
	defaultMu.Unlock()

	if a == nil {
		return ErrNotInitialized
	}
	return a.Close(ctx)
}
