package gateway

import (
	"fmt"
	"sync"

	"genbot/internal/infra"
	"genbot/internal/providers/kie"
)

// FactoryOptions selects and configures the provider implementation.
type FactoryOptions struct {
	UseMock bool
	Mock    MockOptions
	Kie     kie.Options
	Logger  *infra.Logger
}

// Factory builds the gateway once and hands out the same instance until
// Reset is called. The Kie client is only constructed when the mock is off,
// so an HTTP client injected through Kie options is never used in mock mode.
type Factory struct {
	opts FactoryOptions

	mu  sync.Mutex
	gw  Gateway
	err error
}

// NewFactory constructs a factory; no gateway is built until Gateway is called.
func NewFactory(opts FactoryOptions) *Factory {
	return &Factory{opts: opts}
}

// Gateway returns the memoized gateway, building it on first use.
func (f *Factory) Gateway() (Gateway, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gw != nil || f.err != nil {
		return f.gw, f.err
	}
	f.gw, f.err = f.build()
	return f.gw, f.err
}

// Reset forgets the memoized gateway. Intended for tests.
func (f *Factory) Reset() {
	f.mu.Lock()
	f.gw = nil
	f.err = nil
	f.mu.Unlock()
}

func (f *Factory) build() (Gateway, error) {
	if f.opts.UseMock {
		if f.opts.Logger != nil {
			f.opts.Logger.Info().Msg("gateway: using mock provider")
		}
		return NewMock(f.opts.Mock), nil
	}
	kopts := f.opts.Kie
	if kopts.Logger == nil {
		kopts.Logger = f.opts.Logger
	}
	client, err := kie.NewClient(kopts)
	if err != nil {
		return nil, fmt.Errorf("gateway: build kie client: %w", err)
	}
	if f.opts.Logger != nil {
		f.opts.Logger.Info().Str("base_url", kopts.BaseURL).Msg("gateway: using kie provider")
	}
	return NewKie(client), nil
}
