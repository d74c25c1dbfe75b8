package health

import (
	"context"
	"errors"
	"fmt"
)

// Pinger is a dependency that can be probed, such as the PostgreSQL
// knowledge store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConfigLoaded reports ready once loaded returns true.
func ConfigLoaded(loaded func() bool) Checker {
	return Checker{
		Name: "config",
		Check: func(context.Context) error {
			if !loaded() {
				return errors.New("configuration not loaded")
			}
			return nil
		},
	}
}

// Ping probes p under name. A nil p always passes, so optional stores can
// be registered unconditionally. Failures only degrade readiness.
func Ping(name string, p Pinger) Checker {
	return Checker{
		Name:     name,
		Optional: true,
		Check: func(ctx context.Context) error {
			if p == nil {
				return nil
			}
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}

// Credentials fails while the named provider has no API key, since every
// connect attempt would be rejected.
func Credentials(provider string, apiKey func() string) Checker {
	return Checker{
		Name: "s2s",
		Check: func(context.Context) error {
			if apiKey() == "" {
				return fmt.Errorf("%s: no api key configured", provider)
			}
			return nil
		},
	}
}
