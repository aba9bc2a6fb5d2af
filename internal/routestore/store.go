// Package routestore looks up routing entries in the external key-value store.
//
// Entries live as fields of a single hash: the field is the route prefix
// ("/svc/v1") and the value is a JSON document {"target": "..."}.
package routestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"prefix-gateway/internal/config"
)

// Store is the single-key lookup contract consumed by the gateway.
type Store interface {
	// Get returns the raw value stored for key. found is false when the
	// store has no entry; err is reserved for connection or protocol failures.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Ping(ctx context.Context) error
	Close() error
	Backend() string
}

// Socket timeouts shared by both backends. Lookups are additionally bounded by
// store.lookup_timeout_ms through the request context.
const (
	dialTimeout = 2 * time.Second
	ioTimeout   = time.Second
)

// New returns the Store selected by cfg.Store.Backend.
func New(cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis, "":
		return NewRedisStore(cfg.Store), nil
	case config.BackendValkey:
		return NewValkeyStore(cfg.Store), nil
	default:
		return nil, fmt.Errorf("unknown route store backend %q", cfg.Store.Backend)
	}
}

// WaitReady pings the store with exponential backoff, giving up after attempts tries.
func WaitReady(ctx context.Context, s Store, attempts int, logger *slog.Logger) error {
	if attempts < 1 {
		attempts = 1
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := s.Ping(ctx); err != nil {
			logger.Info("route store not ready, retrying", "backend", s.Backend(), "err", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err != nil {
		return fmt.Errorf("route store %s unreachable: %w", s.Backend(), err)
	}
	return nil
}
