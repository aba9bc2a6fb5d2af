package routestore

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/valkey-io/valkey-go"

	"prefix-gateway/internal/config"
)

// ValkeyStore reads routing entries with HGET through valkey-go.
//
// valkey.NewClient dials eagerly, so the client is created on first use and
// recreated on the next call after a failed connect. This keeps an unreachable
// store a per-request failure rather than a startup failure.
type ValkeyStore struct {
	opt     valkey.ClientOption
	hashKey string

	mu  sync.Mutex
	cli valkey.Client
}

// NewValkeyStore creates a ValkeyStore. No connection is made until first use.
func NewValkeyStore(cfg config.StoreConfig) *ValkeyStore {
	return &ValkeyStore{
		opt: valkey.ClientOption{
			InitAddress:      []string{cfg.Addr},
			Password:         cfg.Password,
			SelectDB:         cfg.DB,
			ConnWriteTimeout: ioTimeout,
			Dialer:           net.Dialer{Timeout: dialTimeout},
			// Lookups are not cached client-side.
			DisableCache: true,
			DisableRetry: true,
		},
		hashKey: cfg.HashKey,
	}
}

func (s *ValkeyStore) client() (valkey.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cli != nil {
		return s.cli, nil
	}
	cli, err := valkey.NewClient(s.opt)
	if err != nil {
		return nil, fmt.Errorf("connect valkey %v: %w", s.opt.InitAddress, err)
	}
	s.cli = cli
	return cli, nil
}

func (s *ValkeyStore) Get(ctx context.Context, key string) (string, bool, error) {
	cli, err := s.client()
	if err != nil {
		return "", false, err
	}
	val, err := cli.Do(ctx, cli.B().Hget().Key(s.hashKey).Field(key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s %s: %w", s.hashKey, key, err)
	}
	return val, true, nil
}

func (s *ValkeyStore) Ping(ctx context.Context) error {
	cli, err := s.client()
	if err != nil {
		return err
	}
	return cli.Do(ctx, cli.B().Ping().Build()).Error()
}

func (s *ValkeyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cli != nil {
		s.cli.Close()
		s.cli = nil
	}
	return nil
}

func (s *ValkeyStore) Backend() string {
	return config.BackendValkey
}
