package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/scribo-app/scribo/internal/core"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Path    string
	Redis   RedisConfig
}

// New creates the configured cache backend.
func New(ctx context.Context, opts Options) (core.Cache, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		path := opts.Path
		if path == "" {
			return nil, fmt.Errorf("sqlite cache needs a path")
		}
		if filepath.Ext(path) == "" {
			path += ".db"
		}
		return NewSQLite(path)
	case BackendRedis:
		if opts.Redis.Addr == "" {
			return nil, fmt.Errorf("redis cache needs an address")
		}
		return NewRedis(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}
