package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/bassista/go_tilecache/internal/tile"
)

const (
	TypeMemory   = "memory"
	TypeRedis    = "redis"
	TypeDisabled = "disabled"
)

// Options selects the cache backend.
type Options struct {
	Type        string
	MemoryTiles int
	Redis       RedisConfig
}

// NewCacheFromConfig returns the TileCache for the configured type.
func NewCacheFromConfig(ctx context.Context, opts Options) (TileCache, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Type)) {
	case TypeMemory, "":
		return NewMemoryCache(opts.MemoryTiles), nil
	case TypeRedis:
		rc, err := NewRedisCache(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		return rc, nil
	case TypeDisabled, "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache type %q: %w", opts.Type, errdefs.ErrInvalidArgument)
	}
}

// Noop caches nothing.
type Noop struct{}

func (Noop) Get(context.Context, string) (*tile.CacheTile, error) { return nil, ErrMiss }
func (Noop) Put(context.Context, *tile.CacheTile) error { return nil }
func (Noop) Delete(context.Context, ...string) error { return nil }
func (Noop) Clear(context.Context) error { return nil }
func (Noop) Close() error { return nil }
