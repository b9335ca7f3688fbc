package cache

import (
	"context"
	"errors"

	"github.com/bassista/go_tilecache/internal/tile"
)

// ErrMiss is returned by Get when the tile is not cached.
var ErrMiss = errors.New("tile not cached")

// Reader is the cache API needed on the fetch path.
type Reader interface {
	Get(ctx context.Context, hash string) (*tile.CacheTile, error)
}

// Writer is the cache API needed on the save path.
type Writer interface {
	Put(ctx context.Context, ct *tile.CacheTile) error
}

// Evictor drops entries when the store deletes the underlying tiles.
type Evictor interface {
	Delete(ctx context.Context, hashes ...string) error
	Clear(ctx context.Context) error
}

// TileCache is the hot payload cache sitting in front of the tile repository.
// Every implementation returns copies, so callers may keep or mutate what they get.
type TileCache interface {
	Reader
	Writer
	Evictor
	Close() error
}
