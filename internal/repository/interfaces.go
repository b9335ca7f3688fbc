package repository

import (
	"context"

	"github.com/bassista/go_tilecache/internal/tile"
)

// SizeReporter reports how many payload bytes the store holds.
// Small interface used by background jobs like the prune scheduler.
type SizeReporter interface {
	CacheSize(ctx context.Context) (int64, error)
}

// TileRepository is the persistent tile store the worker executes tasks against.
// SQLRepository implements this interface.
//
// Errors are classified with the errdefs package: ErrNotFound for unknown sets or tiles,
// ErrInvalidArgument for malformed input, ErrAlreadyExists for duplicate set names.
type TileRepository interface {
	SizeReporter

	// Init migrates the schema and makes sure the default tile set exists. Idempotent.
	Init(ctx context.Context) error
	// SaveTile stores a payload and links it to its set, or to the default set when unassigned.
	SaveTile(ctx context.Context, ct *tile.CacheTile) error
	FetchTile(ctx context.Context, hash string) (*tile.CacheTile, error)
	// FetchTileSets calls fn once per set. It stops at the first error fn returns.
	FetchTileSets(ctx context.Context, fn func(*tile.TileSet) error) error
	// CreateTileSet persists the set and queues its missing tiles for download.
	// It fills in the set's counts but does not mark it saved.
	CreateTileSet(ctx context.Context, set *tile.TileSet) (tile.SetID, error)
	// GetTileDownloadList returns up to count pending tiles and marks them downloading.
	GetTileDownloadList(ctx context.Context, setID tile.SetID, count int) ([]tile.Tile, error)
	UpdateTileDownloadState(ctx context.Context, setID tile.SetID, state tile.State, hash string) error
	// DeleteTileSet removes the set and returns the hashes of the tiles deleted with it.
	DeleteTileSet(ctx context.Context, setID tile.SetID) ([]string, error)
	// Prune frees at least amount bytes of default-set tiles, oldest first, and returns the
	// hashes it deleted.
	Prune(ctx context.Context, amount uint64) ([]string, error)
	Reset(ctx context.Context) error
	Close() error
}
