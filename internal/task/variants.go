package task

import (
	"fmt"

	"github.com/bassista/go_tilecache/internal/tile"
)

var (
	_ Task = (*InitTask)(nil)
	_ Task = (*SaveTileTask)(nil)
	_ Task = (*FetchTileTask)(nil)
	_ Task = (*FetchTileSetsTask)(nil)
	_ Task = (*CreateTileSetTask)(nil)
	_ Task = (*GetTileDownloadListTask)(nil)
	_ Task = (*UpdateTileDownloadStateTask)(nil)
	_ Task = (*DeleteTileSetTask)(nil)
	_ Task = (*PruneCacheTask)(nil)
	_ Task = (*ResetTask)(nil)
)

// InitTask bootstraps the store. It has no success notification.
type InitTask struct {
	base
}

func NewInitTask(onError ErrorFunc) *InitTask {
	return &InitTask{base: newBase(KindInit, onError)}
}

func (t *InitTask) Accept(v Visitor) { v.VisitInit(t) }

// SaveTileTask writes one tile payload into the cache. It is fire-and-forget: only failures
// are reported. The task owns the tile until it is released.
type SaveTileTask struct {
	base
	tile *tile.CacheTile
}

func NewSaveTileTask(t *tile.CacheTile, onError ErrorFunc) *SaveTileTask {
	return &SaveTileTask{base: newBase(KindCacheTile, onError), tile: t}
}

// Tile returns the owned payload, or nil once the task has been released.
func (t *SaveTileTask) Tile() *tile.CacheTile { return t.tile }

func (t *SaveTileTask) Accept(v Visitor) { v.VisitSaveTile(t) }

func (t *SaveTileTask) Release() {
	t.tile = nil
	t.base.Release()
}

// FetchTileTask reads one tile by hash.
type FetchTileTask struct {
	base
	hash      string
	onFetched func(*tile.CacheTile)
}

func NewFetchTileTask(hash string, onFetched func(*tile.CacheTile), onError ErrorFunc) *FetchTileTask {
	return &FetchTileTask{base: newBase(KindFetchTile, onError), hash: hash, onFetched: onFetched}
}

func (t *FetchTileTask) Hash() string { return t.hash }

func (t *FetchTileTask) Accept(v Visitor) { v.VisitFetchTile(t) }

// TileFetched hands the tile to the caller. Ownership of ct passes with it.
func (t *FetchTileTask) TileFetched(ct *tile.CacheTile) {
	t.succeed()
	if t.onFetched != nil {
		t.onFetched(ct)
	}
}

// FetchTileSetsTask enumerates every tile set. TileSetFetched is called once per set;
// an error may follow sets already delivered.
type FetchTileSetsTask struct {
	base
	onFetched func(*tile.TileSet)
}

func NewFetchTileSetsTask(onFetched func(*tile.TileSet), onError ErrorFunc) *FetchTileSetsTask {
	return &FetchTileSetsTask{base: newBase(KindFetchTileSets, onError), onFetched: onFetched}
}

func (t *FetchTileSetsTask) Accept(v Visitor) { v.VisitFetchTileSets(t) }

func (t *FetchTileSetsTask) TileSetFetched(set *tile.TileSet) {
	t.progress()
	if t.onFetched != nil {
		t.onFetched(set)
	}
}

// CreateTileSetTask persists a new tile set. The task holds the caller's set but does
// not own it.
type CreateTileSetTask struct {
	base
	set     *tile.TileSet
	onSaved func(*tile.TileSet)
}

func NewCreateTileSetTask(set *tile.TileSet, onSaved func(*tile.TileSet), onError ErrorFunc) *CreateTileSetTask {
	return &CreateTileSetTask{base: newBase(KindCreateTileSet, onError), set: set, onSaved: onSaved}
}

func (t *CreateTileSetTask) TileSet() *tile.TileSet { return t.set }

// Saved reports whether the set has been persisted.
func (t *CreateTileSetTask) Saved() bool { return t.set != nil && t.set.Saved() }

func (t *CreateTileSetTask) Accept(v Visitor) { v.VisitCreateTileSet(t) }

// TileSetSaved marks the set persisted under id and notifies the caller.
func (t *CreateTileSetTask) TileSetSaved(id tile.SetID) {
	t.succeed()
	t.set.MarkSaved(id)
	if t.onSaved != nil {
		t.onSaved(t.set)
	}
}

// GetTileDownloadListTask asks for up to Count tiles of a set that still need downloading.
type GetTileDownloadListTask struct {
	base
	setID  tile.SetID
	count  int
	onList func([]tile.Tile)
}

func NewGetTileDownloadListTask(setID tile.SetID, count int, onList func([]tile.Tile), onError ErrorFunc) *GetTileDownloadListTask {
	return &GetTileDownloadListTask{base: newBase(KindGetTileDownloadList, onError), setID: setID, count: count, onList: onList}
}

func (t *GetTileDownloadListTask) SetID() tile.SetID { return t.setID }

func (t *GetTileDownloadListTask) Count() int { return t.count }

func (t *GetTileDownloadListTask) Accept(v Visitor) { v.VisitGetTileDownloadList(t) }

// TileListFetched delivers the list. Handing back more than Count tiles is a logic error;
// a non-positive Count only admits an empty list.
func (t *GetTileDownloadListTask) TileListFetched(tiles []tile.Tile) {
	if len(tiles) > max(t.count, 0) {
		panic(t.violation(fmt.Sprintf("download list of %d tiles exceeds requested %d", len(tiles), t.count)))
	}
	t.succeed()
	if t.onList != nil {
		t.onList(tiles)
	}
}

// UpdateTileDownloadStateTask records the download state of one tile of a set, or of all
// of them when the hash is AllTiles. Fire-and-forget.
type UpdateTileDownloadStateTask struct {
	base
	setID tile.SetID
	state tile.State
	hash  string
}

// AllTiles targets every tile of a set in an UpdateTileDownloadStateTask.
const AllTiles = "*"

func NewUpdateTileDownloadStateTask(setID tile.SetID, state tile.State, hash string, onError ErrorFunc) *UpdateTileDownloadStateTask {
	return &UpdateTileDownloadStateTask{base: newBase(KindUpdateTileDownloadState, onError), setID: setID, state: state, hash: hash}
}

func (t *UpdateTileDownloadStateTask) SetID() tile.SetID { return t.setID }

func (t *UpdateTileDownloadStateTask) State() tile.State { return t.state }

func (t *UpdateTileDownloadStateTask) Hash() string { return t.hash }

func (t *UpdateTileDownloadStateTask) Accept(v Visitor) { v.VisitUpdateTileDownloadState(t) }

// DeleteTileSetTask removes a set and the tiles only it references.
type DeleteTileSetTask struct {
	base
	setID     tile.SetID
	onDeleted func(tile.SetID)
}

func NewDeleteTileSetTask(setID tile.SetID, onDeleted func(tile.SetID), onError ErrorFunc) *DeleteTileSetTask {
	return &DeleteTileSetTask{base: newBase(KindDeleteTileSet, onError), setID: setID, onDeleted: onDeleted}
}

func (t *DeleteTileSetTask) SetID() tile.SetID { return t.setID }

func (t *DeleteTileSetTask) Accept(v Visitor) { v.VisitDeleteTileSet(t) }

func (t *DeleteTileSetTask) TileSetDeleted() {
	t.succeed()
	if t.onDeleted != nil {
		t.onDeleted(t.setID)
	}
}

// PruneCacheTask evicts at least Amount bytes of default-set tiles.
type PruneCacheTask struct {
	base
	amount   uint64
	onPruned func()
}

func NewPruneCacheTask(amount uint64, onPruned func(), onError ErrorFunc) *PruneCacheTask {
	return &PruneCacheTask{base: newBase(KindPruneCache, onError), amount: amount, onPruned: onPruned}
}

func (t *PruneCacheTask) Amount() uint64 { return t.amount }

func (t *PruneCacheTask) Accept(v Visitor) { v.VisitPruneCache(t) }

func (t *PruneCacheTask) Pruned() {
	t.succeed()
	if t.onPruned != nil {
		t.onPruned()
	}
}

// ResetTask clears all cached state.
type ResetTask struct {
	base
	onReset func()
}

func NewResetTask(onReset func(), onError ErrorFunc) *ResetTask {
	return &ResetTask{base: newBase(KindReset, onError), onReset: onReset}
}

func (t *ResetTask) Accept(v Visitor) { v.VisitReset(t) }

func (t *ResetTask) ResetCompleted() {
	t.succeed()
	if t.onReset != nil {
		t.onReset()
	}
}
