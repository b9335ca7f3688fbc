package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/sirupsen/logrus"

	"github.com/bassista/go_tilecache/internal/cache"
	"github.com/bassista/go_tilecache/internal/task"
	"github.com/bassista/go_tilecache/internal/tile"
)

// execution runs one task against the store. It implements task.Visitor, so every
// task kind must be handled here.
type execution struct {
	ctx context.Context
	w   *Worker
	log *logrus.Entry
}

var _ task.Visitor = (*execution)(nil)

// fail forwards err to the task verbatim. Errors a caller can cause are not escalated.
func (e *execution) fail(t task.Task, err error) {
	e.log.Warnf("%v", err)
	t.Fail(err.Error())
	if expected(err) {
		return
	}
	e.w.errHandler(t, err)
}

func expected(err error) bool {
	return errdefs.IsNotFound(err) || errdefs.IsInvalidArgument(err) || errdefs.IsAlreadyExists(err) ||
		errors.Is(err, context.Canceled)
}

// evict keeps the hot cache consistent after the store deleted tiles.
func (e *execution) evict(hashes []string) {
	if len(hashes) == 0 {
		return
	}
	if err := e.w.tiles.Delete(e.ctx, hashes...); err != nil {
		e.log.Warnf("evict %d tile(s) from hot cache: %v", len(hashes), err)
	}
}

func (e *execution) VisitInit(t *task.InitTask) {
	if err := e.w.repo.Init(e.ctx); err != nil {
		e.fail(t, err)
		return
	}
	e.log.Info("tile store initialized")
}

func (e *execution) VisitSaveTile(t *task.SaveTileTask) {
	ct := t.Tile()
	if ct == nil {
		e.fail(t, fmt.Errorf("save tile: no tile given: %w", errdefs.ErrInvalidArgument))
		return
	}
	if err := e.w.repo.SaveTile(e.ctx, ct); err != nil {
		e.fail(t, err)
		return
	}
	// a stored tile may belong to several sets, so reads never carry one
	hot := *ct
	hot.Set = tile.Unassigned()
	if err := e.w.tiles.Put(e.ctx, &hot); err != nil {
		e.log.Warnf("hot cache put %s: %v", ct.Hash, err)
	}
}

func (e *execution) VisitFetchTile(t *task.FetchTileTask) {
	ct, err := e.w.tiles.Get(e.ctx, t.Hash())
	if err == nil {
		t.TileFetched(ct)
		return
	}
	if !errors.Is(err, cache.ErrMiss) {
		e.log.Warnf("hot cache get %s: %v", t.Hash(), err)
	}

	ct, err = e.w.repo.FetchTile(e.ctx, t.Hash())
	if err != nil {
		e.fail(t, err)
		return
	}
	if err := e.w.tiles.Put(e.ctx, ct); err != nil {
		e.log.Warnf("hot cache put %s: %v", ct.Hash, err)
	}
	t.TileFetched(ct)
}

func (e *execution) VisitFetchTileSets(t *task.FetchTileSetsTask) {
	n := 0
	err := e.w.repo.FetchTileSets(e.ctx, func(set *tile.TileSet) error {
		n++
		t.TileSetFetched(set)
		return nil
	})
	if err != nil {
		e.fail(t, err)
		return
	}
	e.log.Debugf("delivered %d tile set(s)", n)
}

func (e *execution) VisitCreateTileSet(t *task.CreateTileSetTask) {
	set := t.TileSet()
	if set == nil {
		e.fail(t, fmt.Errorf("create tile set: no set given: %w", errdefs.ErrInvalidArgument))
		return
	}
	id, err := e.w.repo.CreateTileSet(e.ctx, set)
	if err != nil {
		e.fail(t, err)
		return
	}
	t.TileSetSaved(id)
}

func (e *execution) VisitGetTileDownloadList(t *task.GetTileDownloadListTask) {
	tiles, err := e.w.repo.GetTileDownloadList(e.ctx, t.SetID(), t.Count())
	if err != nil {
		e.fail(t, err)
		return
	}
	t.TileListFetched(tiles)
}

func (e *execution) VisitUpdateTileDownloadState(t *task.UpdateTileDownloadStateTask) {
	if err := e.w.repo.UpdateTileDownloadState(e.ctx, t.SetID(), t.State(), t.Hash()); err != nil {
		e.fail(t, err)
	}
}

func (e *execution) VisitDeleteTileSet(t *task.DeleteTileSetTask) {
	evicted, err := e.w.repo.DeleteTileSet(e.ctx, t.SetID())
	if err != nil {
		e.fail(t, err)
		return
	}
	e.evict(evicted)
	t.TileSetDeleted()
}

func (e *execution) VisitPruneCache(t *task.PruneCacheTask) {
	evicted, err := e.w.repo.Prune(e.ctx, t.Amount())
	if err != nil {
		e.fail(t, err)
		return
	}
	e.evict(evicted)
	t.Pruned()
}

func (e *execution) VisitReset(t *task.ResetTask) {
	if err := e.w.repo.Reset(e.ctx); err != nil {
		e.fail(t, err)
		return
	}
	if err := e.w.tiles.Clear(e.ctx); err != nil {
		e.log.Warnf("clear hot cache: %v", err)
	}
	t.ResetCompleted()
}
