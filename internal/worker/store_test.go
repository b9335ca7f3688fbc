package worker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassista/go_tilecache/internal/cache"
	"github.com/bassista/go_tilecache/internal/repository"
	"github.com/bassista/go_tilecache/internal/task"
	"github.com/bassista/go_tilecache/internal/tile"
)

func newStoreWorker(t *testing.T) *Worker {
	t.Helper()
	return newStoreWorkerWith(t, cache.NewMemoryCache(16))
}

func newStoreWorkerWith(t *testing.T, hot cache.TileCache) *Worker {
	t.Helper()
	ctx := context.Background()
	repo, err := repository.NewSQLRepository(ctx, repository.Options{
		Driver: repository.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "tiles.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	w := New(repo, hot, Config{})
	w.Start(ctx)
	t.Cleanup(w.Stop)

	var got failures
	initTask := task.NewInitTask(got.fn())
	w.Submit(initTask)
	waitDone(t, initTask)
	require.Zero(t, got.count(), "init failed: %v", got.messages)
	return w
}

func TestStore_SaveThenFetch(t *testing.T) {
	w := newStoreWorker(t)

	var got failures
	save := task.NewSaveTileTask(tile.NewCacheTile("abc123", make([]byte, 1024), "png", tile.GoogleSatellite, tile.Assigned(42)), got.fn())
	w.Submit(save)
	waitDone(t, save)
	assert.False(t, save.Failed())

	var fetched *tile.CacheTile
	fetch := task.NewFetchTileTask("abc123", func(ct *tile.CacheTile) { fetched = ct }, got.fn())
	w.Submit(fetch)
	waitDone(t, fetch)

	assert.Zero(t, got.count())
	require.NotNil(t, fetched)
	assert.Len(t, fetched.Img, 1024)
	assert.Equal(t, "png", fetched.Format)
}

func TestStore_FetchedSetIgnoresCacheState(t *testing.T) {
	hot := cache.NewMemoryCache(16)
	w := newStoreWorkerWith(t, hot)

	var got failures
	save := task.NewSaveTileTask(tile.NewCacheTile("abc123", []byte{1, 2}, "png", tile.BingRoad, tile.Assigned(42)), got.fn())
	w.Submit(save)
	waitDone(t, save)
	require.Equal(t, 1, hot.Len())

	fetch := func() *tile.CacheTile {
		var fetched *tile.CacheTile
		tk := task.NewFetchTileTask("abc123", func(ct *tile.CacheTile) { fetched = ct }, got.fn())
		w.Submit(tk)
		waitDone(t, tk)
		require.NotNil(t, fetched)
		return fetched
	}

	fromCache := fetch()
	require.NoError(t, hot.Delete(context.Background(), "abc123"))
	fromStore := fetch()

	assert.Zero(t, got.count())
	assert.Equal(t, tile.Unassigned(), fromCache.Set)
	assert.Equal(t, fromStore.Set, fromCache.Set)
	assert.Equal(t, fromStore.Img, fromCache.Img)
}

func TestStore_CreateTileSet(t *testing.T) {
	w := newStoreWorker(t)

	set := &tile.TileSet{
		Name:           "Mission1",
		Type:           tile.OpenStreetMap,
		TopLeftLat:     47.5,
		TopLeftLon:     8.4,
		BottomRightLat: 47.3,
		BottomRightLon: 8.6,
		MinZoom:        10,
		MaxZoom:        11,
	}
	var got failures
	savedCalls := 0
	create := task.NewCreateTileSetTask(set, func(s *tile.TileSet) {
		savedCalls++
		assert.Same(t, set, s)
	}, got.fn())
	w.Submit(create)
	waitDone(t, create)

	assert.Zero(t, got.count(), "%v", got.messages)
	assert.Equal(t, 1, savedCalls)
	assert.True(t, create.Saved())
	assert.True(t, set.ID.Valid)
	assert.Positive(t, set.TotalTileCount)

	var list []tile.Tile
	listTask := task.NewGetTileDownloadListTask(set.ID.ID, 3, func(tiles []tile.Tile) { list = tiles }, got.fn())
	w.Submit(listTask)
	waitDone(t, listTask)
	assert.Len(t, list, 3)
	for _, tl := range list {
		assert.Equal(t, set.ID, tl.Set)
		assert.Equal(t, tile.OpenStreetMap, tl.Type)
	}
}

func TestStore_ResetLeavesNoSets(t *testing.T) {
	w := newStoreWorker(t)

	var got failures
	save := task.NewSaveTileTask(tile.NewCacheTile("abc123", []byte{1}, "png", tile.BingRoad, tile.Unassigned()), got.fn())
	w.Submit(save)

	resets := 0
	reset := task.NewResetTask(func() { resets++ }, got.fn())
	w.Submit(reset)
	waitDone(t, reset)
	assert.Equal(t, 1, resets)

	sets := 0
	fetchSets := task.NewFetchTileSetsTask(func(*tile.TileSet) { sets++ }, got.fn())
	w.Submit(fetchSets)
	waitDone(t, fetchSets)
	assert.Zero(t, sets)

	fetch := task.NewFetchTileTask("abc123", func(*tile.CacheTile) { t.Error("tile survived reset") }, got.fn())
	w.Submit(fetch)
	waitDone(t, fetch)
	require.Equal(t, 1, got.count())
	assert.Equal(t, []task.Kind{task.KindFetchTile}, got.kinds)
}
