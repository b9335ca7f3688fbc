package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassista/go_tilecache/internal/cache"
	"github.com/bassista/go_tilecache/internal/task"
	"github.com/bassista/go_tilecache/internal/tile"
)

// mockRepo is an in-memory TileRepository with hooks for failure injection.
type mockRepo struct {
	mu        sync.Mutex
	tiles     map[string]*tile.CacheTile
	sets      []*tile.TileSet
	fetches   int
	calls     []string
	failWith  error
	listExtra int
	block     chan struct{}
}

func newMockRepo() *mockRepo {
	return &mockRepo{tiles: map[string]*tile.CacheTile{}}
}

func (m *mockRepo) record(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
	return m.failWith
}

func (m *mockRepo) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockRepo) Init(ctx context.Context) error {
	if m.block != nil {
		<-m.block
	}
	return m.record("init")
}

func (m *mockRepo) SaveTile(ctx context.Context, ct *tile.CacheTile) error {
	if err := m.record("save:" + ct.Hash); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[ct.Hash] = ct
	return nil
}

func (m *mockRepo) FetchTile(ctx context.Context, hash string) (*tile.CacheTile, error) {
	if err := m.record("fetch:" + hash); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	ct, ok := m.tiles[hash]
	if !ok {
		return nil, fmt.Errorf("tile %s: %w", hash, errdefs.ErrNotFound)
	}
	return ct, nil
}

func (m *mockRepo) FetchTileSets(ctx context.Context, fn func(*tile.TileSet) error) error {
	if err := m.record("sets"); err != nil {
		// deliver one set before failing
		if len(m.sets) > 0 {
			_ = fn(m.sets[0])
		}
		return err
	}
	for _, s := range m.sets {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockRepo) CreateTileSet(ctx context.Context, set *tile.TileSet) (tile.SetID, error) {
	if err := m.record("create:" + set.Name); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets = append(m.sets, set)
	return tile.SetID(len(m.sets)), nil
}

func (m *mockRepo) GetTileDownloadList(ctx context.Context, setID tile.SetID, count int) ([]tile.Tile, error) {
	if err := m.record("list"); err != nil {
		return nil, err
	}
	return make([]tile.Tile, count+m.listExtra), nil
}

func (m *mockRepo) UpdateTileDownloadState(ctx context.Context, setID tile.SetID, state tile.State, hash string) error {
	return m.record("state:" + hash)
}

func (m *mockRepo) DeleteTileSet(ctx context.Context, setID tile.SetID) ([]string, error) {
	if err := m.record("delete"); err != nil {
		return nil, err
	}
	if setID == 404 {
		return nil, fmt.Errorf("delete tile set %d: %w", setID, errdefs.ErrNotFound)
	}
	return []string{"abc123"}, nil
}

func (m *mockRepo) Prune(ctx context.Context, amount uint64) ([]string, error) {
	if err := m.record("prune"); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, nil
	}
	return []string{"abc123"}, nil
}

func (m *mockRepo) Reset(ctx context.Context) error { return m.record("reset") }

func (m *mockRepo) CacheSize(ctx context.Context) (int64, error) { return 0, nil }

func (m *mockRepo) Close() error { return nil }

func startWorker(t *testing.T, repo *mockRepo, tiles cache.TileCache) *Worker {
	t.Helper()
	w := New(repo, tiles, Config{TaskTimeout: time.Second})
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	return w
}

func waitDone(t *testing.T, tk task.Task) {
	t.Helper()
	select {
	case <-tk.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s did not complete", tk.Kind())
	}
}

type failures struct {
	mu       sync.Mutex
	kinds    []task.Kind
	messages []string
}

func (f *failures) fn() task.ErrorFunc {
	return func(kind task.Kind, message string) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.kinds = append(f.kinds, kind)
		f.messages = append(f.messages, message)
	}
}

func (f *failures) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestWorker_RunsTasksInSubmissionOrder(t *testing.T) {
	repo := newMockRepo()
	repo.block = make(chan struct{})
	w := startWorker(t, repo, nil)

	first := task.NewInitTask(nil)
	w.Submit(first)
	var last task.Task
	for i := 0; i < 50; i++ {
		last = task.NewUpdateTileDownloadStateTask(1, tile.StateComplete, fmt.Sprintf("h%02d", i), nil)
		w.Submit(last)
	}
	// Submit returned while the worker is still blocked on the first task.
	assert.GreaterOrEqual(t, w.Pending(), 49)
	close(repo.block)
	waitDone(t, last)

	calls := repo.Calls()
	require.Len(t, calls, 51)
	assert.Equal(t, "init", calls[0])
	for i := 0; i < 50; i++ {
		assert.Equal(t, fmt.Sprintf("state:h%02d", i), calls[i+1])
	}
}

func TestWorker_ForwardsStoreErrorsVerbatim(t *testing.T) {
	repo := newMockRepo()
	repo.failWith = errors.New("database is locked")
	w := startWorker(t, repo, nil)

	var got failures
	var deleted bool
	tk := task.NewDeleteTileSetTask(7, func(tile.SetID) { deleted = true }, got.fn())
	w.Submit(tk)
	waitDone(t, tk)

	assert.False(t, deleted)
	assert.True(t, tk.Failed())
	assert.Equal(t, []task.Kind{task.KindDeleteTileSet}, got.kinds)
	assert.Equal(t, []string{"database is locked"}, got.messages)
}

func TestWorker_UnexpectedErrorsReachHandler(t *testing.T) {
	repo := newMockRepo()
	w := New(repo, nil, Config{})
	var mu sync.Mutex
	var handled []error
	w.SetErrorHandler(func(_ task.Task, err error) {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, err)
	})
	w.Start(context.Background())
	t.Cleanup(w.Stop)

	notFound := task.NewDeleteTileSetTask(404, nil, nil)
	w.Submit(notFound)
	waitDone(t, notFound)

	repo.mu.Lock()
	repo.failWith = errors.New("disk full")
	repo.mu.Unlock()
	reset := task.NewResetTask(nil, nil)
	w.Submit(reset)
	waitDone(t, reset)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, handled, 1)
	assert.EqualError(t, handled[0], "disk full")
}

func TestWorker_FetchTileReadsThroughCache(t *testing.T) {
	repo := newMockRepo()
	hot := cache.NewMemoryCache(8)
	w := startWorker(t, repo, hot)

	save := task.NewSaveTileTask(tile.NewCacheTile("abc123", make([]byte, 1024), "png", tile.GoogleSatellite, tile.Assigned(42)), nil)
	w.Submit(save)
	waitDone(t, save)
	assert.Nil(t, save.Tile(), "payload dropped on release")
	assert.Equal(t, 1, hot.Len())

	var fetched *tile.CacheTile
	fetch := task.NewFetchTileTask("abc123", func(ct *tile.CacheTile) { fetched = ct }, nil)
	w.Submit(fetch)
	waitDone(t, fetch)
	require.NotNil(t, fetched)
	assert.Len(t, fetched.Img, 1024)
	assert.Equal(t, 0, repo.fetches, "served from hot cache")

	require.NoError(t, hot.Clear(context.Background()))
	fetch = task.NewFetchTileTask("abc123", func(ct *tile.CacheTile) { fetched = ct }, nil)
	w.Submit(fetch)
	waitDone(t, fetch)
	assert.Equal(t, 1, repo.fetches)
	assert.Equal(t, 1, hot.Len(), "miss repopulates the cache")
}

func TestWorker_FetchTileMissingReportsError(t *testing.T) {
	w := startWorker(t, newMockRepo(), nil)

	var got failures
	called := false
	tk := task.NewFetchTileTask("nope", func(*tile.CacheTile) { called = true }, got.fn())
	w.Submit(tk)
	waitDone(t, tk)

	assert.False(t, called)
	require.Equal(t, 1, got.count())
	assert.Contains(t, got.messages[0], "not found")
}

func TestWorker_DeleteAndPruneEvictHotCache(t *testing.T) {
	repo := newMockRepo()
	hot := cache.NewMemoryCache(8)
	w := startWorker(t, repo, hot)
	ctx := context.Background()

	require.NoError(t, hot.Put(ctx, tile.NewCacheTile("abc123", []byte{1}, "png", tile.BingRoad, tile.Unassigned())))
	var deletedID tile.SetID
	del := task.NewDeleteTileSetTask(9, func(id tile.SetID) { deletedID = id }, nil)
	w.Submit(del)
	waitDone(t, del)
	assert.Equal(t, tile.SetID(9), deletedID)
	assert.Equal(t, 0, hot.Len())

	require.NoError(t, hot.Put(ctx, tile.NewCacheTile("abc123", []byte{1}, "png", tile.BingRoad, tile.Unassigned())))
	pruned := 0
	prune := task.NewPruneCacheTask(0, func() { pruned++ }, nil)
	w.Submit(prune)
	waitDone(t, prune)
	assert.Equal(t, 1, pruned, "zero amount still reports")
	assert.Equal(t, 1, hot.Len(), "zero amount evicts nothing")
}

func TestWorker_FetchTileSetsMultiShotThenError(t *testing.T) {
	repo := newMockRepo()
	repo.sets = []*tile.TileSet{{Name: "a"}, {Name: "b"}}
	w := startWorker(t, repo, nil)

	var names []string
	var got failures
	tk := task.NewFetchTileSetsTask(func(s *tile.TileSet) { names = append(names, s.Name) }, got.fn())
	w.Submit(tk)
	waitDone(t, tk)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, 0, got.count())

	repo.mu.Lock()
	repo.failWith = errors.New("read failed")
	repo.mu.Unlock()
	names = nil
	tk = task.NewFetchTileSetsTask(func(s *tile.TileSet) { names = append(names, s.Name) }, got.fn())
	w.Submit(tk)
	waitDone(t, tk)
	assert.Equal(t, []string{"a"}, names)
	assert.Equal(t, []string{"read failed"}, got.messages)
}

func TestWorker_CreateTileSetMarksSaved(t *testing.T) {
	w := startWorker(t, newMockRepo(), nil)

	set := &tile.TileSet{Name: "Mission1"}
	saved := 0
	tk := task.NewCreateTileSetTask(set, func(*tile.TileSet) { saved++ }, nil)
	w.Submit(tk)
	waitDone(t, tk)

	assert.Equal(t, 1, saved)
	assert.True(t, set.Saved())
	assert.True(t, set.ID.Valid)
}

func TestWorker_ContainsPanics(t *testing.T) {
	repo := newMockRepo()
	repo.listExtra = 1 // store hands back more tiles than asked for
	w := New(repo, nil, Config{})
	var mu sync.Mutex
	var handled []error
	w.SetErrorHandler(func(_ task.Task, err error) {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, err)
	})
	w.Start(context.Background())
	t.Cleanup(w.Stop)

	var got failures
	listed := false
	list := task.NewGetTileDownloadListTask(1, 3, func([]tile.Tile) { listed = true }, got.fn())
	w.Submit(list)
	waitDone(t, list)
	assert.False(t, listed)
	require.Equal(t, 1, got.count())
	assert.Contains(t, got.messages[0], "protocol violation")

	boom := task.NewResetTask(func() { panic("callback exploded") }, got.fn())
	w.Submit(boom)
	waitDone(t, boom)

	// the worker keeps running
	after := task.NewInitTask(nil)
	w.Submit(after)
	waitDone(t, after)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, handled, 2)
	var pe *task.ProtocolError
	assert.ErrorAs(t, handled[0], &pe)
	assert.Contains(t, handled[1].Error(), "callback exploded")
}

func TestWorker_StopFailsQueuedAndLateTasks(t *testing.T) {
	repo := newMockRepo()
	repo.block = make(chan struct{})
	w := New(repo, nil, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := w.Start(ctx)

	blocker := task.NewInitTask(nil)
	w.Submit(blocker)

	var got failures
	queued := task.NewResetTask(nil, got.fn())
	w.Submit(queued)

	cancel()
	close(repo.block)
	<-done

	waitDone(t, blocker)
	waitDone(t, queued)
	late := task.NewPruneCacheTask(10, nil, got.fn())
	w.Submit(late)
	waitDone(t, late)

	assert.Equal(t, []string{ErrStopped.Error(), ErrStopped.Error()}, got.messages)
	assert.Equal(t, []task.Kind{task.KindReset, task.KindPruneCache}, got.kinds)
	assert.NotContains(t, repo.Calls(), "reset")
	w.Stop()
}

func TestWorker_StopBeforeStart(t *testing.T) {
	w := New(newMockRepo(), nil, Config{})
	var got failures
	queued := task.NewInitTask(got.fn())
	w.Submit(queued)
	w.Stop()
	waitDone(t, queued)
	assert.Equal(t, 1, got.count())
}
