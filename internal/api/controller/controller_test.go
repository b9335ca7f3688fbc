package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassista/go_tilecache/internal/task"
	"github.com/bassista/go_tilecache/internal/tile"
	"github.com/bassista/go_tilecache/internal/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeWorker runs every submitted task synchronously against in-memory state.
type fakeWorker struct {
	mu      sync.Mutex
	tiles   map[string]*tile.CacheTile
	sets    []*tile.TileSet
	states  map[string]tile.State
	failAll string
	hold    bool
	pruned  []uint64
	resets  int
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{tiles: map[string]*tile.CacheTile{}, states: map[string]tile.State{}}
}

func (f *fakeWorker) Submit(t task.Task) {
	if f.hold {
		return // never released
	}
	defer t.Release()
	if f.failAll != "" {
		t.Fail(f.failAll)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Accept(f)
}

func (f *fakeWorker) VisitInit(*task.InitTask) {}

func (f *fakeWorker) VisitSaveTile(t *task.SaveTileTask) {
	f.tiles[t.Tile().Hash] = t.Tile()
}

func (f *fakeWorker) VisitFetchTile(t *task.FetchTileTask) {
	ct, ok := f.tiles[t.Hash()]
	if !ok {
		t.Fail(fmt.Sprintf("tile %s: %v", t.Hash(), errdefs.ErrNotFound))
		return
	}
	t.TileFetched(ct)
}

func (f *fakeWorker) VisitFetchTileSets(t *task.FetchTileSetsTask) {
	for _, s := range f.sets {
		t.TileSetFetched(s)
	}
}

func (f *fakeWorker) VisitCreateTileSet(t *task.CreateTileSetTask) {
	for _, s := range f.sets {
		if s.Name == t.TileSet().Name {
			t.Fail(fmt.Sprintf("tile set %q: %v", s.Name, errdefs.ErrAlreadyExists))
			return
		}
	}
	f.sets = append(f.sets, t.TileSet())
	t.TileSetSaved(tile.SetID(len(f.sets) + 1))
}

func (f *fakeWorker) VisitGetTileDownloadList(t *task.GetTileDownloadListTask) {
	if t.SetID() != 2 {
		t.Fail(fmt.Sprintf("tile set %d: %v", t.SetID(), errdefs.ErrNotFound))
		return
	}
	list := make([]tile.Tile, 0, t.Count())
	for i := 0; i < t.Count(); i++ {
		list = append(list, tile.Tile{X: i, Y: 1, Z: 10, Set: tile.Assigned(2), Type: tile.OpenStreetMap})
	}
	t.TileListFetched(list)
}

func (f *fakeWorker) VisitUpdateTileDownloadState(t *task.UpdateTileDownloadStateTask) {
	if !t.State().Valid() {
		t.Fail(fmt.Sprintf("invalid tile state %d: %v", t.State(), errdefs.ErrInvalidArgument))
		return
	}
	f.states[t.Hash()] = t.State()
}

func (f *fakeWorker) VisitDeleteTileSet(t *task.DeleteTileSetTask) {
	if t.SetID() == 1 {
		t.Fail(fmt.Sprintf("cannot delete default tile set: %v", errdefs.ErrInvalidArgument))
		return
	}
	if t.SetID() != 2 {
		t.Fail(fmt.Sprintf("tile set %d: %v", t.SetID(), errdefs.ErrNotFound))
		return
	}
	t.TileSetDeleted()
}

func (f *fakeWorker) VisitPruneCache(t *task.PruneCacheTask) {
	f.pruned = append(f.pruned, t.Amount())
	t.Pruned()
}

func (f *fakeWorker) VisitReset(t *task.ResetTask) {
	f.resets++
	f.tiles = map[string]*tile.CacheTile{}
	f.sets = nil
	t.ResetCompleted()
}

func newRouter(w worker.Submitter) *gin.Engine {
	r := gin.New()
	tc := NewTileController(w)
	sc := NewTileSetController(w)
	cc := NewCacheController(w)
	r.GET("/tile/:hash", tc.GetTile)
	r.POST("/tile", tc.SaveTile)
	r.GET("/tilesets", sc.AllTileSets)
	r.POST("/tileset", sc.CreateTileSet)
	r.DELETE("/tileset/:id", sc.DeleteTileSet)
	r.GET("/tileset/:id/downloads", sc.DownloadList)
	r.PUT("/tileset/:id/tile/:hash/state", sc.UpdateState)
	r.POST("/cache/prune", cc.Prune)
	r.POST("/cache/reset", cc.Reset)
	return r
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		message string
		want    int
	}{
		{"tile abc: not found", http.StatusNotFound},
		{"tile set \"x\": already exists", http.StatusConflict},
		{"invalid tile state 9: invalid argument", http.StatusBadRequest},
		{worker.ErrStopped.Error(), http.StatusServiceUnavailable},
		{"database is locked", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.message))
		})
	}
}

func TestTileController_SaveThenGet(t *testing.T) {
	fw := newFakeWorker()
	r := newRouter(fw)

	w := do(r, http.MethodPost, "/tile", gin.H{
		"hash":   "abc123",
		"format": "png",
		"type":   "Google Satellite Map",
		"set":    42,
		"data":   []byte{0x89, 'P', 'N', 'G'},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/tile/abc123", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, w.Body.Bytes())

	saved := fw.tiles["abc123"]
	require.NotNil(t, saved)
	assert.Equal(t, tile.Assigned(42), saved.Set)
	assert.Equal(t, tile.GoogleSatellite, saved.Type)
}

func TestTileController_SaveInvalid(t *testing.T) {
	r := newRouter(newFakeWorker())

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing hash", gin.H{"format": "png", "type": 1, "data": []byte{1}}},
		{"missing data", gin.H{"hash": "a", "format": "png", "type": 1}},
		{"unknown type", gin.H{"hash": "a", "format": "png", "type": "Atlas", "data": []byte{1}}},
		{"out of range type", gin.H{"hash": "a", "format": "png", "type": 99, "data": []byte{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/tile", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestTileController_GetMissing(t *testing.T) {
	r := newRouter(newFakeWorker())
	w := do(r, http.MethodGet, "/tile/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")
}

func TestTileController_StoreFailure(t *testing.T) {
	fw := newFakeWorker()
	fw.failAll = "database is locked"
	r := newRouter(fw)

	w := do(r, http.MethodGet, "/tile/abc", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "database is locked")
}

func TestTileController_RequestTimeout(t *testing.T) {
	fw := newFakeWorker()
	fw.hold = true
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Millisecond)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.GET("/tile/:hash", NewTileController(fw).GetTile)

	w := do(r, http.MethodGet, "/tile/abc", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestTileSetController_CreateListDelete(t *testing.T) {
	fw := newFakeWorker()
	r := newRouter(fw)

	body := gin.H{
		"name":           "Mission1",
		"type":           "Open Street Map",
		"topleftLat":     47.5,
		"topleftLon":     8.4,
		"bottomRightLat": 47.3,
		"bottomRightLon": 8.6,
		"minZoom":        10,
		"maxZoom":        12,
	}
	w := do(r, http.MethodPost, "/tileset", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Mission1", created["name"])
	assert.Equal(t, float64(2), created["id"])
	assert.Equal(t, true, created["saved"])

	w = do(r, http.MethodPost, "/tileset", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/tilesets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sets []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sets))
	require.Len(t, sets, 1)

	w = do(r, http.MethodDelete, "/tileset/2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodDelete, "/tileset/1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodDelete, "/tileset/77", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(r, http.MethodDelete, "/tileset/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTileSetController_CreateInvalid(t *testing.T) {
	r := newRouter(newFakeWorker())

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing name", gin.H{"type": 7, "minZoom": 1, "maxZoom": 2}},
		{"inverted zoom", gin.H{"name": "x", "type": 7, "minZoom": 5, "maxZoom": 2}},
		{"inverted box", gin.H{"name": "x", "type": 7, "topleftLat": 10, "bottomRightLat": 20}},
		{"latitude out of range", gin.H{"name": "x", "type": 7, "topleftLat": 95, "bottomRightLat": 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/tileset", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestTileSetController_EmptyList(t *testing.T) {
	r := newRouter(newFakeWorker())
	w := do(r, http.MethodGet, "/tilesets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestTileSetController_DownloadList(t *testing.T) {
	r := newRouter(newFakeWorker())

	w := do(r, http.MethodGet, "/tileset/2/downloads?count=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tiles []tile.Tile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tiles))
	assert.Len(t, tiles, 3)

	w = do(r, http.MethodGet, "/tileset/2/downloads", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tiles))
	assert.Len(t, tiles, defaultDownloadCount)

	w = do(r, http.MethodGet, "/tileset/2/downloads?count=0", nil)
	assert.JSONEq(t, "[]", w.Body.String())

	for _, bad := range []string{"many", "-1", "1025"} {
		w = do(r, http.MethodGet, "/tileset/2/downloads?count="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "count=%s", bad)
	}
	w = do(r, http.MethodGet, "/tileset/9/downloads", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTileSetController_UpdateState(t *testing.T) {
	fw := newFakeWorker()
	r := newRouter(fw)

	w := do(r, http.MethodPut, "/tileset/2/tile/abc123/state", gin.H{"state": "error"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, tile.StateError, fw.states["abc123"])

	w = do(r, http.MethodPut, "/tileset/2/tile/*/state", gin.H{"state": "pending"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, tile.StatePending, fw.states[task.AllTiles])

	w = do(r, http.MethodPut, "/tileset/2/tile/abc123/state", gin.H{"state": "finished"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCacheController_PruneAndReset(t *testing.T) {
	fw := newFakeWorker()
	r := newRouter(fw)

	w := do(r, http.MethodPost, "/cache/prune", gin.H{"amount": 4096})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/cache/prune", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uint64{4096, 0}, fw.pruned)

	w = do(r, http.MethodPost, "/cache/prune", gin.H{"amount": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/cache/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, fw.resets)
}

func TestCacheController_Stopped(t *testing.T) {
	fw := newFakeWorker()
	fw.failAll = worker.ErrStopped.Error()
	r := newRouter(fw)

	w := do(r, http.MethodPost, "/cache/reset", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
