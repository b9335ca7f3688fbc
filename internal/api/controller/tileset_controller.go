package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_tilecache/internal/logger"
	"github.com/bassista/go_tilecache/internal/task"
	"github.com/bassista/go_tilecache/internal/tile"
	"github.com/bassista/go_tilecache/internal/worker"
)

const (
	defaultDownloadCount = 16
	maxDownloadCount     = 1024
)

type TileSetController struct {
	submitter worker.Submitter
}

func NewTileSetController(submitter worker.Submitter) *TileSetController {
	return &TileSetController{submitter: submitter}
}

type createTileSetRequest struct {
	Name           string       `json:"name" binding:"required"`
	Type           tile.MapType `json:"type" binding:"required"`
	TopLeftLat     float64      `json:"topleftLat"`
	TopLeftLon     float64      `json:"topleftLon"`
	BottomRightLat float64      `json:"bottomRightLat"`
	BottomRightLon float64      `json:"bottomRightLon"`
	MinZoom        int          `json:"minZoom"`
	MaxZoom        int          `json:"maxZoom"`
}

type updateStateRequest struct {
	State tile.State `json:"state"`
}

// AllTileSets handles GET /tilesets.
func (tc *TileSetController) AllTileSets(c *gin.Context) {
	var (
		sets []*tile.TileSet
		f    failure
	)
	t := task.NewFetchTileSetsTask(func(s *tile.TileSet) { sets = append(sets, s) }, f.record)
	err := submitAndWait(c.Request.Context(), tc.submitter, t)
	if abortTask(c, err, &f) {
		return
	}
	if sets == nil {
		sets = []*tile.TileSet{}
	}
	c.JSON(http.StatusOK, sets)
}

// CreateTileSet handles POST /tileset.
func (tc *TileSetController) CreateTileSet(c *gin.Context) {
	var req createTileSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}
	set := &tile.TileSet{
		Name:           req.Name,
		MapTypeName:    req.Type.String(),
		Type:           req.Type,
		TopLeftLat:     req.TopLeftLat,
		TopLeftLon:     req.TopLeftLon,
		BottomRightLat: req.BottomRightLat,
		BottomRightLon: req.BottomRightLon,
		MinZoom:        req.MinZoom,
		MaxZoom:        req.MaxZoom,
	}
	if err := set.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var f failure
	t := task.NewCreateTileSetTask(set, nil, f.record)
	err := submitAndWait(c.Request.Context(), tc.submitter, t)
	if abortTask(c, err, &f) {
		return
	}
	if !t.Saved() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tile set was not saved"})
		return
	}
	logger.WithComponent("tileset-controller").Infof("created tile set %q id=%s with %d tiles", set.Name, set.ID, set.TotalTileCount)
	c.JSON(http.StatusCreated, set)
}

// DeleteTileSet handles DELETE /tileset/:id.
func (tc *TileSetController) DeleteTileSet(c *gin.Context) {
	id, ok := setIDParam(c)
	if !ok {
		return
	}

	var (
		deleted bool
		f       failure
	)
	t := task.NewDeleteTileSetTask(id, func(tile.SetID) { deleted = true }, f.record)
	err := submitAndWait(c.Request.Context(), tc.submitter, t)
	if abortTask(c, err, &f) {
		return
	}
	if !deleted {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tile set was not deleted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// DownloadList handles GET /tileset/:id/downloads?count=N. The returned tiles are
// marked as downloading.
func (tc *TileSetController) DownloadList(c *gin.Context) {
	id, ok := setIDParam(c)
	if !ok {
		return
	}
	count := defaultDownloadCount
	if v := c.Query("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxDownloadCount {
			c.JSON(http.StatusBadRequest, gin.H{"error": "count must be an integer between 0 and " + strconv.Itoa(maxDownloadCount)})
			return
		}
		count = n
	}

	var (
		tiles []tile.Tile
		f     failure
	)
	t := task.NewGetTileDownloadListTask(id, count, func(list []tile.Tile) { tiles = list }, f.record)
	err := submitAndWait(c.Request.Context(), tc.submitter, t)
	if abortTask(c, err, &f) {
		return
	}
	if tiles == nil {
		tiles = []tile.Tile{}
	}
	c.JSON(http.StatusOK, tiles)
}

// UpdateState handles PUT /tileset/:id/tile/:hash/state. Hash "*" updates every tile.
func (tc *TileSetController) UpdateState(c *gin.Context) {
	id, ok := setIDParam(c)
	if !ok {
		return
	}
	var req updateStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}

	var f failure
	t := task.NewUpdateTileDownloadStateTask(id, req.State, c.Param("hash"), f.record)
	err := submitAndWait(c.Request.Context(), tc.submitter, t)
	if abortTask(c, err, &f) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "hash": c.Param("hash"), "state": req.State})
}

func setIDParam(c *gin.Context) (tile.SetID, bool) {
	id, err := tile.ParseSetID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return id, true
}
