package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_tilecache/internal/logger"
	"github.com/bassista/go_tilecache/internal/task"
	"github.com/bassista/go_tilecache/internal/tile"
	"github.com/bassista/go_tilecache/internal/worker"
)

type TileController struct {
	submitter worker.Submitter
}

func NewTileController(submitter worker.Submitter) *TileController {
	return &TileController{submitter: submitter}
}

type saveTileRequest struct {
	Hash   string         `json:"hash" binding:"required,max=64"`
	Format string         `json:"format" binding:"required,max=8"`
	Type   tile.MapType   `json:"type" binding:"required"`
	Set    tile.NullSetID `json:"set"`
	Data   []byte         `json:"data" binding:"required"`
}

// GetTile handles GET /tile/:hash and writes the raw payload.
func (tc *TileController) GetTile(c *gin.Context) {
	hash := c.Param("hash")
	if hash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing tile hash"})
		return
	}

	var (
		fetched *tile.CacheTile
		f       failure
	)
	t := task.NewFetchTileTask(hash, func(ct *tile.CacheTile) { fetched = ct }, f.record)
	err := submitAndWait(c.Request.Context(), tc.submitter, t)
	if abortTask(c, err, &f) {
		return
	}
	if fetched == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tile not found"})
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, tile.ContentType(fetched.Format), fetched.Img)
}

// SaveTile handles POST /tile. Saving has no success notification, so 202 means the
// worker processed the tile without reporting an error.
func (tc *TileController) SaveTile(c *gin.Context) {
	var req saveTileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}
	if !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid map type"})
		return
	}

	var f failure
	t := task.NewSaveTileTask(tile.NewCacheTile(req.Hash, req.Data, req.Format, req.Type, req.Set), f.record)
	err := submitAndWait(c.Request.Context(), tc.submitter, t)
	if abortTask(c, err, &f) {
		return
	}
	logger.WithComponent("tile-controller").Debugf("saved tile %s (%d bytes)", req.Hash, len(req.Data))
	c.JSON(http.StatusAccepted, gin.H{"hash": req.Hash, "size": len(req.Data)})
}
