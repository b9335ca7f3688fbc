package route

import (
	"github.com/gin-gonic/gin"

	"github.com/bassista/go_tilecache/internal/api/controller"
	"github.com/bassista/go_tilecache/internal/worker"
)

func NewTileSetRouter(group *gin.RouterGroup, submitter worker.Submitter) {
	sc := controller.NewTileSetController(submitter)

	group.GET("tilesets", sc.AllTileSets)
	group.POST("tileset", sc.CreateTileSet)
	group.DELETE("tileset/:id", sc.DeleteTileSet)
	group.GET("tileset/:id/downloads", sc.DownloadList)
	group.PUT("tileset/:id/tile/:hash/state", sc.UpdateState)
}
