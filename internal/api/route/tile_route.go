package route

import (
	"github.com/gin-gonic/gin"

	"github.com/bassista/go_tilecache/internal/api/controller"
	"github.com/bassista/go_tilecache/internal/worker"
)

func NewTileRouter(group *gin.RouterGroup, submitter worker.Submitter) {
	tc := controller.NewTileController(submitter)

	group.GET("tile/:hash", tc.GetTile)
	group.POST("tile", tc.SaveTile)
}
