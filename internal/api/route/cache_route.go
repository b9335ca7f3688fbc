package route

import (
	"github.com/gin-gonic/gin"

	"github.com/bassista/go_tilecache/internal/api/controller"
	"github.com/bassista/go_tilecache/internal/worker"
)

func NewCacheRouter(group *gin.RouterGroup, submitter worker.Submitter) {
	cc := controller.NewCacheController(submitter)

	group.POST("cache/prune", cc.Prune)
	group.POST("cache/reset", cc.Reset)
}
