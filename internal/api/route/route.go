package route

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bassista/go_tilecache/internal/api/middleware"
	"github.com/bassista/go_tilecache/internal/app"
)

// SetupRoutes builds the HTTP engine for the tile cache API.
func SetupRoutes(appCtx *app.App, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.HoneybadgerMiddleware(logger))
	r.Use(gin.LoggerWithWriter(logger.Writer()))
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(appCtx.Config.Server.CORSAllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":      "UP",
			"pendingTasks": appCtx.Worker.Pending(),
		})
	})

	publicRouter := r.Group("")
	publicRouter.Use(middleware.RequestTimeout(appCtx.Config.Server.RequestTimeout))

	NewTileRouter(publicRouter, appCtx.Worker)
	NewTileSetRouter(publicRouter, appCtx.Worker)
	NewCacheRouter(publicRouter, appCtx.Worker)

	return r
}
