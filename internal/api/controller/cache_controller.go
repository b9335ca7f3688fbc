package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_tilecache/internal/logger"
	"github.com/bassista/go_tilecache/internal/task"
	"github.com/bassista/go_tilecache/internal/worker"
)

type CacheController struct {
	submitter worker.Submitter
}

func NewCacheController(submitter worker.Submitter) *CacheController {
	return &CacheController{submitter: submitter}
}

type pruneRequest struct {
	Amount uint64 `json:"amount"`
}

// Prune handles POST /cache/prune. An empty body prunes nothing.
func (cc *CacheController) Prune(c *gin.Context) {
	var req pruneRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
			return
		}
	}

	var (
		pruned bool
		f      failure
	)
	t := task.NewPruneCacheTask(req.Amount, func() { pruned = true }, f.record)
	err := submitAndWait(c.Request.Context(), cc.submitter, t)
	if abortTask(c, err, &f) {
		return
	}
	if !pruned {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prune did not complete"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": req.Amount})
}

// Reset handles POST /cache/reset. Every tile and tile set is removed.
func (cc *CacheController) Reset(c *gin.Context) {
	var (
		done bool
		f    failure
	)
	t := task.NewResetTask(func() { done = true }, f.record)
	err := submitAndWait(c.Request.Context(), cc.submitter, t)
	if abortTask(c, err, &f) {
		return
	}
	if !done {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset did not complete"})
		return
	}
	logger.WithComponent("cache-controller").Warn("tile cache reset")
	c.JSON(http.StatusOK, gin.H{"message": "cache reset"})
}
