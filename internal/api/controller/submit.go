package controller

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/gin-gonic/gin"

	"github.com/bassista/go_tilecache/internal/task"
	"github.com/bassista/go_tilecache/internal/worker"
)

// failure captures the error notification of one task. It is only read after the task's
// Done channel has closed.
type failure struct {
	message string
	failed  bool
}

func (f *failure) record(_ task.Kind, message string) {
	f.message = message
	f.failed = true
}

// submitAndWait hands t to the worker and blocks until the worker released it or ctx ends.
// The task keeps running after a ctx timeout; its callbacks must not touch the response.
func submitAndWait(ctx context.Context, s worker.Submitter, t task.Task) error {
	s.Submit(t)
	select {
	case <-t.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// statusFor maps a task error message to an HTTP status. Store errors end with the
// errdefs class they wrap.
func statusFor(message string) int {
	switch {
	case strings.HasSuffix(message, errdefs.ErrNotFound.Error()):
		return http.StatusNotFound
	case strings.HasSuffix(message, errdefs.ErrAlreadyExists.Error()):
		return http.StatusConflict
	case strings.HasSuffix(message, errdefs.ErrInvalidArgument.Error()):
		return http.StatusBadRequest
	case message == worker.ErrStopped.Error():
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortTask writes the response for a task that did not succeed. It returns false when
// the task finished without error.
func abortTask(c *gin.Context, waitErr error, f *failure) bool {
	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) {
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "request timeout"})
			return true
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": waitErr.Error()})
		return true
	}
	if f.failed {
		c.AbortWithStatusJSON(statusFor(f.message), gin.H{"error": f.message})
		return true
	}
	return false
}
