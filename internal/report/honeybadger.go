// Package report forwards unexpected failures to Honeybadger when HONEYBADGER_API_KEY is set.
package report

import (
	"os"
	"sync"
	"sync/atomic"

	honeybadger "github.com/honeybadger-io/honeybadger-go"
	"github.com/sirupsen/logrus"

	"github.com/bassista/go_tilecache/internal/logger"
	"github.com/bassista/go_tilecache/internal/task"
)

var (
	configureOnce sync.Once
	// read by the worker goroutine while routes may still be configuring
	enabled atomic.Bool
)

// Configure sets up the Honeybadger client from the environment. Later calls return the
// first result.
func Configure(log *logrus.Logger) bool {
	configureOnce.Do(func() {
		apiKey := os.Getenv("HONEYBADGER_API_KEY")
		if apiKey == "" {
			log.Info("Honeybadger is not active. To enable error reporting, set the HONEYBADGER_API_KEY environment variable.")
			return
		}
		honeybadger.Configure(honeybadger.Configuration{
			APIKey: apiKey,
			Env:    os.Getenv("GO_ENV"),
		})
		enabled.Store(true)
		log.Info("Honeybadger error reporting is enabled.")
	})
	return enabled.Load()
}

// Enabled reports whether Configure found an API key.
func Enabled() bool { return enabled.Load() }

// TaskError is the worker hook for failed tasks and recovered panics.
func TaskError(t task.Task, err error) {
	logger.WithComponent("worker").WithFields(logrus.Fields{
		"task_id":   t.ID(),
		"task_kind": t.Kind(),
	}).Errorf("task failed: %v", err)
	if !enabled.Load() {
		return
	}
	if _, nerr := honeybadger.Notify(err,
		honeybadger.Context{"task_id": t.ID().String(), "task_kind": t.Kind().String()},
		honeybadger.Tags{"task", t.Kind().String()}); nerr != nil {
		logger.WithComponent("worker").Warnf("honeybadger notify: %v", nerr)
	}
}

// Flush waits for queued notices to be sent.
func Flush() {
	if enabled.Load() {
		honeybadger.Flush()
	}
}
