package report

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/bassista/go_tilecache/internal/task"
)

func TestConfigure_WithoutAPIKey(t *testing.T) {
	t.Setenv("HONEYBADGER_API_KEY", "")
	var out bytes.Buffer
	log := logrus.New()
	log.SetOutput(&out)

	assert.False(t, Configure(log))
	assert.False(t, Enabled())
	assert.Contains(t, out.String(), "Honeybadger is not active")

	// inactive reporting still logs and never panics
	assert.NotPanics(t, func() {
		TaskError(task.NewResetTask(nil, nil), errors.New("disk full"))
		Flush()
	})
}

func TestTaskError_ConcurrentWithConfigure(t *testing.T) {
	t.Setenv("HONEYBADGER_API_KEY", "")
	log := logrus.New()
	log.SetOutput(new(bytes.Buffer))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			Configure(log)
		}()
		go func() {
			defer wg.Done()
			TaskError(task.NewResetTask(nil, nil), errors.New("disk full"))
			_ = Enabled()
		}()
	}
	wg.Wait()
	assert.False(t, Enabled())
}
