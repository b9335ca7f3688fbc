// Package worker runs tile cache tasks on a single goroutine that owns the tile store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bassista/go_tilecache/internal/cache"
	"github.com/bassista/go_tilecache/internal/logger"
	"github.com/bassista/go_tilecache/internal/repository"
	"github.com/bassista/go_tilecache/internal/task"
)

// ErrStopped is reported to tasks submitted to, or still queued in, a stopped worker.
var ErrStopped = errors.New("tile worker stopped")

// Submitter accepts tasks without blocking. It is the only way callers reach the store.
type Submitter interface {
	Submit(t task.Task)
}

// Config holds worker tuning.
type Config struct {
	// TaskTimeout bounds the store calls of a single task. Zero means no bound.
	TaskTimeout time.Duration
}

// Worker executes submitted tasks one at a time, in submission order.
type Worker struct {
	repo  repository.TileRepository
	tiles cache.TileCache
	cfg   Config
	log   *logrus.Entry

	mu      sync.Mutex
	queue   []task.Task
	stopped bool
	wake    chan struct{}

	cancel     context.CancelFunc
	done       chan struct{}
	errHandler func(t task.Task, err error)
}

// New creates a worker over repo with tiles as hot cache. A nil cache disables caching.
func New(repo repository.TileRepository, tiles cache.TileCache, cfg Config) *Worker {
	if tiles == nil {
		tiles = cache.Noop{}
	}
	log := logger.WithComponent("worker")
	return &Worker{
		repo:  repo,
		tiles: tiles,
		cfg:   cfg,
		log:   log,
		wake:  make(chan struct{}, 1),
		errHandler: func(t task.Task, err error) {
			log.WithFields(logrus.Fields{"task_id": t.ID(), "task_kind": t.Kind()}).Errorf("task failed: %v", err)
		},
	}
}

// SetErrorHandler replaces the hook called for unexpected task failures and recovered panics.
// Call it before Start.
func (w *Worker) SetErrorHandler(handler func(t task.Task, err error)) {
	if handler != nil {
		w.errHandler = handler
	}
}

// Submit queues t and returns immediately. Ownership of t passes to the worker.
// A stopped worker fails and releases t instead of queueing it.
func (w *Worker) Submit(t task.Task) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.reject(t)
		return
	}
	w.queue = append(w.queue, t)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pending returns how many tasks are waiting to run.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Start launches the dispatch goroutine. It stops when ctx is cancelled or Stop is called.
// Returns a channel that is closed when the goroutine has exited and the queue was drained.
func (w *Worker) Start(ctx context.Context) <-chan struct{} {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.log.Debugf("starting tile worker, task timeout %v", w.cfg.TaskTimeout)
	go func() {
		defer close(w.done)
		defer w.drain()
		for {
			select {
			case <-ctx.Done():
				w.log.Info("tile worker stopped")
				return
			default:
			}

			t, ok := w.next()
			if !ok {
				select {
				case <-ctx.Done():
					w.log.Info("tile worker stopped")
					return
				case <-w.wake:
				}
				continue
			}
			w.run(ctx, t)
		}
	}()
	return w.done
}

// Stop cancels the dispatch goroutine and waits for it. Queued tasks are failed with
// ErrStopped. Safe to call more than once, and before Start.
func (w *Worker) Stop() {
	if w.cancel == nil {
		w.drain()
		return
	}
	w.cancel()
	<-w.done
}

func (w *Worker) next() (task.Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil, false
	}
	t := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return t, true
}

func (w *Worker) drain() {
	w.mu.Lock()
	w.stopped = true
	pending := w.queue
	w.queue = nil
	w.mu.Unlock()

	if len(pending) > 0 {
		w.log.Warnf("failing %d queued task(s) on shutdown", len(pending))
	}
	for _, t := range pending {
		w.reject(t)
	}
}

func (w *Worker) reject(t task.Task) {
	defer t.Release()
	failQuietly(t, ErrStopped.Error())
}

// run executes one task. Panics are contained to the task.
func (w *Worker) run(ctx context.Context, t task.Task) {
	log := w.log.WithFields(logrus.Fields{"task_id": t.ID(), "task_kind": t.Kind()})
	start := time.Now()

	defer t.Release()
	defer func() {
		if r := recover(); r != nil {
			var err error
			if pe, ok := r.(*task.ProtocolError); ok {
				err = pe
			} else {
				err = fmt.Errorf("panic executing %s task: %v", t.Kind(), r)
			}
			log.Errorf("recovered: %v", err)
			failQuietly(t, err.Error())
			w.errHandler(t, err)
		}
	}()

	runCtx := ctx
	if w.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.TaskTimeout)
		defer cancel()
	}

	log.Trace("executing")
	t.Accept(&execution{ctx: runCtx, w: w, log: log})
	log.Debugf("finished in %v", time.Since(start))
}

// failQuietly reports message if the task can still take an error.
func failQuietly(t task.Task, message string) {
	defer func() { _ = recover() }()
	t.Fail(message)
}
