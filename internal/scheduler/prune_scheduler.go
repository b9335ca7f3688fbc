package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/bassista/go_tilecache/internal/logger"
	"github.com/bassista/go_tilecache/internal/repository"
	"github.com/bassista/go_tilecache/internal/task"
	"github.com/bassista/go_tilecache/internal/worker"
)

// PruneScheduler keeps the tile store under a byte limit. On every tick it compares the
// stored payload size with MaxBytes and submits a PruneCacheTask for the excess.
//
// At most one prune is in flight; ticks while one is pending are skipped.
type PruneScheduler struct {
	sizer     repository.SizeReporter
	submitter worker.Submitter
	interval  time.Duration
	maxBytes  int64

	mu       sync.Mutex
	inFlight bool
}

func NewPruneScheduler(sizer repository.SizeReporter, submitter worker.Submitter, interval time.Duration, maxBytes int64) *PruneScheduler {
	return &PruneScheduler{
		sizer:     sizer,
		submitter: submitter,
		interval:  interval,
		maxBytes:  maxBytes,
	}
}

// Start runs the ticker until ctx is done. The returned channel is closed once the
// goroutine has exited. A non-positive limit or interval disables pruning.
func (s *PruneScheduler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if s.maxBytes <= 0 || s.interval <= 0 {
		logger.WithComponent("prune").Info("cache size limit disabled, prune scheduler not started")
		close(done)
		return done
	}

	logger.WithComponent("prune").Debugf("starting prune scheduler with interval: %v, limit: %d bytes", s.interval, s.maxBytes)
	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.WithComponent("prune").Info("prune scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return done
}

func (s *PruneScheduler) tick(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		logger.WithComponent("prune").Tracef("previous prune still pending, skipping tick")
		return
	}
	s.mu.Unlock()

	size, err := s.sizer.CacheSize(ctx)
	if err != nil {
		logger.WithComponent("prune").Errorf("cache size error: %v", err)
		return
	}
	if size <= s.maxBytes {
		logger.WithComponent("prune").Tracef("cache size %d within limit %d", size, s.maxBytes)
		return
	}

	excess := uint64(size - s.maxBytes)
	logger.WithComponent("prune").Infof("cache size %d exceeds limit %d, pruning %d bytes", size, s.maxBytes, excess)

	s.setInFlight(true)
	t := task.NewPruneCacheTask(excess,
		func() { logger.WithComponent("prune").Debugf("pruned %d bytes", excess) },
		func(_ task.Kind, message string) {
			logger.WithComponent("prune").Errorf("prune failed: %s", message)
		})
	s.submitter.Submit(t)
	go func() {
		<-t.Done()
		s.setInFlight(false)
	}()
}

func (s *PruneScheduler) setInFlight(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = v
}
