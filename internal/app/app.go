package app

import (
	"context"
	"errors"
	"sync"

	"github.com/bassista/go_tilecache/internal/cache"
	"github.com/bassista/go_tilecache/internal/config"
	"github.com/bassista/go_tilecache/internal/logger"
	"github.com/bassista/go_tilecache/internal/report"
	"github.com/bassista/go_tilecache/internal/repository"
	"github.com/bassista/go_tilecache/internal/scheduler"
	"github.com/bassista/go_tilecache/internal/task"
	"github.com/bassista/go_tilecache/internal/worker"
)

// App is the application container (immutable dependencies + lifecycle context).
// It is not a request context; handlers should still use gin's request context.
type App struct {
	Config *config.Config
	Repo   repository.TileRepository
	Cache  cache.TileCache
	Worker *worker.Worker

	BaseCtx context.Context
	Cancel  context.CancelFunc

	pruneDone    <-chan struct{}
	shutdownOnce sync.Once
}

func New(cfg *config.Config, repo repository.TileRepository, tiles cache.TileCache) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if repo == nil {
		return nil, errors.New("repo is nil")
	}
	if tiles == nil {
		return nil, errors.New("tile cache is nil")
	}

	report.Configure(logger.Logger)
	w := worker.New(repo, tiles, worker.Config{TaskTimeout: cfg.Worker.TaskTimeout})
	w.SetErrorHandler(report.TaskError)

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		Config:  cfg,
		Repo:    repo,
		Cache:   tiles,
		Worker:  w,
		BaseCtx: ctx,
		Cancel:  cancel,
	}, nil
}

// Start launches the worker, initializes the store and, when enabled, the prune scheduler.
// It blocks until the store is initialized.
func (a *App) Start() error {
	a.Worker.Start(a.BaseCtx)

	var initErr string
	t := task.NewInitTask(func(_ task.Kind, message string) { initErr = message })
	a.Worker.Submit(t)
	select {
	case <-t.Done():
	case <-a.BaseCtx.Done():
		return a.BaseCtx.Err()
	}
	if initErr != "" {
		return errors.New(initErr)
	}

	if a.Config.Prune.Enabled {
		s := scheduler.NewPruneScheduler(a.Repo, a.Worker, a.Config.Prune.Interval, a.Config.Prune.MaxBytes)
		a.pruneDone = s.Start(a.BaseCtx)
	}
	return nil
}

// Shutdown stops background work, fails queued tasks and closes the store and cache.
func (a *App) Shutdown() {
	if a == nil || a.Cancel == nil {
		return
	}
	a.shutdownOnce.Do(func() {
		a.Cancel()
		a.Worker.Stop()
		if a.pruneDone != nil {
			<-a.pruneDone
		}
		if err := a.Cache.Close(); err != nil {
			logger.WithComponent("app").Warnf("close tile cache: %v", err)
		}
		if err := a.Repo.Close(); err != nil {
			logger.WithComponent("app").Warnf("close tile store: %v", err)
		}
		report.Flush()
		logger.WithComponent("app").Info("shutdown complete")
	})
}

// Build opens the configured tile store and hot cache and wraps them in an App.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	repo, err := repository.NewSQLRepository(ctx, repository.Options{
		Driver:       cfg.Store.Driver,
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	tiles, err := cache.NewCacheFromConfig(ctx, cache.Options{
		Type:        cfg.Cache.Type,
		MemoryTiles: cfg.Cache.MemoryTiles,
		Redis: cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.RedisTTL,
		},
	})
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	logger.WithComponent("app").Infof("tile store: %s, hot cache: %s", cfg.Store.Driver, cfg.Cache.Type)
	return New(cfg, repo, tiles)
}
