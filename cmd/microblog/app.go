package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/microblog/config"
	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/internal/search"
	"github.com/d60-Lab/microblog/pkg/database"
	"github.com/d60-Lab/microblog/pkg/logger"
	"github.com/d60-Lab/microblog/pkg/monitor"
	"github.com/d60-Lab/microblog/pkg/tracing"
)

// app 各子命令共用的基础设施
type app struct {
	cfg   *config.Config
	db    *gorm.DB
	redis *redis.Client
	sync  *search.Synchronizer

	shutdownTracing tracing.ShutdownFunc
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Options{
		Level:    cfg.Log.Level,
		ToStdout: cfg.Log.ToStdout,
		File:     cfg.Log.File,
		Debug:    cfg.Server.Mode == "debug",
	}); err != nil {
		return nil, err
	}
	if err := monitor.Init(cfg.Sentry.DSN, cfg.Sentry.Environment, version); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return nil, err
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	rdb, err := database.InitRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := search.NewRegistry(cfg.Search.IndexPrefix)
	if err := registry.Register(model.Post{}); err != nil {
		return nil, err
	}
	backend, err := search.OpenBackend(ctx, cfg.Search.ElasticsearchURL)
	if err != nil {
		return nil, fmt.Errorf("open search backend: %w", err)
	}
	if backend == nil {
		logger.Info("search backend not configured, full-text search disabled")
	}
	sync, err := search.New(db, backend, registry, search.Options{
		SyncTimeout:    cfg.Search.SyncTimeout,
		ReindexBatch:   cfg.Search.ReindexBatch,
		ReindexWorkers: cfg.Search.ReindexWorkers,
	})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, db: db, redis: rdb, sync: sync, shutdownTracing: shutdownTracing}, nil
}

// close 按依赖倒序释放资源
func (a *app) close(ctx context.Context) {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warn("close redis failed", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		logger.Warn("close database failed", zap.Error(err))
	}
	if err := a.shutdownTracing(ctx); err != nil {
		logger.Warn("shutdown tracing failed", zap.Error(err))
	}
	monitor.Flush(2 * time.Second)
	_ = logger.Sync()
}
