package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/internal/cache"
	"github.com/BaSui01/ragcore/internal/metrics"
	"github.com/BaSui01/ragcore/internal/telemetry"
	"github.com/BaSui01/ragcore/rag"
)

const shutdownTimeout = 10 * time.Second

// app 一次命令执行所需的运行时组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	orch      *rag.Orchestrator
	cache     *cache.Manager
	telemetry *telemetry.Providers
}

// needsRedis embedding 缓存或会话存储使用 redis 时返回 true
func needsRedis(cfg *config.Config) bool {
	return (cfg.Embedding.CacheEnabled && cfg.Embedding.CacheBackend == "redis") || cfg.Context.Store == "redis"
}

// newApp 初始化遥测、指标、缓存并组装编排器。失败时已创建的资源会被释放。
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		a.telemetry = providers
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	if needsRedis(cfg) {
		a.cache, err = cache.NewManager(cache.ConfigFromRedis(cfg.Redis), logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	a.orch, err = rag.NewOrchestratorFromConfig(ctx, cfg, rag.BuildOptions{
		CacheManager: a.cache,
		Metrics:      collector,
	}, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	if cfg.Storage.Backend == string(rag.VectorStoreMemory) || cfg.Storage.Backend == "" {
		logger.Debug("memory vector store is not persisted between runs")
	}
	return a, nil
}

// close 按创建的逆序释放资源
func (a *app) close() error {
	var errs []error
	if a.orch != nil {
		errs = append(errs, a.orch.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
