package main

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialfeed/config"
	"github.com/d60-Lab/socialfeed/internal/realtime"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/cache"
	"github.com/d60-Lab/socialfeed/pkg/database"
	"github.com/d60-Lab/socialfeed/pkg/logger"
	"github.com/d60-Lab/socialfeed/pkg/tracing"
)

// app 各子命令共用的基础设施
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	rdb      *redis.Client
	shutdown []func(context.Context) error
}

func bootstrap(withRedis bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg}
	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			SampleRate:       cfg.Sentry.SampleRate,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		} else {
			a.onShutdown(func(context.Context) error {
				sentry.Flush(2 * time.Second)
				return nil
			})
		}
	}

	tp, err := tracing.Init(context.Background(), cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.onShutdown(tp)

	a.db, err = database.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	a.onShutdown(func(context.Context) error { return database.Close(a.db) })

	if withRedis {
		a.rdb, err = cache.NewRedis(cfg)
		if err != nil {
			a.close(context.Background())
			return nil, err
		}
		a.onShutdown(func(context.Context) error { return a.rdb.Close() })
	}
	return a, nil
}

func (a *app) onShutdown(fn func(context.Context) error) {
	a.shutdown = append(a.shutdown, fn)
}

// close 逆序执行清理
func (a *app) close(ctx context.Context) {
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	logger.Sync()
}

func (a *app) newRelay(bus *realtime.Bus) *realtime.Relay {
	rc := a.cfg.Realtime
	return realtime.NewRelay(repository.NewOutboxRepository(a.db), bus, rc.RelayWorkers, rc.RelayClaimLimit, rc.RelayPollInterval)
}

func (a *app) newBus() *realtime.Bus {
	return realtime.NewBus(a.rdb, realtime.BusOptions{
		QueueSize:    a.cfg.Timeline.LiveQueueSize,
		ReconnectMin: a.cfg.Realtime.ReconnectMin,
		ReconnectMax: a.cfg.Realtime.ReconnectMax,
	})
}
