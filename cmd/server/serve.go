package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/api"
	"github.com/d60-Lab/socialfeed/internal/api/handler"
	"github.com/d60-Lab/socialfeed/internal/auth"
	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/internal/service"
	"github.com/d60-Lab/socialfeed/pkg/database"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

func serveCommand() *cobra.Command {
	var (
		withRelay   bool
		autoMigrate bool
		origins     []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(true)
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			if autoMigrate {
				if err := database.Migrate(a.db); err != nil {
					return err
				}
			}
			return serve(a, withRelay, origins)
		},
	}
	cmd.Flags().BoolVar(&withRelay, "relay", true, "run the outbox relay in this process")
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "migrate the schema before serving")
	cmd.Flags().StringSliceVar(&origins, "ws-origin", nil, "allowed websocket origins (default: same origin)")
	return cmd
}

func serve(a *app, withRelay bool, origins []string) error {
	cfg := a.cfg
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	postRepo := repository.NewPostRepository(a.db)
	repostRepo := repository.NewRepostRepository(a.db)
	followRepo := repository.NewFollowRepository(a.db)
	fanRepo := repository.NewFanRepository(a.db)
	userRepo := repository.NewUserRepository(a.db)

	provider := auth.NewProvider(repository.NewCredentialRepository(a.db), userRepo, cfg.Auth)
	profiles := service.NewProfileService(userRepo, a.rdb, cfg.Timeline.ProfileCacheTTL)
	resolver := service.NewFollowingResolver(followRepo, a.rdb, cfg.Timeline.FollowingCacheTTL)
	posts := service.NewPostService(postRepo, profiles)
	replicator := service.NewFanReplicator(fanRepo, 0)
	bus := a.newBus()
	store := repository.NewTimelineStore(postRepo, repostRepo)

	feeds := service.NewFeedRegistry(func() *service.Feed {
		return service.NewFeed(store, resolver, posts, bus, cfg.Timeline.PageSize)
	}, cfg.Timeline.SessionIdleTTL, 0)

	h := handler.New(handler.Deps{
		Auth:             provider,
		Profiles:         profiles,
		Posts:            posts,
		Engagement:       service.NewEngagementService(postRepo, repository.NewLikeRepository(a.db), repostRepo),
		Relations:        service.NewRelationshipService(followRepo, fanRepo, replicator, resolver),
		Feeds:            feeds,
		ExposeResetToken: cfg.Server.Mode == "debug",
		AllowedOrigins:   origins,
	})

	var stops []func(context.Context) error
	stops = append(stops, replicator.Start(4))
	stops = append(stops, reportLatency("fans", replicator.Metrics(), time.Minute))
	stops = append(stops, feeds.Start(time.Minute))
	if withRelay {
		relay := a.newRelay(bus)
		stops = append(stops, relay.Start())
		stops = append(stops, reportLatency("outbox", relay.Metrics(), time.Minute))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(cfg, h, provider),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr), zap.Bool("relay", withRelay))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server did not shut down gracefully", zap.Error(err))
	}
	// 逆序停止：先停 relay，最后排空 fans 复制队列
	for i := len(stops) - 1; i >= 0; i-- {
		if err := stops[i](shutdownCtx); err != nil {
			logger.Warn("background worker did not stop cleanly", zap.Error(err))
		}
	}
	return nil
}
