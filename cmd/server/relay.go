package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// relayCommand 单独运行 outbox relay，serve 可以用 --relay=false 关闭内置的 relay
func relayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Publish committed outbox rows to the realtime bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(true)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			relay := a.newRelay(a.newBus())
			stopRelay := relay.Start()
			stopReport := reportLatency("outbox", relay.Metrics(), a.cfg.Realtime.RelayPollInterval*200)
			logger.Info("relay started", zap.Int("workers", a.cfg.Realtime.RelayWorkers))

			<-ctx.Done()
			logger.Info("relay stopping")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := stopRelay(shutdownCtx); err != nil {
				logger.Warn("relay did not stop cleanly", zap.Error(err))
			}
			return stopReport(shutdownCtx)
		},
	}
}
