package main

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/pkg/logger"
)

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

// reportLatency 持续消费延迟样本，每个 interval 输出一次分位数
func reportLatency(name string, ch <-chan time.Duration, interval time.Duration) func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var samples []time.Duration
		for {
			select {
			case d := <-ch:
				samples = append(samples, d)
			case <-ticker.C:
				if len(samples) == 0 {
					continue
				}
				logger.Info("latency",
					zap.String("pipeline", name),
					zap.Int("count", len(samples)),
					zap.Duration("p50", pct(samples, 0.50)),
					zap.Duration("p95", pct(samples, 0.95)),
					zap.Duration("p99", pct(samples, 0.99)),
				)
				samples = samples[:0]
			case <-stop:
				return
			}
		}
	}()
	return func(ctx context.Context) error {
		close(stop)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
