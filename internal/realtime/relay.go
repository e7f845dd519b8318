package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/internal/repository"
	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// Publisher sends one change to subscribers.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Relay 轮询 outbox，把已提交的行变更投递到总线
type Relay struct {
	outbox       repository.OutboxRepository
	pub          Publisher
	workers      int
	claimLimit   int
	pollInterval time.Duration
	metricsCh    chan time.Duration // outbox->published latency
}

func NewRelay(outbox repository.OutboxRepository, pub Publisher, workers, claimLimit int, pollInterval time.Duration) *Relay {
	if workers <= 0 {
		workers = 2
	}
	if claimLimit <= 0 {
		claimLimit = 128
	}
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &Relay{
		outbox:       outbox,
		pub:          pub,
		workers:      workers,
		claimLimit:   claimLimit,
		pollInterval: pollInterval,
		metricsCh:    make(chan time.Duration, 4096),
	}
}

func (r *Relay) Metrics() <-chan time.Duration { return r.metricsCh }

// Start 启动若干 worker 轮询 outbox；返回停止函数，等待 worker 退出。
func (r *Relay) Start() func(context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(stop)
		}()
	}
	return func(ctx context.Context) error {
		close(stop)
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Relay) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.ProcessOnce(context.Background()); err != nil {
				logger.Warn("relay batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce claims one batch and publishes it. Rows whose publish fails go
// back to pending for the next poll.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := r.outbox.Claim(ctx, r.claimLimit)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	done := make([]string, 0, len(batch))
	var failed []string
	for _, o := range batch {
		if err := r.pub.Publish(ctx, FromOutbox(o)); err != nil {
			logger.Warn("publish change failed",
				zap.String("outbox_id", o.ID),
				zap.String("topic", o.Topic),
				zap.Error(err),
			)
			failed = append(failed, o.ID)
			continue
		}
		done = append(done, o.ID)
		select {
		case r.metricsCh <- time.Since(o.CreatedAt):
		default:
		}
	}

	if err := r.outbox.MarkDone(ctx, done); err != nil {
		return 0, err
	}
	if err := r.outbox.Release(ctx, failed); err != nil {
		return len(done), err
	}
	return len(done), nil
}
