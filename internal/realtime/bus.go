package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// Bus 基于 redis pub/sub 的变更总线
type Bus struct {
	rdb          *redis.Client
	queueSize    int
	reconnectMin time.Duration
	reconnectMax time.Duration
}

type BusOptions struct {
	// QueueSize bounds each subscription's channel.
	QueueSize    int
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func NewBus(rdb *redis.Client, opts BusOptions) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 100 * time.Millisecond
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	return &Bus{rdb: rdb, queueSize: opts.QueueSize, reconnectMin: opts.ReconnectMin, reconnectMax: opts.ReconnectMax}
}

func (b *Bus) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := b.rdb.Publish(ctx, Channel(c.Table), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", Channel(c.Table), err)
	}
	return nil
}

// Subscription delivers changes on C until Close is called or the context
// passed to Subscribe is done. C is closed afterwards.
type Subscription struct {
	C <-chan Change

	cancel    context.CancelFunc
	done      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
}

// Ready is closed once the first subscription to redis is confirmed.
func (s *Subscription) Ready() <-chan struct{} { return s.ready }

func (s *Subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Subscribe listens on the given tables, reconnecting with exponential
// backoff when the connection drops.
func (b *Bus) Subscribe(ctx context.Context, tables ...string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Change, b.queueSize)
	sub := &Subscription{C: out, cancel: cancel, done: make(chan struct{}), ready: make(chan struct{})}

	channels := make([]string, len(tables))
	for i, t := range tables {
		channels[i] = Channel(t)
	}

	go func() {
		defer close(sub.done)
		defer close(out)

		boff := backoff.Backoff{Min: b.reconnectMin, Max: b.reconnectMax, Jitter: true}
		for {
			err := b.receive(ctx, channels, out, func() {
				boff.Reset()
				sub.readyOnce.Do(func() { close(sub.ready) })
			})
			if ctx.Err() != nil {
				return
			}
			dur := boff.Duration()
			logger.Warn("realtime subscription dropped",
				zap.Strings("channels", channels),
				zap.Duration("retrying_after", dur),
				zap.Error(err),
			)
			timer := time.NewTimer(dur)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
	return sub
}

func (b *Bus) receive(ctx context.Context, channels []string, out chan<- Change, onSubscribed func()) error {
	ps := b.rdb.Subscribe(ctx, channels...)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	onSubscribed()

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		var c Change
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			logger.Warn("drop malformed change", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
