// Package redisbus implements the domain communication bus on Redis Pub/Sub
// using go-redis/v9.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

const (
	// pollInterval bounds how long a receive blocks so the listener can
	// notice shutdown and handler changes.
	pollInterval = time.Second
	// reconnectDelay is the pause before rebuilding a dropped subscription.
	reconnectDelay = 5 * time.Second
)

// Config holds connection parameters for the bus.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// Bus implements domain.Bus on Redis Pub/Sub. A single listener goroutine
// owns the subscription set; handlers registered via Subscribe are invoked
// on that goroutine. When the connection drops the listener waits
// reconnectDelay and re-subscribes every registered channel.
type Bus struct {
	rdb    *redis.Client
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string][]domain.Handler
	pubsub   *redis.PubSub

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates a Bus, pings Redis to verify connectivity, and starts the
// listener goroutine.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Bus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisbus: ping: %w", err)
	}

	b := &Bus{
		rdb:      rdb,
		logger:   logger.With(slog.String("component", "bus")),
		handlers: map[string][]domain.Handler{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.listen()
	return b, nil
}

// Ready reports whether Redis currently answers a ping.
func (b *Bus) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return b.rdb.Ping(ctx).Err() == nil
}

// Publish sends env as JSON on channel. It reports delivery success; a down
// bus is logged and never propagates an error to the trading path.
func (b *Bus) Publish(channel string, env domain.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("encode envelope", slog.String("channel", channel), slog.Any("error", err))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Warn("publish failed",
			slog.String("channel", channel),
			slog.String("type", env.Type),
			slog.Any("error", err))
		return false
	}
	return true
}

// Subscribe registers h for envelopes arriving on channel. The listener
// picks up the new channel on its next poll.
func (b *Bus) Subscribe(channel string, h domain.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[channel] = append(b.handlers[channel], h)
	if b.pubsub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := b.pubsub.Subscribe(ctx, channel); err != nil {
			return fmt.Errorf("redisbus: subscribe %s: %w", channel, err)
		}
	}
	return nil
}

// Close stops the listener and releases the connection.
func (b *Bus) Close() error {
	b.once.Do(func() { close(b.stop) })
	<-b.done
	return b.rdb.Close()
}

func (b *Bus) listen() {
	defer close(b.done)

	for {
		select {
		case <-b.stop:
			return
		default:
		}

		pubsub, err := b.openSubscription()
		if err != nil {
			b.logger.Warn("subscription failed, retrying", slog.Any("error", err))
			if !b.sleep(reconnectDelay) {
				return
			}
			continue
		}

		b.receiveLoop(pubsub)

		b.mu.Lock()
		b.pubsub = nil
		b.mu.Unlock()
		_ = pubsub.Close()

		select {
		case <-b.stop:
			return
		default:
			b.logger.Warn("bus connection lost, reconnecting")
			if !b.sleep(reconnectDelay) {
				return
			}
		}
	}
}

// openSubscription subscribes every registered channel. With no channels
// registered yet it still opens a pubsub so later Subscribe calls can
// attach to it.
func (b *Bus) openSubscription() (*redis.PubSub, error) {
	b.mu.Lock()
	channels := make([]string, 0, len(b.handlers))
	for ch := range b.handlers {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubsub := b.rdb.Subscribe(ctx, channels...)
	if len(channels) > 0 {
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, err
		}
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.mu.Unlock()
	return pubsub, nil
}

// receiveLoop polls the subscription until shutdown or a hard receive error.
func (b *Bus) receiveLoop(pubsub *redis.PubSub) {
	for {
		select {
		case <-b.stop:
			return
		default:
		}

		msg, err := pubsub.ReceiveTimeout(context.Background(), pollInterval)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}

		m, ok := msg.(*redis.Message)
		if !ok {
			continue
		}
		b.dispatch(m.Channel, []byte(m.Payload))
	}
}

func (b *Bus) dispatch(channel string, payload []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn("dropping malformed bus message",
			slog.String("channel", channel),
			slog.Any("error", err))
		return
	}

	b.mu.Lock()
	handlers := append([]domain.Handler(nil), b.handlers[channel]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}

func (b *Bus) sleep(d time.Duration) bool {
	select {
	case <-b.stop:
		return false
	case <-time.After(d):
		return true
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}

// Compile-time interface check.
var _ domain.Bus = (*Bus)(nil)
