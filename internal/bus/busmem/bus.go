// Package busmem implements the domain communication bus in-process. It
// backs tests and lets the controller run without Redis; semantics match
// the Redis bus, including best-effort delivery.
package busmem

import (
	"sync"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// Bus delivers envelopes through a single dispatcher goroutine so handlers
// observe the same ordering guarantees as the Redis bus.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]domain.Handler
	queue    chan delivery
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

type delivery struct {
	channel string
	env     domain.Envelope
}

// New creates a loopback bus and starts its dispatcher.
func New() *Bus {
	b := &Bus{
		handlers: map[string][]domain.Handler{},
		queue:    make(chan delivery, 256),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Ready always reports true.
func (b *Bus) Ready() bool { return true }

// Publish enqueues env for delivery to channel subscribers. It reports
// false when the bus is shut down or the queue is full.
func (b *Bus) Publish(channel string, env domain.Envelope) bool {
	select {
	case <-b.stop:
		return false
	default:
	}
	select {
	case b.queue <- delivery{channel: channel, env: env}:
		return true
	default:
		return false
	}
}

// Subscribe registers h for envelopes arriving on channel.
func (b *Bus) Subscribe(channel string, h domain.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], h)
	return nil
}

// Close stops the dispatcher; queued envelopes are dropped.
func (b *Bus) Close() error {
	b.once.Do(func() { close(b.stop) })
	<-b.done
	return nil
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		select {
		case <-b.stop:
			return
		case d := <-b.queue:
			b.mu.Lock()
			handlers := append([]domain.Handler(nil), b.handlers[d.channel]...)
			b.mu.Unlock()
			for _, h := range handlers {
				h(d.env)
			}
		}
	}
}

// Compile-time interface check.
var _ domain.Bus = (*Bus)(nil)
