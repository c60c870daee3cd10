package propagation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler consumes delivered events. Handlers run on a dedicated goroutine
// per subscription; a panic is recovered and logged.
type Handler func(Event)

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Bus is the in-process publish/subscribe fan-out. Each subscription gets
// its own buffered channel and drain goroutine, so per-topic ordering is
// preserved while one slow subscriber cannot stall the rest. Events are
// additionally forwarded to an optional external Transport through a
// single-goroutine queue that keeps commit order.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[uuid.UUID]*subscriber

	transport   Transport
	transportCh chan Event
	transportUp atomic.Bool
	closed      chan struct{}
	closeOnce   sync.Once

	buffer  int
	dropped atomic.Uint64
	logger  *zap.Logger
}

const defaultBuffer = 256

// NewBus creates a bus. transport may be nil, in which case events stay
// in-process.
func NewBus(transport Transport, buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	b := &Bus{
		subs:   make(map[string]map[uuid.UUID]*subscriber),
		buffer: buffer,
		logger: logger,
		closed: make(chan struct{}),
	}
	if transport != nil {
		b.transport = transport
		b.transportCh = make(chan Event, buffer)
		b.transportUp.Store(true)
		go b.forward()
	}
	return b
}

// Subscribe registers a handler for one topic and returns an unsubscribe
// token.
func (b *Bus) Subscribe(topic string, fn Handler) uuid.UUID {
	sub := &subscriber{
		ch:   make(chan Event, b.buffer),
		done: make(chan struct{}),
	}
	token := uuid.New()

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uuid.UUID]*subscriber)
	}
	b.subs[topic][token] = sub
	b.mu.Unlock()

	go b.drain(sub, fn)
	return token
}

// Unsubscribe removes the subscription identified by token.
func (b *Bus) Unsubscribe(token uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		if sub, ok := subs[token]; ok {
			close(sub.done)
			delete(subs, token)
			if len(subs) == 0 {
				delete(b.subs, topic)
			}
			return
		}
	}
}

// Publish delivers ev to every subscriber of the given topics and forwards
// it to the transport. Enqueueing never blocks: a subscriber whose buffer
// is full loses the event, which is counted and logged.
func (b *Bus) Publish(ev Event, topics ...string) {
	for _, topic := range topics {
		delivered := ev
		delivered.Topic = topic

		b.mu.RLock()
		for _, sub := range b.subs[topic] {
			select {
			case sub.ch <- delivered:
			default:
				b.dropped.Add(1)
				b.logger.Warn("subscriber buffer full, dropping event",
					zap.String("topic", topic),
					zap.String("kind", ev.Kind))
			}
		}
		b.mu.RUnlock()

		if b.transportCh != nil {
			select {
			case b.transportCh <- delivered:
			default:
				b.dropped.Add(1)
				b.logger.Warn("transport queue full, dropping event",
					zap.String("topic", topic),
					zap.String("kind", ev.Kind))
			}
		}
	}
}

// drain runs one subscriber's delivery loop.
func (b *Bus) drain(sub *subscriber, fn Handler) {
	for {
		select {
		case ev := <-sub.ch:
			b.deliver(fn, ev)
		case <-sub.done:
			return
		case <-b.closed:
			return
		}
	}
}

func (b *Bus) deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				zap.String("topic", ev.Topic),
				zap.Any("panic", r))
		}
	}()
	fn(ev)
}

// forward pushes events to the external transport in commit order.
func (b *Bus) forward() {
	for {
		select {
		case ev := <-b.transportCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := b.transport.Publish(ctx, ev)
			cancel()
			if err != nil {
				if b.transportUp.Swap(false) {
					b.logger.Warn("propagation transport unavailable, continuing in-process",
						zap.Error(err))
				}
				continue
			}
			b.transportUp.Store(true)
		case <-b.closed:
			return
		}
	}
}

// TransportHealthy reports whether the external transport is configured
// and delivering. Without a transport the bus reports false, which callers
// surface as degraded real-time refresh.
func (b *Bus) TransportHealthy() bool {
	if b.transport == nil {
		return false
	}
	return b.transportUp.Load() && b.transport.Healthy()
}

// Dropped returns the number of events lost to full buffers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close stops delivery goroutines and closes the transport.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
	if b.transport != nil {
		if err := b.transport.Close(); err != nil {
			b.logger.Warn("closing propagation transport", zap.Error(err))
		}
	}
}
