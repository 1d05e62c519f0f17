// Package bus is the bounded broadcast channel observers subscribe to for
// engine statistics, pattern-library cache invalidation, and evolution/
// wisdom background events (§9 "global mutable state ... observers
// subscribe via a bounded broadcast channel"). It defaults to an in-memory
// fan-out and upgrades transparently to Redis pub/sub when a Redis address
// is configured, so a single engine process and a fleet of them observe the
// same topics.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mallku/internal/logger"
)

// Topic names published by the core. Consumers (audit logger, CLI status
// query, visualization) subscribe to whichever they need.
const (
	TopicTickCompleted      = "mallku.tick.completed"
	TopicCorrelationAccepted = "mallku.correlation.accepted"
	TopicCorrelationRejected = "mallku.correlation.rejected"
	TopicPatternStored       = "mallku.pattern.stored"
	TopicPatternEvolved      = "mallku.pattern.evolved"
	TopicEmergenceDetected   = "mallku.emergence.detected"
	TopicWisdomPreserved     = "mallku.wisdom.preserved"
	TopicInvariantViolation  = "mallku.invariant.violation"
	TopicPersistenceDegraded = "mallku.persistence.degraded"
)

// Bus is the minimal publish/subscribe contract the core depends on.
type Bus interface {
	Publish(topic string, data interface{}) error
	Subscribe(topic string, handler func([]byte))
	Close() error
}

const subscriberBuffer = 100

// memoryBus fans events out to bounded per-subscriber channels in-process;
// a slow subscriber is skipped rather than blocking the publisher.
type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan []byte
	ctx         context.Context
	cancel      context.CancelFunc
	log         *logger.Logger
}

// NewMemoryBus creates an in-memory bus. Events are not persisted across
// restarts.
func NewMemoryBus(log *logger.Logger) Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &memoryBus{
		subscribers: make(map[string][]chan []byte),
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
	}
}

func (b *memoryBus) Publish(topic string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event for topic %s: %w", topic, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- payload:
		case <-time.After(100 * time.Millisecond):
			b.log.Warn("bus subscriber slow, skipping delivery", "topic", topic)
		case <-b.ctx.Done():
			return b.ctx.Err()
		}
	}
	return nil
}

func (b *memoryBus) Subscribe(topic string, handler func([]byte)) {
	b.mu.Lock()
	ch := make(chan []byte, subscriberBuffer)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case msg := <-ch:
				handler(msg)
			case <-b.ctx.Done():
				return
			}
		}
	}()
}

func (b *memoryBus) Close() error {
	b.cancel()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subscribers = make(map[string][]chan []byte)
	return nil
}

// redisBus fans out via Redis pub/sub, letting multiple engine instances
// share one set of observers.
type redisBus struct {
	client      *redis.Client
	pubsub      *redis.PubSub
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.RWMutex
	subscribers map[string][]chan []byte
	log         *logger.Logger
}

// NewRedisBus connects to addr and returns a Redis-backed Bus, falling back
// to an in-memory bus if the connection cannot be established.
func NewRedisBus(addr string, log *logger.Logger) Bus {
	if addr == "" {
		return NewMemoryBus(log)
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis bus unavailable, falling back to in-memory", "error", err.Error())
		return NewMemoryBus(log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rb := &redisBus{
		client:      client,
		ctx:         ctx,
		cancel:      cancel,
		pubsub:      client.Subscribe(ctx),
		subscribers: make(map[string][]chan []byte),
		log:         log,
	}
	go rb.receive()
	return rb
}

func (b *redisBus) Publish(topic string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event for topic %s: %w", topic, err)
	}
	return b.client.Publish(b.ctx, topic, payload).Err()
}

func (b *redisBus) Subscribe(topic string, handler func([]byte)) {
	b.mu.Lock()
	ch := make(chan []byte, subscriberBuffer)
	first := len(b.subscribers[topic]) == 0
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	if first {
		if err := b.pubsub.Subscribe(b.ctx, topic); err != nil {
			b.log.Error("redis bus subscribe failed", err, "topic", topic)
		}
	}

	go func() {
		for data := range ch {
			handler(data)
		}
	}()
}

func (b *redisBus) receive() {
	ch := b.pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				continue
			}
			b.mu.RLock()
			handlers := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			payload := []byte(msg.Payload)
			for _, h := range handlers {
				select {
				case h <- payload:
				default:
					b.log.Warn("redis bus subscriber channel full", "topic", msg.Channel)
				}
			}
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *redisBus) Close() error {
	b.cancel()
	b.mu.Lock()
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subscribers = make(map[string][]chan []byte)
	b.mu.Unlock()
	_ = b.pubsub.Close()
	return b.client.Close()
}
