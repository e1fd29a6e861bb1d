package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber queue length of a MemoryBus.
const DefaultBufferSize = 256

// MemoryBus delivers events to in-process subscribers. Each subscriber owns
// a buffered queue drained by its own goroutine, so a slow handler delays
// only itself. It is the bus used in degraded mode.
type MemoryBus struct {
	bufferSize int
	logger     *slog.Logger

	mu     sync.RWMutex
	subs   map[string][]*memorySub
	rr     map[string]*atomic.Uint64
	closed atomic.Bool
	wg     sync.WaitGroup
}

type memorySub struct {
	bus     *MemoryBus
	topic   string
	group   string
	handler EventHandler
	ch      chan *Event
	done    chan struct{}
	once    sync.Once
}

// NewMemoryBus creates an in-process bus. A bufferSize of zero or less
// selects DefaultBufferSize.
func NewMemoryBus(bufferSize int, log *slog.Logger) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &MemoryBus{
		bufferSize: bufferSize,
		logger:     log.With("component", "memory_bus"),
		subs:       make(map[string][]*memorySub),
		rr:         make(map[string]*atomic.Uint64),
	}
}

var _ Bus = (*MemoryBus)(nil)

// Publish enqueues event for every broadcast subscriber of its topic and
// for one member of each subscriber group. A full queue fails the publish
// for that subscriber only.
func (b *MemoryBus) Publish(ctx context.Context, event *Event) error {
	if b.closed.Load() {
		return fmt.Errorf("%w: %w", ErrPublishFailure, ErrClosed)
	}

	b.mu.RLock()
	subs := b.subs[event.Topic]
	b.mu.RUnlock()

	groups := make(map[string][]*memorySub)
	var dropped int
	for _, s := range subs {
		if s.group != "" {
			groups[s.group] = append(groups[s.group], s)
			continue
		}
		if !s.offer(event) {
			dropped++
		}
	}
	for group, members := range groups {
		if !b.offerToGroup(event.Topic, group, members, event) {
			dropped++
		}
	}

	if dropped > 0 {
		return fmt.Errorf("%w: %d subscriber queue(s) full for topic %s", ErrPublishFailure, dropped, event.Topic)
	}
	return nil
}

func (b *MemoryBus) offerToGroup(topic, group string, members []*memorySub, event *Event) bool {
	b.mu.RLock()
	counter := b.rr[topic+"|"+group]
	b.mu.RUnlock()

	start := 0
	if counter != nil {
		start = int(counter.Add(1) % uint64(len(members)))
	}
	for i := range members {
		if members[(start+i)%len(members)].offer(event) {
			return true
		}
	}
	return false
}

// Subscribe registers handler for topic.
func (b *MemoryBus) Subscribe(topic, group string, handler EventHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	s := &memorySub{
		bus:     b,
		topic:   topic,
		group:   group,
		handler: handler,
		ch:      make(chan *Event, b.bufferSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	if group != "" {
		key := topic + "|" + group
		if b.rr[key] == nil {
			b.rr[key] = &atomic.Uint64{}
		}
	}
	b.mu.Unlock()

	b.wg.Add(1)
	go s.run()

	b.logger.Debug("registered subscriber", "topic", topic, "group", group)
	return s, nil
}

// Close stops every subscriber after it drains its queue.
func (b *MemoryBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[string][]*memorySub)
	b.mu.Unlock()

	for _, subs := range all {
		for _, s := range subs {
			s.stop()
		}
	}
	b.wg.Wait()
	return nil
}

func (s *memorySub) offer(event *Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

func (s *memorySub) run() {
	defer s.bus.wg.Done()
	ctx := context.Background()
	for {
		select {
		case event := <-s.ch:
			s.handle(ctx, event)
		case <-s.done:
			for {
				select {
				case event := <-s.ch:
					s.handle(ctx, event)
				default:
					return
				}
			}
		}
	}
}

func (s *memorySub) handle(ctx context.Context, event *Event) {
	defer func() {
		if p := recover(); p != nil {
			s.bus.logger.Error("event handler panicked",
				"panic", p,
				"event_id", event.ID,
				"topic", s.topic)
		}
	}()
	if err := s.handler.HandleEvent(ctx, event); err != nil {
		s.bus.logger.Error("handler failed to process event",
			"error", err,
			"event_id", event.ID,
			"event_type", event.Type,
			"topic", s.topic)
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

// Unsubscribe removes the subscriber. Events already queued are still
// handled.
func (s *memorySub) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	subs := b.subs[s.topic]
	for i, other := range subs {
		if other == s {
			b.subs[s.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	s.stop()
	return nil
}
