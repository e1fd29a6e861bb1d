package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/config"
	"github.com/phrazzld/cadence-api/internal/domain"
)

// ErrTooManyConnections is returned by Register once the hub holds
// MaxConnections connections.
var ErrTooManyConnections = errors.New("too many connections")

// ErrHubClosed is returned by Register after Stop.
var ErrHubClosed = errors.New("notification hub closed")

// Config tunes a Hub.
type Config struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	MaxConnections    int
	QueueSize         int
}

// ConfigFrom converts the notify configuration section.
func ConfigFrom(cfg config.NotifyConfig) Config {
	return Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		WriteTimeout:      cfg.ConnectionTimeout,
		MaxConnections:    cfg.MaxConnections,
		QueueSize:         cfg.QueueSize,
	}
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 1000
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// ownerSet is removed from the hub once its last connection leaves. A
// dead set is no longer in the map and must not receive connections.
type ownerSet struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
	dead  bool
}

func (s *ownerSet) snapshot() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Hub tracks live connections per owner.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	owners sync.Map // uuid.UUID -> *ownerSet
	count  atomic.Int64
	seq    atomic.Uint64
	closed atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewHub creates a Hub. Zero config values fall back to defaults.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "notification_hub")),
		stop:   make(chan struct{}),
	}
}

// Start runs the heartbeat ticker until Stop or ctx is done.
func (h *Hub) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-ticker.C:
				h.Heartbeat()
			}
		}
	}()
}

// Stop ends the heartbeat and closes every connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.closed.Store(true)
		close(h.stop)
		h.owners.Range(func(_, v any) bool {
			for _, c := range v.(*ownerSet).snapshot() {
				h.Unregister(c)
			}
			return true
		})
		h.wg.Wait()
	})
}

// ownerCount returns how many owners currently hold a connection set.
func (h *Hub) ownerCount() int {
	n := 0
	h.owners.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	return int(h.count.Load())
}

// LastEventID returns the id of the most recent reminder frame.
func (h *Hub) LastEventID() uint64 {
	return h.seq.Load()
}

// Register adds a connection for owner. lastEventID is the client's
// Last-Event-ID header, possibly empty; when it does not match the current
// sequence the connection starts with a gap notice.
func (h *Hub) Register(owner uuid.UUID, lastEventID string) (*Conn, error) {
	if h.closed.Load() {
		return nil, ErrHubClosed
	}
	if h.count.Add(1) > int64(h.cfg.MaxConnections) {
		h.count.Add(-1)
		return nil, ErrTooManyConnections
	}

	c := newConn(h, owner, h.cfg.QueueSize)
	if !h.attach(c) {
		c.close()
		h.count.Add(-1)
		return nil, ErrHubClosed
	}

	if lastEventID != "" {
		current := h.seq.Load()
		if last, err := strconv.ParseUint(lastEventID, 10, 64); err != nil || last != current {
			h.enqueueJSON(c, EventError, current, newGapNotice(lastEventID, current))
		}
	}

	h.logger.Debug("connection registered",
		slog.String("owner_id", owner.String()),
		slog.String("conn_id", c.id.String()),
		slog.Int("connections", h.Connections()))
	return c, nil
}

// attach adds c to its owner's set. It reports false when the hub was
// stopped; the check happens under the set lock so Stop either sees c or
// Register fails.
func (h *Hub) attach(c *Conn) bool {
	for {
		v, _ := h.owners.LoadOrStore(c.owner, &ownerSet{conns: make(map[*Conn]struct{})})
		set := v.(*ownerSet)
		set.mu.Lock()
		if set.dead {
			set.mu.Unlock()
			continue
		}
		if h.closed.Load() {
			set.mu.Unlock()
			return false
		}
		set.conns[c] = struct{}{}
		set.mu.Unlock()
		return true
	}
}

// Unregister removes c and releases its slot. It is safe to call more
// than once.
func (h *Hub) Unregister(c *Conn) {
	if !c.close() {
		return
	}
	if v, ok := h.owners.Load(c.owner); ok {
		set := v.(*ownerSet)
		set.mu.Lock()
		delete(set.conns, c)
		if len(set.conns) == 0 && !set.dead {
			set.dead = true
			h.owners.CompareAndDelete(c.owner, set)
		}
		set.mu.Unlock()
	}
	h.count.Add(-1)

	h.logger.Debug("connection unregistered",
		slog.String("owner_id", c.owner.String()),
		slog.String("conn_id", c.id.String()),
		slog.Int64("dropped_frames", c.Dropped()))
}

// Publish queues a reminder frame on every connection of the event's
// owner and returns how many connections it was queued on.
func (h *Hub) Publish(event domain.NotificationEvent) int {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode notification", slog.String("error", err.Error()))
		return 0
	}
	frame := Frame{ID: h.seq.Add(1), Event: EventReminder, Data: data}

	v, ok := h.owners.Load(event.OwnerID)
	if !ok {
		return 0
	}
	conns := v.(*ownerSet).snapshot()
	for _, c := range conns {
		c.enqueue(frame)
	}
	return len(conns)
}

// Heartbeat queues a heartbeat frame on every connection. Heartbeats carry
// the current sequence so a client reconnecting after one reports no gap.
func (h *Hub) Heartbeat() {
	data, _ := json.Marshal(heartbeat{Type: EventHeartbeat})
	frame := Frame{ID: h.seq.Load(), Event: EventHeartbeat, Data: data}
	h.owners.Range(func(_, v any) bool {
		for _, c := range v.(*ownerSet).snapshot() {
			c.enqueue(frame)
		}
		return true
	})
}

func (h *Hub) enqueueJSON(c *Conn, event string, id uint64, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to encode frame", slog.String("error", err.Error()))
		return
	}
	c.enqueue(Frame{ID: id, Event: event, Data: data})
}
