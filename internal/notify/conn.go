package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Conn is one client stream.
type Conn struct {
	id    uuid.UUID
	owner uuid.UUID
	hub   *Hub

	mu      sync.Mutex
	queue   []Frame
	limit   int
	dropped atomic.Int64

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(h *Hub, owner uuid.UUID, limit int) *Conn {
	return &Conn{
		id:    uuid.New(),
		owner: owner,
		hub:   h,
		limit: limit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// ID identifies the connection in logs.
func (c *Conn) ID() uuid.UUID { return c.id }

// Owner returns the owner the connection receives events for.
func (c *Conn) Owner() uuid.UUID { return c.owner }

// Dropped returns how many frames were discarded because the queue was
// full.
func (c *Conn) Dropped() int64 { return c.dropped.Load() }

// Done is closed once the connection is unregistered.
func (c *Conn) Done() <-chan struct{} { return c.done }

// enqueue appends f, discarding the oldest queued frame when full.
func (c *Conn) enqueue(f Frame) {
	select {
	case <-c.done:
		return
	default:
	}

	c.mu.Lock()
	if len(c.queue) >= c.limit {
		c.queue = c.queue[1:]
		c.dropped.Add(1)
	}
	c.queue = append(c.queue, f)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) drain() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

func (c *Conn) close() bool {
	closed := false
	c.closeOnce.Do(func() {
		close(c.done)
		closed = true
	})
	return closed
}

// Serve writes queued frames to w until ctx is done, the connection is
// unregistered, or a write fails. The connection is unregistered when
// Serve returns.
func (c *Conn) Serve(ctx context.Context, w http.ResponseWriter) error {
	defer c.hub.Unregister(c)

	rc := http.NewResponseController(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-c.wake:
		}

		for _, f := range c.drain() {
			if err := c.write(rc, w, f); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) write(rc *http.ResponseController, w http.ResponseWriter, f Frame) error {
	timeout := c.hub.cfg.WriteTimeout
	if err := rc.SetWriteDeadline(time.Now().Add(timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write frame %d: %w", f.ID, err)
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush frame %d: %w", f.ID, err)
	}
	return nil
}
