package broker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSinkClosed is returned by sinks written to after they were closed.
var ErrSinkClosed = errors.New("sink closed")

// Sink is the write side of one subscriber stream. Write must fail rather than
// block indefinitely. A sink that also implements io.Closer is closed when its
// registry entry is removed or replaced, so Close must be idempotent.
type Sink interface {
	Write(frame []byte) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(frame []byte) error

func (f SinkFunc) Write(frame []byte) error {
	if f == nil {
		return ErrSinkClosed
	}
	return f(frame)
}

type clientConn struct {
	id   string
	sink Sink

	// serializes writes so frames from broadcasts and pings never interleave
	mu           sync.Mutex
	lastActivity atomic.Int64
}

func newClientConn(id string, sink Sink, now time.Time) *clientConn {
	c := &clientConn{id: id, sink: sink}
	c.touch(now)
	return c
}

func (c *clientConn) touch(t time.Time) {
	c.lastActivity.Store(t.UnixNano())
}

func (c *clientConn) lastActive() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// write hands frame to the sink and records the activity on success.
func (c *clientConn) write(frame []byte, now func() time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sink.Write(frame); err != nil {
		return err
	}
	c.touch(now())
	return nil
}

type registry struct {
	mu      sync.RWMutex
	clients map[string]*clientConn
}

func newRegistry() *registry {
	return &registry{clients: make(map[string]*clientConn)}
}

// add stores c under its id and returns the entry it replaced, if any.
func (r *registry) add(c *clientConn) *clientConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.clients[c.id]
	r.clients[c.id] = c
	return old
}

func (r *registry) remove(id string) *clientConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil
	}
	delete(r.clients, id)
	return c
}

// removeConn deletes the entry for c.id only while it still points at c.
func (r *registry) removeConn(c *clientConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.clients[c.id]; !ok || cur != c {
		return false
	}
	delete(r.clients, c.id)
	return true
}

func (r *registry) get(id string) (*clientConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// snapshot copies the current entries so callers can write to sinks without
// holding the lock.
func (r *registry) snapshot() []*clientConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*clientConn, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *registry) drain() []*clientConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*clientConn, 0, len(r.clients))
	for id, c := range r.clients {
		out = append(out, c)
		delete(r.clients, id)
	}
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
