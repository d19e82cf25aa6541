package broker

import (
	"io"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStaleAfter        = 60 * time.Second

	tracerName = "github.com/woozar/prophecy-sub003/broker"
)

// Options configures a Broker. Zero values fall back to the defaults.
type Options struct {
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	Logger            *log.Logger
	TracerProvider    trace.TracerProvider
	Now               func() time.Time
}

// Broker fans events out to the registered subscriber streams and keeps idle
// streams alive with periodic pings.
type Broker struct {
	clients *registry

	interval   time.Duration
	staleAfter time.Duration
	logger     *log.Logger
	tracer     trace.Tracer
	now        func() time.Time

	started   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(opts Options) *Broker {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Logger == nil {
		opts.Logger = log.New()
		opts.Logger.SetOutput(io.Discard)
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Broker{
		clients:    newRegistry(),
		interval:   opts.HeartbeatInterval,
		staleAfter: opts.StaleAfter,
		logger:     opts.Logger,
		tracer:     opts.TracerProvider.Tracer(tracerName),
		now:        opts.Now,
		done:       make(chan struct{}),
	}
}

// AddClient registers sink under id. An existing entry for id is replaced and
// its sink closed. Once the broker is closed the sink is closed instead of
// registered.
func (b *Broker) AddClient(id string, sink Sink) {
	c := newClientConn(id, sink, b.now())
	old := b.clients.add(c)
	select {
	case <-b.done:
		// Close may have drained the registry before this entry landed.
		if b.clients.removeConn(c) {
			b.closeSink(c)
		}
		if old != nil {
			b.closeSink(old)
		}
		b.logger.WithField("client_id", id).Debug("client rejected, broker closed")
		return
	default:
	}
	fields := log.Fields{"client_id": id, "clients": b.clients.count()}
	if old != nil {
		b.closeSink(old)
		b.logger.WithFields(fields).Debug("client replaced")
		return
	}
	b.logger.WithFields(fields).Debug("client registered")
}

// RemoveClient drops the entry for id. Unknown ids are ignored.
func (b *Broker) RemoveClient(id string) {
	c := b.clients.remove(id)
	if c == nil {
		return
	}
	b.closeSink(c)
	b.logger.WithFields(log.Fields{"client_id": id, "clients": b.clients.count()}).Debug("client removed")
}

// RemoveClientSink drops the entry for id only while it is still backed by
// sink, so the teardown of a replaced stream leaves its successor in place.
func (b *Broker) RemoveClientSink(id string, sink Sink) {
	c, ok := b.clients.get(id)
	if !ok || !sameSink(c.sink, sink) {
		return
	}
	if b.clients.removeConn(c) {
		b.closeSink(c)
		b.logger.WithFields(log.Fields{"client_id": id, "clients": b.clients.count()}).Debug("client removed")
	}
}

// ClientCount returns the number of registered streams.
func (b *Broker) ClientCount() int {
	return b.clients.count()
}

// Start launches the heartbeat loop. Only the first call on a broker starts
// it; the result reports whether this call did.
func (b *Broker) Start() bool {
	if !b.started.CompareAndSwap(false, true) {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
	}
	b.wg.Add(1)
	go b.runMonitor()
	b.logger.WithFields(log.Fields{
		"heartbeat_interval": b.interval.String(),
		"stale_after":        b.staleAfter.String(),
	}).Info("broker heartbeat started")
	return true
}

// Close stops the heartbeat loop and closes every registered sink.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		conns := b.clients.drain()
		for _, c := range conns {
			b.closeSink(c)
		}
		b.logger.WithField("clients", len(conns)).Info("broker closed")
	})
}

func (b *Broker) evict(c *clientConn, reason string, err error) bool {
	if !b.clients.removeConn(c) {
		return false
	}
	b.closeSink(c)
	entry := b.logger.WithFields(log.Fields{
		"client_id": c.id,
		"reason":    reason,
		"clients":   b.clients.count(),
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("client evicted")
	return true
}

func (b *Broker) closeSink(c *clientConn) {
	closer, ok := c.sink.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		b.logger.WithField("client_id", c.id).WithError(err).Debug("close sink")
	}
}

// sameSink compares sinks by identity. Sinks of uncomparable types, such as
// SinkFunc, never match.
func sameSink(a, b Sink) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
