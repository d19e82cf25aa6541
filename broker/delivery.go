package broker

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/woozar/prophecy-sub003/domain"
)

// Broadcast writes ev to every registered stream. The event is encoded once.
// Streams whose write fails are evicted; delivery to the others continues.
func (b *Broker) Broadcast(ev domain.Event) {
	_, span := b.tracer.Start(context.Background(), "broker.broadcast",
		trace.WithAttributes(attribute.String("event.kind", string(ev.Kind))))
	defer span.End()

	frame, err := ev.Frame()
	if err != nil {
		b.dropEvent(span, ev, err)
		return
	}
	delivered, evicted := b.deliver(frame, b.clients.snapshot())
	span.SetAttributes(
		attribute.Int("broker.delivered", delivered),
		attribute.Int("broker.evicted", evicted),
	)
	b.logger.WithFields(log.Fields{
		"kind":      ev.Kind,
		"delivered": delivered,
		"evicted":   evicted,
	}).Debug("broadcast")
}

// SendToClient writes ev to the stream registered under id. Unknown ids are
// ignored; a failed write evicts the stream.
func (b *Broker) SendToClient(id string, ev domain.Event) {
	_, span := b.tracer.Start(context.Background(), "broker.send_to_client",
		trace.WithAttributes(
			attribute.String("event.kind", string(ev.Kind)),
			attribute.String("broker.client_id", id),
		))
	defer span.End()

	c, ok := b.clients.get(id)
	if !ok {
		span.SetAttributes(attribute.Bool("broker.client_found", false))
		b.logger.WithFields(log.Fields{"client_id": id, "kind": ev.Kind}).Debug("send to unknown client")
		return
	}
	frame, err := ev.Frame()
	if err != nil {
		b.dropEvent(span, ev, err)
		return
	}
	delivered, evicted := b.deliver(frame, []*clientConn{c})
	span.SetAttributes(
		attribute.Bool("broker.client_found", true),
		attribute.Int("broker.delivered", delivered),
		attribute.Int("broker.evicted", evicted),
	)
}

func (b *Broker) deliver(frame []byte, conns []*clientConn) (delivered, evicted int) {
	for _, c := range conns {
		if err := c.write(frame, b.now); err != nil {
			if b.evict(c, "write failed", err) {
				evicted++
			}
			continue
		}
		delivered++
	}
	return delivered, evicted
}

func (b *Broker) dropEvent(span trace.Span, ev domain.Event, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "encode event")
	b.logger.WithField("kind", ev.Kind).WithError(err).Error("drop unencodable event")
}
