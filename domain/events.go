package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/woozar/prophecy-sub003/internal/consts"
)

// Kind names a domain change as "entity:verb".
type Kind string

const (
	RoundCreated  Kind = "round:created"
	RoundUpdated  Kind = "round:updated"
	RoundDeleted  Kind = "round:deleted"
	RoundResolved Kind = "round:resolved"

	ProphecyCreated Kind = "prophecy:created"
	ProphecyUpdated Kind = "prophecy:updated"
	ProphecyDeleted Kind = "prophecy:deleted"

	RatingCreated Kind = "rating:created"
	RatingUpdated Kind = "rating:updated"
	RatingDeleted Kind = "rating:deleted"

	BadgeAwarded Kind = "badge:awarded"
	BadgeRevoked Kind = "badge:revoked"

	UserCreated Kind = "user:created"
	UserUpdated Kind = "user:updated"
	UserDeleted Kind = "user:deleted"

	AuditLogCreated Kind = "audit-log:created"

	Connected Kind = "connected"
)

var knownKinds = map[Kind]struct{}{
	RoundCreated: {}, RoundUpdated: {}, RoundDeleted: {}, RoundResolved: {},
	ProphecyCreated: {}, ProphecyUpdated: {}, ProphecyDeleted: {},
	RatingCreated: {}, RatingUpdated: {}, RatingDeleted: {},
	BadgeAwarded: {}, BadgeRevoked: {},
	UserCreated: {}, UserUpdated: {}, UserDeleted: {},
	AuditLogCreated: {},
	Connected:       {},
}

var (
	ErrInvalidKind      = errors.New("invalid event kind")
	ErrMultilinePayload = errors.New("payload does not encode to a single line")
)

// Known reports whether k is one of the kinds emitted by this application.
// Unknown kinds are still deliverable.
func (k Kind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

// Validate rejects kinds that cannot be carried on an "event:" line.
func (k Kind) Validate() error {
	if k == "" || strings.ContainsAny(string(k), "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
	}
	return nil
}

// Event is a change notification fanned out to stream subscribers. Payload is
// opaque to the broker and only needs to be JSON serializable.
type Event struct {
	Kind    Kind
	Payload any
}

func NewEvent(kind Kind, payload any) Event {
	return Event{Kind: kind, Payload: payload}
}

// Frame encodes the event as
//
//	event: <kind>
//	data: <json>
//
// followed by a blank line.
func (e Event) Frame() ([]byte, error) {
	if err := e.Kind.Validate(); err != nil {
		return nil, err
	}
	data, err := sonic.ConfigStd.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Kind, err)
	}
	if bytes.ContainsAny(data, "\r\n") {
		return nil, fmt.Errorf("%w: %s", ErrMultilinePayload, e.Kind)
	}
	buf := make([]byte, 0, len(consts.SSEEventPrefix)+len(e.Kind)+len(consts.SSEDataPrefix)+len(data)+3)
	buf = append(buf, consts.SSEEventPrefix...)
	buf = append(buf, e.Kind...)
	buf = append(buf, '\n')
	buf = append(buf, consts.SSEDataPrefix...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	return buf, nil
}

// Envelope is the JSON shape producers use when handing events over a relay
// or the publish endpoint. An empty ClientID means broadcast.
type Envelope struct {
	Kind     Kind            `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
}

// ParseEnvelope decodes and validates a producer envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.ConfigStd.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Kind.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (env Envelope) Event() Event {
	if len(env.Payload) == 0 {
		return Event{Kind: env.Kind}
	}
	return Event{Kind: env.Kind, Payload: env.Payload}
}
