package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TypeURLVerification is the handshake the platform sends when the endpoint is configured
const TypeURLVerification = "url_verification"

// ErrInvalidEvent is returned when a decoded payload is neither a challenge nor an event
var ErrInvalidEvent = errors.New("invalid event payload")

// EventHeader carries the routing metadata of an event
type EventHeader struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Token      string `json:"token"`
	AppID      string `json:"app_id"`
	TenantKey  string `json:"tenant_key"`
}

// Event is a decoded inbound event; Body is left raw for the application to route
type Event struct {
	Schema string          `json:"schema"`
	Header EventHeader     `json:"header"`
	Body   json.RawMessage `json:"event"`
}

// envelopePayload covers every shape a decoded request can take: encrypted wrapper,
// url_verification challenge, schema 2.0 events and legacy 1.0 callbacks
type envelopePayload struct {
	Encrypt   string          `json:"encrypt"`
	Challenge string          `json:"challenge"`
	Type      string          `json:"type"`
	Token     string          `json:"token"`
	Schema    string          `json:"schema"`
	Header    *EventHeader    `json:"header"`
	Event     json.RawMessage `json:"event"`
	UUID      string          `json:"uuid"`
	TS        string          `json:"ts"`
}

func parsePayload(data []byte) (*envelopePayload, error) {
	var p envelopePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return &p, nil
}

func (p *envelopePayload) isChallenge() bool {
	return p.Type == TypeURLVerification
}

// toEvent normalizes both schema versions into an Event
func (p *envelopePayload) toEvent() (*Event, error) {
	if p.Header != nil {
		if p.Header.EventID == "" {
			return nil, fmt.Errorf("%w: missing event_id", ErrInvalidEvent)
		}
		return &Event{Schema: p.Schema, Header: *p.Header, Body: p.Event}, nil
	}

	if p.UUID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	}
	event := &Event{
		Schema: "1.0",
		Header: EventHeader{EventID: p.UUID, CreateTime: p.TS, Token: p.Token},
		Body:   p.Event,
	}
	var inner struct {
		Type      string `json:"type"`
		AppID     string `json:"app_id"`
		TenantKey string `json:"tenant_key"`
	}
	if len(p.Event) > 0 && json.Unmarshal(p.Event, &inner) == nil {
		event.Header.EventType = inner.Type
		event.Header.AppID = inner.AppID
		event.Header.TenantKey = inner.TenantKey
	}
	return event, nil
}
