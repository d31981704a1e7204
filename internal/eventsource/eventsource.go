// Package eventsource defines the inbound event feed abstraction and a
// shared envelope format. Concrete sources live in subpackages.
package eventsource

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one inbound occurrence delivered to the engine.
type Event struct {
	Name      string         `json:"event"`
	OrgID     string         `json:"orgId"`
	Payload   map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler consumes inbound events. Implementations must not block: the
// dispatcher enqueues and returns.
type Handler func(ctx context.Context, ev Event)

// Source is a connected feed of events.
type Source interface {
	// Start connects and begins delivering events to the handler.
	Start(ctx context.Context, handler Handler) error

	// Close disconnects the source.
	Close()
}

// envelope is the expected wire format of an event message.
type envelope struct {
	Event string         `json:"event"`
	OrgID string         `json:"orgId"`
	Data  map[string]any `json:"data"`
}

// Decode parses a message body into an Event. Bodies that are not an
// envelope fall back to the transport subject as the event name and the
// whole body as payload, so plain sensor-style messages still route.
func Decode(subject, defaultOrg string, body []byte, now time.Time) Event {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Event != "" {
		if env.OrgID == "" {
			env.OrgID = defaultOrg
		}
		return Event{
			Name:      env.Event,
			OrgID:     env.OrgID,
			Payload:   env.Data,
			Timestamp: now,
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		payload = map[string]any{"raw": string(body)}
	}
	return Event{
		Name:      subject,
		OrgID:     defaultOrg,
		Payload:   payload,
		Timestamp: now,
	}
}
