// Package collab defines the external collaborators the engine calls out to.
// The engine only knows these interfaces; real adapters live outside this
// repository, except for the HTTP webhook caller.
package collab

import (
	"context"
	"time"
)

// Notification is a delivery request for the notification sender.
type Notification struct {
	Type       string   // email, sms, push, slack
	Recipients []string // delivery identifiers for the given type
	Subject    string
	Body       string
	Priority   string
}

// Notifier sends notifications over a delivery channel.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// WebhookRequest describes one outbound HTTP call.
type WebhookRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    any
	Timeout time.Duration
}

// WebhookResponse carries the outcome of a webhook call.
type WebhookResponse struct {
	StatusCode int
	Body       []byte
}

// WebhookCaller performs outbound HTTP calls with an explicit per-call
// timeout.
type WebhookCaller interface {
	Call(ctx context.Context, req WebhookRequest) (*WebhookResponse, error)
}

// RecordStore is the generic CRUD collaborator for record actions and
// query steps.
type RecordStore interface {
	Create(ctx context.Context, table string, fields map[string]any) (string, error)
	Update(ctx context.Context, table, id string, fields map[string]any) error
	Delete(ctx context.Context, table, id string) error
	Query(ctx context.Context, query string) ([]map[string]any, error)
}

// ScriptSandbox runs arbitrary scripts by reference.
type ScriptSandbox interface {
	Run(ctx context.Context, scriptRef string, args map[string]any) (map[string]any, error)
}
