package ports

import (
	"context"
	"net/http"

	"github.com/soochol/inflow/internal/inbound"
)

// Listener is a long-running worker that watches an external event source.
// Activate may start background goroutines; Deactivate must stop them.
type Listener interface {
	Activate(ctx context.Context, lc ListenerContext) error
	Deactivate(ctx context.Context) error
}

// WebhookListener is the optional capability of listeners that are driven by
// inbound HTTP requests routed to them by path.
type WebhookListener interface {
	Listener
	WebhookPath() string
	Handle(ctx context.Context, req WebhookRequest) (WebhookResponse, error)
}

// WebhookRequest is the transport-neutral form of an inbound webhook call.
type WebhookRequest struct {
	Method string
	Header http.Header
	Query  map[string][]string
	Body   []byte
}

// WebhookResponse is what a webhook listener answers to the caller.
type WebhookResponse struct {
	StatusCode int
	Body       map[string]any
}

// ListenerFactory creates listener instances by type name.
type ListenerFactory interface {
	CreateInstance(typ string) (Listener, error)
}

// ListenerContext is handed to a listener on activation. It is the listener's
// only way to reach the rest of the runtime.
type ListenerContext interface {
	Definition() inbound.ConnectorDefinition
	// Correlate hands an event payload to the correlation collaborator.
	Correlate(ctx context.Context, payload map[string]any) (CorrelationResult, error)
	ReportHealth(h inbound.Health)
	Log(a inbound.Activity)
	// Cancel signals a failure the listener cannot handle itself. The runtime
	// deactivates the listener, or restarts it when err is an
	// *inbound.RetryableError.
	Cancel(err error)
}

// CorrelationResult describes what correlation did with an event.
type CorrelationResult struct {
	Activated         bool   `json:"activated"`
	ProcessInstanceID string `json:"process_instance_id,omitempty"`
	MessageKey        string `json:"message_key,omitempty"`
	// Duplicate marks a message the engine had already received.
	Duplicate     bool   `json:"duplicate,omitempty"`
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason,omitempty"`
}

// Correlator decides whether an event starts a process instance or is
// delivered to a running one.
type Correlator interface {
	Correlate(ctx context.Context, def inbound.ConnectorDefinition, payload map[string]any) (CorrelationResult, error)
}
