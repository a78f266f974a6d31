package inbound

import (
	"errors"
	"fmt"
	"time"
)

// ErrWebhooksDisabled is returned when a webhook-capable listener is activated
// while the runtime does not accept webhooks.
var ErrWebhooksDisabled = errors.New("webhook connectors are not supported in this environment")

// ErrUnknownListenerType is returned by a listener factory for unregistered types.
var ErrUnknownListenerType = errors.New("unknown listener type")

// ErrAlreadyActive is returned when a listener for the same key is already registered.
var ErrAlreadyActive = errors.New("listener already active")

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionExists is returned when a process definition version is deployed
// twice. Deployed versions are immutable.
var ErrVersionExists = errors.New("process version already deployed")

// --- Connector Definition ---

// ConnectorDefinition declares one element of a process version that wants an
// inbound listener. Properties are interpreted only by the listener type.
type ConnectorDefinition struct {
	Identity   ProcessIdentity `json:"identity"`
	Version    int64           `json:"version"`
	ElementID  string          `json:"element_id"`
	Type       string          `json:"type"`
	Properties map[string]any  `json:"properties,omitempty"`
}

// ListenerKey is the identity of an active listener. At most one listener may
// exist per key.
type ListenerKey struct {
	Identity  ProcessIdentity
	Version   int64
	ElementID string
}

func (k ListenerKey) String() string {
	return fmt.Sprintf("%s/v%d/%s", k.Identity, k.Version, k.ElementID)
}

// Key returns the registry key of the definition.
func (d ConnectorDefinition) Key() ListenerKey {
	return ListenerKey{Identity: d.Identity, Version: d.Version, ElementID: d.ElementID}
}

// StringProperty returns a string property or def when absent or not a string.
func (d ConnectorDefinition) StringProperty(name, def string) string {
	if v, ok := d.Properties[name].(string); ok && v != "" {
		return v
	}
	return def
}

// --- Health ---

// HealthStatus is the coarse state of a listener.
type HealthStatus string

const (
	HealthStatusUnknown HealthStatus = "unknown"
	HealthStatusUp      HealthStatus = "up"
	HealthStatusDown    HealthStatus = "down"
)

// Health is the last reported state of a listener.
type Health struct {
	Status    HealthStatus   `json:"status"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HealthUnknown is the state of a listener that is still starting.
func HealthUnknown() Health {
	return Health{Status: HealthStatusUnknown, UpdatedAt: time.Now()}
}

// HealthUp returns an up state with optional details.
func HealthUp(details map[string]any) Health {
	return Health{Status: HealthStatusUp, Details: details, UpdatedAt: time.Now()}
}

// HealthDown returns a down state recording err.
func HealthDown(err error) Health {
	h := Health{Status: HealthStatusDown, UpdatedAt: time.Now()}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}

// --- Activity ---

// Severity grades an activity log entry.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warning"
	SeverityError Severity = "error"
)

// Activity is one entry of a listener's bounded activity log.
type Activity struct {
	Severity  Severity  `json:"severity"`
	Tag       string    `json:"tag"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewActivity stamps an activity entry with the current time.
func NewActivity(severity Severity, tag, message string) Activity {
	return Activity{Severity: severity, Tag: tag, Message: message, Timestamp: time.Now()}
}

// --- Active Listener ---

// ActiveListenerView is a point-in-time copy of a registered listener.
type ActiveListenerView struct {
	ID          string              `json:"id"`
	Definition  ConnectorDefinition `json:"definition"`
	Health      Health              `json:"health"`
	Activities  []Activity          `json:"activities"`
	ActivatedAt time.Time           `json:"activated_at"`
}

// ListenerFilter selects listeners. Nil fields match everything; set fields
// are combined with logical AND.
type ListenerFilter struct {
	ProcessKey *string
	TenantID   *string
	ElementID  *string
	Type       *string
}

// Matches reports whether def satisfies every set field of the filter.
func (f ListenerFilter) Matches(def ConnectorDefinition) bool {
	if f.ProcessKey != nil && *f.ProcessKey != def.Identity.ProcessKey {
		return false
	}
	if f.TenantID != nil && *f.TenantID != def.Identity.TenantID {
		return false
	}
	if f.ElementID != nil && *f.ElementID != def.ElementID {
		return false
	}
	if f.Type != nil && *f.Type != def.Type {
		return false
	}
	return true
}

// --- Metrics ---

// Metric categories and actions emitted by the runtime.
const (
	MetricCategoryInbound = "inbound"

	ActionActivated         = "activated"
	ActionActivationFailed  = "activation_failed"
	ActionDeactivated       = "deactivated"
	ActionCorrelated        = "correlated"
	ActionCorrelationFailed = "correlation_failed"
)
