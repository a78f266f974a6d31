// Package correlation decides what an inbound event does in the process
// engine: start an instance, publish a message to a running one, or nothing.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
)

// Correlation errors.
var (
	ErrInvalidCondition  = errors.New("invalid activation condition")
	ErrInvalidExpression = errors.New("invalid expression")
	ErrNoCorrelationKey  = errors.New("no correlation key")
	ErrUnknownMode       = errors.New("unknown correlation mode")
	// ErrMessageExists is returned by a MessagePublisher when a message with
	// the same id was already published.
	ErrMessageExists = errors.New("message already published")
)

// Connector properties read by the handler.
const (
	PropActivationCondition = "activation_condition"
	PropResultVariable      = "result_variable"
	PropCorrelation         = "correlation"
	PropMessageName         = "message_name"
	PropCorrelationKey      = "correlation_key" // expression
	PropMessageID           = "message_id"      // expression
	PropMessageTTL          = "message_ttl"
)

// Correlation modes.
const (
	// ModeStart starts a new instance of the listener's process version.
	ModeStart = "start"
	// ModeMessage publishes a message to a running instance waiting on the
	// correlation key. The key is required.
	ModeMessage = "message"
	// ModeMessageStart publishes a message that starts an instance. The key
	// is optional.
	ModeMessageStart = "message_start"
)

// DefaultMessageTTL is how long the engine buffers a published message that
// no instance has picked up yet.
const DefaultMessageTTL = time.Hour

// StartRequest asks the engine for a new process instance.
type StartRequest struct {
	Identity      inbound.ProcessIdentity `json:"-"`
	Version       int64                   `json:"version"`
	ElementID     string                  `json:"element_id"`
	CorrelationID string                  `json:"correlation_id"`
	Variables     map[string]any          `json:"variables,omitempty"`
}

// MessageRequest asks the engine to publish a message.
type MessageRequest struct {
	Identity       inbound.ProcessIdentity `json:"-"`
	ElementID      string                  `json:"element_id"`
	Name           string                  `json:"name"`
	CorrelationKey string                  `json:"correlation_key"`
	MessageID      string                  `json:"message_id,omitempty"`
	TTL            time.Duration           `json:"-"`
	CorrelationID  string                  `json:"correlation_id"`
	Variables      map[string]any          `json:"variables,omitempty"`
}

// ProcessStarter starts process instances and returns the new instance id.
type ProcessStarter interface {
	StartProcess(ctx context.Context, req StartRequest) (string, error)
}

// MessagePublisher publishes messages and returns the engine's message key.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, req MessageRequest) (string, error)
}

// Engine is the process engine as seen by the handler.
type Engine interface {
	ProcessStarter
	MessagePublisher
}

// Handler implements ports.Correlator. The optional activation_condition
// property is an expr expression evaluated against the event payload; nothing
// is correlated unless it is truthy. With result_variable set the payload is
// passed to the engine under that name, otherwise its top-level fields become
// the variables.
//
// The correlation property selects what a matching event does: start an
// instance (the default), or publish message_name with a correlation key and
// message id computed from the payload.
type Handler struct {
	engine   Engine
	programs sync.Map // expression source → *vm.Program
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) Correlate(ctx context.Context, def inbound.ConnectorDefinition, payload map[string]any) (ports.CorrelationResult, error) {
	result := ports.CorrelationResult{CorrelationID: uuid.NewString()}

	if condition := def.StringProperty(PropActivationCondition, ""); condition != "" {
		ok, err := h.evaluate(condition, payload)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Reason = "activation condition not met"
			slog.Debug("correlation: condition not met",
				"listener", def.Key().String(), "correlation_id", result.CorrelationID)
			return result, nil
		}
	}

	variables := payload
	if name := def.StringProperty(PropResultVariable, ""); name != "" {
		variables = map[string]any{name: payload}
	}

	switch mode := def.StringProperty(PropCorrelation, ModeStart); mode {
	case ModeStart:
		return h.start(ctx, def, result, variables)
	case ModeMessage, ModeMessageStart:
		return h.publish(ctx, def, mode, result, payload, variables)
	default:
		return result, fmt.Errorf("%w %q on %s", ErrUnknownMode, mode, def.Key())
	}
}

func (h *Handler) start(ctx context.Context, def inbound.ConnectorDefinition, result ports.CorrelationResult, variables map[string]any) (ports.CorrelationResult, error) {
	instanceID, err := h.engine.StartProcess(ctx, StartRequest{
		Identity:      def.Identity,
		Version:       def.Version,
		ElementID:     def.ElementID,
		CorrelationID: result.CorrelationID,
		Variables:     variables,
	})
	if err != nil {
		return result, fmt.Errorf("start process %s: %w", def.Identity, err)
	}

	result.Activated = true
	result.ProcessInstanceID = instanceID
	slog.Info("correlation: process started",
		"listener", def.Key().String(), "instance", instanceID, "correlation_id", result.CorrelationID)
	return result, nil
}

func (h *Handler) publish(
	ctx context.Context,
	def inbound.ConnectorDefinition,
	mode string,
	result ports.CorrelationResult,
	payload, variables map[string]any,
) (ports.CorrelationResult, error) {
	req := MessageRequest{
		Identity:      def.Identity,
		ElementID:     def.ElementID,
		Name:          def.StringProperty(PropMessageName, def.ElementID),
		TTL:           DefaultMessageTTL,
		CorrelationID: result.CorrelationID,
		Variables:     variables,
	}

	if source := def.StringProperty(PropCorrelationKey, ""); source != "" {
		key, err := h.evaluateString(source, payload)
		if err != nil {
			return result, err
		}
		req.CorrelationKey = key
	}
	if req.CorrelationKey == "" && mode == ModeMessage {
		return result, fmt.Errorf("%w for message %q on %s", ErrNoCorrelationKey, req.Name, def.Key())
	}
	if source := def.StringProperty(PropMessageID, ""); source != "" {
		id, err := h.evaluateString(source, payload)
		if err != nil {
			return result, err
		}
		req.MessageID = id
	}
	if raw := def.StringProperty(PropMessageTTL, ""); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl < 0 {
			return result, fmt.Errorf("%s %q on %s: invalid duration", PropMessageTTL, raw, def.Key())
		}
		req.TTL = ttl
	}

	messageKey, err := h.engine.PublishMessage(ctx, req)
	if errors.Is(err, ErrMessageExists) {
		result.Activated = true
		result.Duplicate = true
		result.Reason = "message already correlated"
		slog.Debug("correlation: duplicate message",
			"listener", def.Key().String(), "message", req.Name, "message_id", req.MessageID)
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("publish message %q: %w", req.Name, err)
	}

	result.Activated = true
	result.MessageKey = messageKey
	slog.Info("correlation: message published",
		"listener", def.Key().String(), "message", req.Name,
		"correlation_key", req.CorrelationKey, "message_key", messageKey, "correlation_id", result.CorrelationID)
	return result, nil
}

// evaluate runs condition against payload. Fields missing from the payload
// evaluate to nil instead of failing.
func (h *Handler) evaluate(condition string, payload map[string]any) (bool, error) {
	out, err := h.run(condition, payload)
	if err != nil {
		if errors.Is(err, ErrInvalidExpression) {
			return false, fmt.Errorf("%w: %w", ErrInvalidCondition, err)
		}
		return false, err
	}
	return isTruthy(out), nil
}

// evaluateString runs source against payload and renders the result. nil
// renders as the empty string.
func (h *Handler) evaluateString(source string, payload map[string]any) (string, error) {
	out, err := h.run(source, payload)
	if err != nil || out == nil {
		return "", err
	}
	switch v := out.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func (h *Handler) run(source string, payload map[string]any) (any, error) {
	var program *vm.Program
	if cached, ok := h.programs.Load(source); ok {
		program = cached.(*vm.Program)
	} else {
		p, err := expr.Compile(source, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidExpression, source, err)
		}
		h.programs.Store(source, p)
		program = p
	}

	env := payload
	if env == nil {
		env = map[string]any{}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", source, err)
	}
	return out, nil
}

// isTruthy converts a value to a boolean.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
