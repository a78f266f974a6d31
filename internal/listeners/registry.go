// Package listeners implements the built-in inbound listener types and the
// factory that creates them by type name.
package listeners

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
)

// Built-in listener type names.
const (
	TypeWebhook = "webhook"
	TypeTimer   = "timer"
	TypeFeed    = "feed"
)

// Constructor creates a fresh, inactive listener instance.
type Constructor func() ports.Listener

// Registry maps listener type names to constructors. It implements
// ports.ListenerFactory.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Constructor)}
}

// NewDefaultRegistry returns a registry with the webhook, timer and feed
// listeners registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeWebhook, func() ports.Listener { return NewWebhookListener() })
	r.Register(TypeTimer, func() ports.Listener { return NewTimerListener() })
	r.Register(TypeFeed, func() ports.Listener { return NewFeedListener() })
	return r
}

// Register adds or replaces the constructor for typ.
func (r *Registry) Register(typ string, fn Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[typ] = fn
}

func (r *Registry) CreateInstance(typ string) (ports.Listener, error) {
	r.mu.RLock()
	fn, ok := r.types[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", inbound.ErrUnknownListenerType, typ)
	}
	return fn(), nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for typ := range r.types {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// intProperty reads an integer property. Documents decoded from YAML carry
// ints while JSON carries float64; numeric strings are accepted too.
func intProperty(def inbound.ConnectorDefinition, name string, fallback int) (int, error) {
	switch v := def.Properties[name].(type) {
	case nil:
		return fallback, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("property %s: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("property %s: unsupported type %T", name, v)
	}
}

// durationProperty reads a Go duration string such as "30s" or "5m".
func durationProperty(def inbound.ConnectorDefinition, name string, fallback time.Duration) (time.Duration, error) {
	s := def.StringProperty(name, "")
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("property %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("property %s: must be positive", name)
	}
	return d, nil
}
