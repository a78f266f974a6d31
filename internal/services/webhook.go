package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
)

var (
	ErrWebhookPathInUse = errors.New("webhook path already in use")
	ErrWebhookPathEmpty = errors.New("webhook path is empty")
)

// WebhookRouter maps public webhook paths to the listeners that serve them.
type WebhookRouter struct {
	mu     sync.RWMutex
	routes map[string]webhookRoute
}

type webhookRoute struct {
	key      inbound.ListenerKey
	listener ports.WebhookListener
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{routes: make(map[string]webhookRoute)}
}

// Register binds path to listener. A path owned by a different listener key
// is rejected.
func (w *WebhookRouter) Register(path string, key inbound.ListenerKey, listener ports.WebhookListener) error {
	path = normalizeWebhookPath(path)
	if path == "" {
		return ErrWebhookPathEmpty
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.routes[path]; ok && existing.key != key {
		return fmt.Errorf("%w: %q is served by %s", ErrWebhookPathInUse, path, existing.key)
	}
	w.routes[path] = webhookRoute{key: key, listener: listener}
	return nil
}

// Deregister removes path if it is still owned by key.
func (w *WebhookRouter) Deregister(path string, key inbound.ListenerKey) {
	path = normalizeWebhookPath(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.routes[path]; ok && existing.key == key {
		delete(w.routes, path)
	}
}

// Lookup returns the listener serving path.
func (w *WebhookRouter) Lookup(path string) (ports.WebhookListener, inbound.ListenerKey, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	route, ok := w.routes[normalizeWebhookPath(path)]
	return route.listener, route.key, ok
}

// Paths lists the registered paths in order.
func (w *WebhookRouter) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.routes))
	for p := range w.routes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func normalizeWebhookPath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}
