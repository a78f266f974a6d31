package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
)

// DefaultActivityLogSize is the number of activity entries kept per listener.
const DefaultActivityLogSize = 10

var _ ports.ListenerQuery = (*ListenerRegistry)(nil)

// ListenerRegistry owns every active listener, keyed by process identity.
//
// Bookkeeping is sharded per process identity; listener Activate/Deactivate
// calls always run without any registry lock held.
type ListenerRegistry struct {
	factory    ports.ListenerFactory
	correlator ports.Correlator
	metrics    ports.MetricsSink
	health     ports.HealthSink
	webhooks   *WebhookRouter
	logSize    int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	shards map[inbound.ProcessIdentity]*registryShard
}

type registryShard struct {
	mu        sync.RWMutex
	listeners map[inbound.ListenerKey]*activeListener
}

// NewListenerRegistry creates a registry. Nil sinks are replaced with no-ops.
// Webhook acceptance is disabled until SetWebhookRouter is called.
func NewListenerRegistry(
	factory ports.ListenerFactory,
	correlator ports.Correlator,
	metrics ports.MetricsSink,
	health ports.HealthSink,
) *ListenerRegistry {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if health == nil {
		health = noopHealth{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ListenerRegistry{
		factory:    factory,
		correlator: correlator,
		metrics:    metrics,
		health:     health,
		logSize:    DefaultActivityLogSize,
		ctx:        ctx,
		cancel:     cancel,
		shards:     make(map[inbound.ProcessIdentity]*registryShard),
	}
}

// SetWebhookRouter enables webhook-capable listeners.
func (r *ListenerRegistry) SetWebhookRouter(router *WebhookRouter) {
	r.webhooks = router
}

// SetActivityLogSize bounds the per-listener activity log.
func (r *ListenerRegistry) SetActivityLogSize(n int) {
	if n > 0 {
		r.logSize = n
	}
}

// Activate registers and starts a listener for def. The listener is visible to
// queries before it is started. A failure leaves the entry registered with
// health down and is returned for the caller to log; it never affects other
// listeners.
func (r *ListenerRegistry) Activate(ctx context.Context, def inbound.ConnectorDefinition) error {
	key := def.Key()
	s := r.shard(def.Identity)

	s.mu.Lock()
	if _, exists := s.listeners[key]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", inbound.ErrAlreadyActive, key)
	}
	al := newActiveListener(def, r.logSize)
	s.listeners[key] = al
	s.mu.Unlock()

	r.setHealth(al, inbound.HealthUnknown())

	instance, err := r.factory.CreateInstance(def.Type)
	if err != nil {
		r.activationFailed(al, err)
		return err
	}
	return r.start(ctx, al, instance)
}

// start activates instance on behalf of al. It is shared by the first
// activation and by restarts.
func (r *ListenerRegistry) start(ctx context.Context, al *activeListener, instance ports.Listener) error {
	key := al.def.Key()

	wl, isWebhook := instance.(ports.WebhookListener)
	if isWebhook && r.webhooks == nil {
		err := fmt.Errorf("%s: %w", al.def.Type, inbound.ErrWebhooksDisabled)
		r.activationFailed(al, err)
		return err
	}

	gen := al.attach(instance)
	lc := &listenerContext{registry: r, listener: al, generation: gen}

	if err := safeActivate(ctx, instance, lc); err != nil {
		r.activationFailed(al, err)
		return err
	}

	al.mu.Lock()
	if al.removed || al.generation != gen {
		// deactivated or cancelled while starting; we still own the instance
		al.mu.Unlock()
		r.stopInstance(ctx, al.def, instance)
		return nil
	}
	if isWebhook {
		path := wl.WebhookPath()
		if err := r.webhooks.Register(path, key, wl); err != nil {
			al.mu.Unlock()
			r.stopInstance(ctx, al.def, instance)
			r.activationFailed(al, err)
			return err
		}
		al.webhook = path
	}
	al.running = true
	al.mu.Unlock()

	if al.healthStatus() == inbound.HealthStatusUnknown {
		r.setHealth(al, inbound.HealthUp(nil))
	}
	al.appendActivity(inbound.NewActivity(inbound.SeverityInfo, "lifecycle", "listener activated"))
	r.metrics.Increment(inbound.MetricCategoryInbound, inbound.ActionActivated, al.def.Type)
	slog.Info("registry: listener activated",
		"process", al.def.Identity.String(), "version", al.def.Version,
		"element", al.def.ElementID, "type", al.def.Type, "id", al.id)
	return nil
}

func (r *ListenerRegistry) activationFailed(al *activeListener, err error) {
	r.setHealth(al, inbound.HealthDown(err))
	al.appendActivity(inbound.NewActivity(inbound.SeverityError, "lifecycle", "activation failed: "+err.Error()))
	r.metrics.Increment(inbound.MetricCategoryInbound, inbound.ActionActivationFailed, al.def.Type)
	slog.Error("registry: listener activation failed",
		"process", al.def.Identity.String(), "version", al.def.Version,
		"element", al.def.ElementID, "type", al.def.Type, "err", err)
}

// Deactivate stops and removes the listener registered under key. It reports
// whether a listener was found; a second call for the same key is a no-op.
// Stop failures are logged and swallowed.
func (r *ListenerRegistry) Deactivate(ctx context.Context, key inbound.ListenerKey) bool {
	found, err := r.deactivateEntry(ctx, key, nil)
	if err != nil {
		slog.Warn("registry: listener stop failed",
			"listener", key.String(), "err", err)
	}
	return found
}

// deactivateEntry removes the entry for key. When expect is non-nil the entry
// is only removed if it is still that exact listener.
func (r *ListenerRegistry) deactivateEntry(ctx context.Context, key inbound.ListenerKey, expect *activeListener) (bool, error) {
	s := r.lookupShard(key.Identity)
	if s == nil {
		return false, nil
	}

	s.mu.Lock()
	al, ok := s.listeners[key]
	if ok && expect != nil && al != expect {
		ok = false
	}
	if ok {
		delete(s.listeners, key)
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	instance, path := al.detach(true)
	if path != "" {
		r.webhooks.Deregister(path, key)
	}

	var stopErr error
	if instance != nil {
		stopErr = safeDeactivate(ctx, instance)
	}

	r.metrics.Increment(inbound.MetricCategoryInbound, inbound.ActionDeactivated, al.def.Type)
	slog.Info("registry: listener deactivated",
		"process", al.def.Identity.String(), "version", al.def.Version,
		"element", al.def.ElementID, "type", al.def.Type, "id", al.id)
	return true, stopErr
}

func (r *ListenerRegistry) stopInstance(ctx context.Context, def inbound.ConnectorDefinition, instance ports.Listener) {
	if err := safeDeactivate(ctx, instance); err != nil {
		slog.Warn("registry: listener stop failed",
			"listener", def.Key().String(), "err", err)
	}
}

// Query returns snapshots of the listeners matching filter, ordered by key.
func (r *ListenerRegistry) Query(filter inbound.ListenerFilter) []inbound.ActiveListenerView {
	var out []inbound.ActiveListenerView
	for _, s := range r.snapshotShards() {
		s.mu.RLock()
		for _, al := range s.listeners {
			if filter.Matches(al.def) {
				out = append(out, al.view())
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return lessKey(out[i].Definition.Key(), out[j].Definition.Key())
	})
	return out
}

// ActiveDefinitions returns the definitions currently registered for id,
// including listeners whose activation failed.
func (r *ListenerRegistry) ActiveDefinitions(id inbound.ProcessIdentity) []inbound.ConnectorDefinition {
	s := r.lookupShard(id)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inbound.ConnectorDefinition, 0, len(s.listeners))
	for _, al := range s.listeners {
		out = append(out, al.def)
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key(), out[j].Key()) })
	return out
}

// Close stops restarts in flight and deactivates every listener. Stop errors
// are combined for the caller to log.
func (r *ListenerRegistry) Close(ctx context.Context) error {
	r.cancel()

	var keys []inbound.ListenerKey
	for _, s := range r.snapshotShards() {
		s.mu.RLock()
		for key := range s.listeners {
			keys = append(keys, key)
		}
		s.mu.RUnlock()
	}

	var errs error
	for _, key := range keys {
		if _, err := r.deactivateEntry(ctx, key, nil); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errs
}

func (r *ListenerRegistry) setHealth(al *activeListener, h inbound.Health) {
	al.setHealth(h)
	r.health.ReportHealth(al.def.Key(), h)
}

func (r *ListenerRegistry) shard(id inbound.ProcessIdentity) *registryShard {
	if s := r.lookupShard(id); s != nil {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shards[id]
	if !ok {
		s = &registryShard{listeners: make(map[inbound.ListenerKey]*activeListener)}
		r.shards[id] = s
	}
	return s
}

func (r *ListenerRegistry) lookupShard(id inbound.ProcessIdentity) *registryShard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shards[id]
}

func (r *ListenerRegistry) snapshotShards() []*registryShard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*registryShard, 0, len(r.shards))
	for _, s := range r.shards {
		out = append(out, s)
	}
	return out
}

func lessKey(a, b inbound.ListenerKey) bool {
	if a.Identity.TenantID != b.Identity.TenantID {
		return a.Identity.TenantID < b.Identity.TenantID
	}
	if a.Identity.ProcessKey != b.Identity.ProcessKey {
		return a.Identity.ProcessKey < b.Identity.ProcessKey
	}
	if a.Version != b.Version {
		return a.Version < b.Version
	}
	return a.ElementID < b.ElementID
}

// --- Active listener ---

type activeListener struct {
	id          string
	def         inbound.ConnectorDefinition
	activatedAt time.Time
	logSize     int

	mu         sync.Mutex
	instance   ports.Listener
	generation int
	running    bool
	removed    bool
	webhook    string
	health     inbound.Health
	activities []inbound.Activity
}

func newActiveListener(def inbound.ConnectorDefinition, logSize int) *activeListener {
	return &activeListener{
		id:          uuid.NewString(),
		def:         def,
		activatedAt: time.Now(),
		logSize:     logSize,
		health:      inbound.HealthUnknown(),
	}
}

// attach installs a new instance and returns its generation.
func (a *activeListener) attach(instance ports.Listener) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.instance = instance
	a.generation++
	a.running = false
	return a.generation
}

// detach takes ownership of the running instance, if any, and its webhook path.
func (a *activeListener) detach(remove bool) (ports.Listener, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if remove {
		a.removed = true
	}
	var instance ports.Listener
	if a.running {
		instance = a.instance
	}
	a.running = false
	path := a.webhook
	a.webhook = ""
	return instance, path
}

func (a *activeListener) current(gen int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.removed && a.generation == gen
}

// claim retires generation gen. Only the first caller for a generation gets
// true, so a listener cancelling twice schedules one restart or removal.
func (a *activeListener) claim(gen int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.removed || a.generation != gen {
		return false
	}
	a.generation++
	return true
}

func (a *activeListener) isRemoved() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.removed
}

func (a *activeListener) isRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *activeListener) setHealth(h inbound.Health) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.health = h
}

func (a *activeListener) healthStatus() inbound.HealthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.health.Status
}

func (a *activeListener) appendActivity(act inbound.Activity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.activities) >= a.logSize {
		a.activities = append(a.activities[:0], a.activities[len(a.activities)-a.logSize+1:]...)
	}
	a.activities = append(a.activities, act)
}

func (a *activeListener) view() inbound.ActiveListenerView {
	a.mu.Lock()
	defer a.mu.Unlock()
	acts := make([]inbound.Activity, len(a.activities))
	copy(acts, a.activities)
	return inbound.ActiveListenerView{
		ID:          a.id,
		Definition:  a.def,
		Health:      a.health,
		Activities:  acts,
		ActivatedAt: a.activatedAt,
	}
}

// --- Listener context ---

type listenerContext struct {
	registry   *ListenerRegistry
	listener   *activeListener
	generation int
}

func (c *listenerContext) Definition() inbound.ConnectorDefinition {
	return c.listener.def
}

func (c *listenerContext) Correlate(ctx context.Context, payload map[string]any) (ports.CorrelationResult, error) {
	r := c.registry
	def := c.listener.def
	if r.correlator == nil {
		return ports.CorrelationResult{}, fmt.Errorf("no correlator configured")
	}

	res, err := r.correlator.Correlate(ctx, def, payload)
	if err != nil {
		r.metrics.Increment(inbound.MetricCategoryInbound, inbound.ActionCorrelationFailed, def.Type)
		c.listener.appendActivity(inbound.NewActivity(inbound.SeverityError, "correlation", err.Error()))
		return res, err
	}
	r.metrics.Increment(inbound.MetricCategoryInbound, inbound.ActionCorrelated, def.Type)
	msg := "event correlated"
	if !res.Activated {
		msg = "event ignored: " + res.Reason
	}
	c.listener.appendActivity(inbound.NewActivity(inbound.SeverityInfo, "correlation", msg))
	return res, nil
}

func (c *listenerContext) ReportHealth(h inbound.Health) {
	if !c.listener.current(c.generation) {
		return
	}
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = time.Now()
	}
	c.registry.setHealth(c.listener, h)
}

func (c *listenerContext) Log(a inbound.Activity) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	c.listener.appendActivity(a)
}

// Cancel is the cancellation callback handed to listeners. It goes through
// the same idempotent deactivation path as an external call, asynchronously
// so that a listener may call it from its own worker goroutine.
func (c *listenerContext) Cancel(err error) {
	al := c.listener
	if !al.claim(c.generation) {
		return
	}
	slog.Error("registry: listener cancelled itself",
		"listener", al.def.Key().String(), "type", al.def.Type, "err", err)
	if err != nil {
		al.appendActivity(inbound.NewActivity(inbound.SeverityError, "lifecycle", "cancelled: "+err.Error()))
	}

	if retry, ok := inbound.AsRetryable(err); ok {
		go c.registry.restart(al, retry)
		return
	}
	go func() {
		c.registry.setHealth(al, inbound.HealthDown(err))
		if _, stopErr := c.registry.deactivateEntry(c.registry.ctx, al.def.Key(), al); stopErr != nil {
			slog.Warn("registry: listener stop failed",
				"listener", al.def.Key().String(), "err", stopErr)
		}
	}()
}

// --- helpers ---

func safeActivate(ctx context.Context, l ports.Listener, lc ports.ListenerContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener panicked during activation: %v", p)
		}
	}()
	return l.Activate(ctx, lc)
}

func safeDeactivate(ctx context.Context, l ports.Listener) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener panicked during deactivation: %v", p)
		}
	}()
	return l.Deactivate(ctx)
}

type noopMetrics struct{}

func (noopMetrics) Increment(string, string, string) {}

type noopHealth struct{}

func (noopHealth) ReportHealth(inbound.ListenerKey, inbound.Health) {}
