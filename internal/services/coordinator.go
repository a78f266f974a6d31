package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
	"github.com/soochol/inflow/internal/liveness"
)

var (
	_ ports.DeploymentHandler = (*LifecycleCoordinator)(nil)
	_ ports.LivenessHandler   = (*LifecycleCoordinator)(nil)
)

// LifecycleCoordinator turns deployment and subscription signals into
// listener activations. For every process it touches it replaces all
// listeners of that process with the definitions of the versions that are
// currently required.
//
// Connector definitions are cached per version once inspected, since a
// deployed version never changes. A version whose document was deleted while
// running instances still reference it therefore keeps its listeners. A
// process whose required versions cannot all be resolved keeps its current
// listeners and is retried on the next signal.
type LifecycleCoordinator struct {
	store     *liveness.Store
	registry  *ListenerRegistry
	inspector ports.DefinitionInspector
	limiter   *ConcurrencyLimiter
	workers   int

	mu       sync.Mutex
	seen     map[inbound.ProcessVersionDescriptor]struct{}
	resolved map[inbound.ProcessVersionDescriptor][]inbound.ConnectorDefinition
	pending  map[inbound.ProcessIdentity]struct{}
}

// NewLifecycleCoordinator creates a coordinator. workers bounds how many
// processes of one batch are handled in parallel.
func NewLifecycleCoordinator(
	store *liveness.Store,
	registry *ListenerRegistry,
	inspector ports.DefinitionInspector,
	limiter *ConcurrencyLimiter,
	workers int,
) *LifecycleCoordinator {
	if workers <= 0 {
		workers = inbound.DefaultConcurrencyLimits().GlobalMax
	}
	return &LifecycleCoordinator{
		store:     store,
		registry:  registry,
		inspector: inspector,
		limiter:   limiter,
		workers:   workers,
		seen:      make(map[inbound.ProcessVersionDescriptor]struct{}),
		resolved:  make(map[inbound.ProcessVersionDescriptor][]inbound.ConnectorDefinition),
		pending:   make(map[inbound.ProcessIdentity]struct{}),
	}
}

// OnNewDeployments handles a batch of deployment announcements. Descriptors
// seen before are dropped, and only the highest new version of each process
// is activated. A process whose handling fails stays unseen and is retried on
// the next delivery. Processes left unresolved by earlier signals are retried
// as well.
func (c *LifecycleCoordinator) OnNewDeployments(ctx context.Context, batch []inbound.ProcessVersionDescriptor) {
	highest := c.newestUnseen(batch)
	retry := pendingExcept(c, highest)
	if len(highest) == 0 && len(retry) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(c.workers)
	for id, version := range highest {
		id, version := id, version
		g.Go(func() error {
			if err := c.deploy(ctx, id, version); err != nil {
				slog.Error("coordinator: deployment failed",
					"process", id.String(), "version", version, "err", err)
				return nil
			}
			c.markSeen(inbound.ProcessVersionDescriptor{Identity: id, Version: version})
			return nil
		})
	}
	for _, id := range retry {
		id := id
		g.Go(func() error {
			if err := c.apply(ctx, id); err != nil {
				slog.Error("coordinator: retry failed", "process", id.String(), "err", err)
			}
			return nil
		})
	}
	g.Wait()
}

// newestUnseen drops descriptors already handled and returns the highest
// remaining version per process. Older versions are marked seen right away.
func (c *LifecycleCoordinator) newestUnseen(batch []inbound.ProcessVersionDescriptor) map[inbound.ProcessIdentity]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	highest := make(map[inbound.ProcessIdentity]int64)
	for _, d := range batch {
		if _, ok := c.seen[d]; ok {
			continue
		}
		if cur, ok := highest[d.Identity]; !ok || d.Version > cur {
			highest[d.Identity] = d.Version
		}
	}
	for _, d := range batch {
		if v, ok := highest[d.Identity]; ok && d.Version < v {
			c.seen[d] = struct{}{}
		}
	}
	return highest
}

func (c *LifecycleCoordinator) deploy(ctx context.Context, id inbound.ProcessIdentity, version int64) error {
	if err := c.limiter.Acquire(ctx, id); err != nil {
		return err
	}
	defer c.limiter.Release(id)

	desc := inbound.ProcessVersionDescriptor{Identity: id, Version: version}
	if c.isSeen(desc) {
		return nil
	}
	if current, ok := c.store.Primary(id).Max(); ok && version < current {
		slog.Info("coordinator: ignoring deployment older than current",
			"process", id.String(), "version", version, "current", current)
		return nil
	}

	// always inspected afresh: a deleted process may reuse a version number
	if _, err := c.inspect(ctx, id, version); err != nil {
		return err
	}

	c.store.Reconcile(inbound.LivenessObservation{
		Affected: map[inbound.ProcessIdentity]inbound.VersionSet{id: inbound.NewVersionSet(version)},
		Kind:     inbound.LivenessPrimary,
	})
	return c.replaceAll(ctx, id)
}

// OnLivenessObservation feeds obs into the liveness store and re-applies
// listeners for every process whose required version set changed, plus every
// process left unresolved by an earlier signal.
func (c *LifecycleCoordinator) OnLivenessObservation(ctx context.Context, obs inbound.LivenessObservation) {
	res := c.store.Reconcile(obs)
	targets := pendingExcept(c, res.AffectedProcesses)
	for id := range res.AffectedProcesses {
		targets = append(targets, id)
	}
	if len(targets) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(c.workers)
	for _, id := range targets {
		id := id
		g.Go(func() error {
			if err := c.apply(ctx, id); err != nil {
				slog.Error("coordinator: reconciliation failed",
					"process", id.String(), "kind", obs.Kind, "err", err)
			}
			return nil
		})
	}
	g.Wait()
}

// apply replaces the listeners of id under its process slot. The version set
// is read after acquiring the slot so that overlapping signals converge on
// the latest state.
func (c *LifecycleCoordinator) apply(ctx context.Context, id inbound.ProcessIdentity) error {
	if err := c.limiter.Acquire(ctx, id); err != nil {
		return err
	}
	defer c.limiter.Release(id)
	return c.replaceAll(ctx, id)
}

// Forget handles a deleted process: its primary set becomes empty, so only
// versions still referenced by running instances keep listeners.
func (c *LifecycleCoordinator) Forget(ctx context.Context, id inbound.ProcessIdentity) {
	c.mu.Lock()
	for d := range c.seen {
		if d.Identity == id {
			delete(c.seen, d)
		}
	}
	c.mu.Unlock()

	c.OnLivenessObservation(ctx, inbound.LivenessObservation{
		Affected: map[inbound.ProcessIdentity]inbound.VersionSet{id: inbound.NewVersionSet()},
		Kind:     inbound.LivenessPrimary,
	})
}

// Shutdown deactivates every listener.
func (c *LifecycleCoordinator) Shutdown(ctx context.Context) error {
	return c.registry.Close(ctx)
}

// replaceAll resolves every effective version of id and only then swaps its
// listeners. If any version cannot be resolved the listeners are left as they
// are and id is kept pending. The caller holds the process slot.
func (c *LifecycleCoordinator) replaceAll(ctx context.Context, id inbound.ProcessIdentity) error {
	versions := c.store.Effective(id)
	desired, err := c.resolve(ctx, id, versions)
	if err != nil {
		c.markPending(id)
		return err
	}
	c.replace(ctx, id, desired)

	c.mu.Lock()
	delete(c.pending, id)
	for d := range c.resolved {
		if d.Identity == id && !versions.Has(d.Version) {
			delete(c.resolved, d)
		}
	}
	if v, ok := c.store.Primary(id).Max(); ok {
		c.seen[inbound.ProcessVersionDescriptor{Identity: id, Version: v}] = struct{}{}
	}
	c.mu.Unlock()
	return nil
}

// resolve collects the connector definitions of every version in versions,
// from the cache where possible. It fails on the first version that cannot be
// inspected.
func (c *LifecycleCoordinator) resolve(
	ctx context.Context,
	id inbound.ProcessIdentity,
	versions inbound.VersionSet,
) ([]inbound.ConnectorDefinition, error) {
	var out []inbound.ConnectorDefinition
	for _, v := range versions.Sorted() {
		c.mu.Lock()
		defs, ok := c.resolved[inbound.ProcessVersionDescriptor{Identity: id, Version: v}]
		c.mu.Unlock()
		if !ok {
			var err error
			if defs, err = c.inspect(ctx, id, v); err != nil {
				return nil, err
			}
		}
		out = append(out, defs...)
	}
	return out, nil
}

func (c *LifecycleCoordinator) inspect(ctx context.Context, id inbound.ProcessIdentity, version int64) ([]inbound.ConnectorDefinition, error) {
	defs, err := c.inspector.FindConnectorDefinitions(ctx, id, version)
	if err != nil {
		return nil, fmt.Errorf("inspect %s v%d: %w", id, version, err)
	}
	c.mu.Lock()
	c.resolved[inbound.ProcessVersionDescriptor{Identity: id, Version: version}] = defs
	c.mu.Unlock()
	return defs, nil
}

// replace deactivates all listeners of id, then activates desired. Failures
// of single listeners are reported by the registry and do not stop the rest.
func (c *LifecycleCoordinator) replace(ctx context.Context, id inbound.ProcessIdentity, desired []inbound.ConnectorDefinition) {
	current := c.registry.ActiveDefinitions(id)
	for _, def := range current {
		c.registry.Deactivate(ctx, def.Key())
	}

	failed := 0
	for _, def := range desired {
		if err := c.registry.Activate(ctx, def); err != nil {
			failed++
		}
	}

	slog.Info("coordinator: listeners replaced",
		"process", id.String(),
		"deactivated", len(current),
		"activated", len(desired)-failed,
		"failed", failed)
}

// pendingExcept returns the pending processes of c that are not keys of skip.
func pendingExcept[V any](c *LifecycleCoordinator, skip map[inbound.ProcessIdentity]V) []inbound.ProcessIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []inbound.ProcessIdentity
	for id := range c.pending {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func (c *LifecycleCoordinator) markPending(id inbound.ProcessIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] = struct{}{}
}

func (c *LifecycleCoordinator) isSeen(d inbound.ProcessVersionDescriptor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[d]
	return ok
}

func (c *LifecycleCoordinator) markSeen(d inbound.ProcessVersionDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[d] = struct{}{}
}
