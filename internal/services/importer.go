package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
	"github.com/soochol/inflow/internal/repository"
	"github.com/soochol/inflow/internal/services/scheduler"
)

const (
	importJob = "import-deployments"
	scanJob   = "scan-subscriptions"
)

// ImportService periodically pulls the deployment and subscription state
// from the repositories and feeds it to the lifecycle coordinator.
type ImportService struct {
	scheduler   *scheduler.Scheduler
	defs        repository.DefinitionRepository
	subs        repository.SubscriptionRepository
	deployments ports.DeploymentHandler
	liveness    ports.LivenessHandler
	forgetter   ports.ProcessForgetter

	importSchedule string
	scanSchedule   string

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	known      map[inbound.ProcessIdentity]struct{}
	referenced map[inbound.ProcessIdentity]struct{}
}

// NewImportService creates an ImportService. The schedules are cron
// expressions; an empty schedule disables that job.
func NewImportService(
	sched *scheduler.Scheduler,
	defs repository.DefinitionRepository,
	subs repository.SubscriptionRepository,
	coordinator *LifecycleCoordinator,
	importSchedule, scanSchedule string,
) *ImportService {
	return &ImportService{
		scheduler:      sched,
		defs:           defs,
		subs:           subs,
		deployments:    coordinator,
		liveness:       coordinator,
		forgetter:      coordinator,
		importSchedule: importSchedule,
		scanSchedule:   scanSchedule,
		known:          make(map[inbound.ProcessIdentity]struct{}),
		referenced:     make(map[inbound.ProcessIdentity]struct{}),
	}
}

// Start runs one import and one scan, then registers the periodic jobs.
func (s *ImportService) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.ImportDeployments(s.ctx); err != nil {
		slog.Warn("importer: initial import failed", "err", err)
	}
	if err := s.ScanSubscriptions(s.ctx); err != nil {
		slog.Warn("importer: initial subscription scan failed", "err", err)
	}

	if s.importSchedule != "" {
		if err := s.scheduler.Add(importJob, s.importSchedule, "", s.runImport); err != nil {
			return fmt.Errorf("schedule import: %w", err)
		}
	}
	if s.scanSchedule != "" {
		if err := s.scheduler.Add(scanJob, s.scanSchedule, "", s.runScan); err != nil {
			return fmt.Errorf("schedule subscription scan: %w", err)
		}
	}
	slog.Info("importer: started", "import", s.importSchedule, "scan", s.scanSchedule)
	return nil
}

// Stop unregisters the periodic jobs and cancels a run in progress.
func (s *ImportService) Stop() {
	s.scheduler.Remove(importJob)
	s.scheduler.Remove(scanJob)
	if s.cancel != nil {
		s.cancel()
	}
	slog.Info("importer: stopped")
}

func (s *ImportService) runImport() {
	if err := s.ImportDeployments(s.ctx); err != nil {
		slog.Warn("importer: import failed", "err", err)
	}
}

func (s *ImportService) runScan() {
	if err := s.ScanSubscriptions(s.ctx); err != nil {
		slog.Warn("importer: subscription scan failed", "err", err)
	}
}

// ImportDeployments announces the latest version of every stored process.
// Processes that disappeared since the previous import are forgotten.
func (s *ImportService) ImportDeployments(ctx context.Context) error {
	latest, err := s.defs.ListLatest(ctx)
	if err != nil {
		return fmt.Errorf("list definitions: %w", err)
	}

	batch := make([]inbound.ProcessVersionDescriptor, 0, len(latest))
	current := make(map[inbound.ProcessIdentity]struct{}, len(latest))
	for _, d := range latest {
		batch = append(batch, d.Descriptor())
		current[d.Identity] = struct{}{}
	}

	s.mu.Lock()
	var removed []inbound.ProcessIdentity
	for id := range s.known {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	s.known = current
	s.mu.Unlock()

	s.deployments.OnNewDeployments(ctx, batch)
	for _, id := range removed {
		slog.Info("importer: process removed", "process", id.String())
		s.forgetter.Forget(ctx, id)
	}

	slog.Debug("importer: deployments imported", "processes", len(batch), "removed", len(removed))
	return nil
}

// ScanSubscriptions publishes the referenced versions of every process. A
// process that had subscriptions on the previous scan and has none now is
// published with an empty set so that its old versions are released.
func (s *ImportService) ScanSubscriptions(ctx context.Context) error {
	refs, err := s.subs.ReferencedVersions(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	s.mu.Lock()
	for id := range s.referenced {
		if _, ok := refs[id]; !ok {
			refs[id] = inbound.NewVersionSet()
		}
	}
	s.referenced = make(map[inbound.ProcessIdentity]struct{}, len(refs))
	for id, versions := range refs {
		if versions.Len() > 0 {
			s.referenced[id] = struct{}{}
		}
	}
	s.mu.Unlock()

	if len(refs) == 0 {
		return nil
	}
	s.liveness.OnLivenessObservation(ctx, inbound.LivenessObservation{
		Affected: refs,
		Kind:     inbound.LivenessReferenced,
	})
	return nil
}
