package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
	"github.com/soochol/inflow/internal/repository"
)

// DefinitionService deploys and deletes process definitions and announces
// the changes to the lifecycle coordinator right away. The periodic importer
// picks up the same changes later, which is harmless since deployments are
// deduplicated.
type DefinitionService struct {
	repo        repository.DefinitionRepository
	deployments ports.DeploymentHandler
	forgetter   ports.ProcessForgetter
}

func NewDefinitionService(
	repo repository.DefinitionRepository,
	deployments ports.DeploymentHandler,
	forgetter ports.ProcessForgetter,
) *DefinitionService {
	return &DefinitionService{repo: repo, deployments: deployments, forgetter: forgetter}
}

// Deploy stores document as a new version of the process it declares. A
// document without an explicit version gets the next free one. Deploying a
// document identical to the latest version is a no-op returning that version.
func (s *DefinitionService) Deploy(ctx context.Context, document []byte) (*inbound.ProcessDefinition, error) {
	doc, err := ParseDocument(document)
	if err != nil {
		return nil, err
	}
	id := doc.Identity()

	latest, err := s.repo.Latest(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load latest %s: %w", id, err)
	}
	if latest != nil && latest.Document == string(document) {
		return latest, nil
	}

	version := doc.Version
	if version == 0 {
		version = 1
		if latest != nil {
			version = latest.Version + 1
		}
	}

	def := &inbound.ProcessDefinition{
		Identity:   id,
		Version:    version,
		Name:       doc.Name,
		Document:   string(document),
		DeployedAt: time.Now(),
	}
	if err := s.repo.Save(ctx, def); err != nil {
		return nil, err
	}
	slog.Info("definitions: deployed", "process", id.String(), "version", version)

	if s.deployments != nil {
		s.deployments.OnNewDeployments(ctx, []inbound.ProcessVersionDescriptor{def.Descriptor()})
	}
	return def, nil
}

// Delete removes every version of id. Listeners stay active only for
// versions still referenced by running instances.
func (s *DefinitionService) Delete(ctx context.Context, id inbound.ProcessIdentity) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("definitions: deleted", "process", id.String())

	if s.forgetter != nil {
		s.forgetter.Forget(ctx, id)
	}
	return nil
}

// Get returns one version of id.
func (s *DefinitionService) Get(ctx context.Context, id inbound.ProcessIdentity, version int64) (*inbound.ProcessDefinition, error) {
	return s.repo.Get(ctx, id, version)
}

// ListLatest returns the latest version of every process.
func (s *DefinitionService) ListLatest(ctx context.Context) ([]*inbound.ProcessDefinition, error) {
	return s.repo.ListLatest(ctx)
}

// ListVersions returns every version of id, oldest first.
func (s *DefinitionService) ListVersions(ctx context.Context, id inbound.ProcessIdentity) ([]*inbound.ProcessDefinition, error) {
	return s.repo.ListVersions(ctx, id)
}
