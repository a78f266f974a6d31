package services

import (
	"context"
	"fmt"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
	"github.com/soochol/inflow/internal/repository"
)

var _ ports.DefinitionInspector = (*DocumentInspector)(nil)

// DocumentInspector resolves connector definitions from the stored process
// documents.
type DocumentInspector struct {
	repo repository.DefinitionRepository
}

func NewDocumentInspector(repo repository.DefinitionRepository) *DocumentInspector {
	return &DocumentInspector{repo: repo}
}

func (i *DocumentInspector) FindConnectorDefinitions(ctx context.Context, id inbound.ProcessIdentity, version int64) ([]inbound.ConnectorDefinition, error) {
	def, err := i.repo.Get(ctx, id, version)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument([]byte(def.Document))
	if err != nil {
		return nil, fmt.Errorf("%s v%d: %w", id, version, err)
	}
	if doc.Identity() != id {
		return nil, fmt.Errorf("%w: stored as %s but declares %s", ErrInvalidDocument, id, doc.Identity())
	}
	return doc.ConnectorDefinitions(version), nil
}
