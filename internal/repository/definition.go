// Package repository defines storage interfaces for process definitions and
// subscriptions.
package repository

import (
	"context"

	"github.com/soochol/inflow/internal/inbound"
)

// ErrNotFound is returned when a requested definition or subscription does
// not exist.
var ErrNotFound = inbound.ErrNotFound

// DefinitionRepository abstracts persistence of deployed process definition
// versions so callers don't need to know whether storage is in-memory,
// PostgreSQL, or a mix.
type DefinitionRepository interface {
	Save(ctx context.Context, def *inbound.ProcessDefinition) error
	Get(ctx context.Context, id inbound.ProcessIdentity, version int64) (*inbound.ProcessDefinition, error)
	// Latest returns the highest deployed version of id.
	Latest(ctx context.Context, id inbound.ProcessIdentity) (*inbound.ProcessDefinition, error)
	// ListLatest returns the highest version of every process.
	ListLatest(ctx context.Context) ([]*inbound.ProcessDefinition, error)
	// ListVersions returns every version of id, oldest first.
	ListVersions(ctx context.Context, id inbound.ProcessIdentity) ([]*inbound.ProcessDefinition, error)
	// Delete removes all versions of id.
	Delete(ctx context.Context, id inbound.ProcessIdentity) error
}
