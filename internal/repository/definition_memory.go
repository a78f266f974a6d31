package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/soochol/inflow/internal/inbound"
	memstore "github.com/soochol/inflow/internal/repository/memory"
)

// MemoryDefinitionRepository is a thread-safe in-memory DefinitionRepository.
type MemoryDefinitionRepository struct {
	store *memstore.Store[inbound.ProcessVersionDescriptor, *inbound.ProcessDefinition]
}

func NewMemoryDefinitionRepository() *MemoryDefinitionRepository {
	return &MemoryDefinitionRepository{
		store: memstore.New((*inbound.ProcessDefinition).Descriptor),
	}
}

// Save stores a new version. Re-saving an identical document is accepted so
// that database reads can be cached; a different document for an existing
// version is rejected.
func (r *MemoryDefinitionRepository) Save(ctx context.Context, def *inbound.ProcessDefinition) error {
	err := r.store.Insert(ctx, def, func(stored, d *inbound.ProcessDefinition) bool {
		return stored.Document == d.Document
	})
	if errors.Is(err, memstore.ErrConflict) {
		return fmt.Errorf("%w: %s v%d", inbound.ErrVersionExists, def.Identity, def.Version)
	}
	return err
}

func (r *MemoryDefinitionRepository) Get(ctx context.Context, id inbound.ProcessIdentity, version int64) (*inbound.ProcessDefinition, error) {
	def, err := r.store.Get(ctx, inbound.ProcessVersionDescriptor{Identity: id, Version: version})
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s v%d", ErrNotFound, id, version)
	}
	return def, err
}

func (r *MemoryDefinitionRepository) Latest(ctx context.Context, id inbound.ProcessIdentity) (*inbound.ProcessDefinition, error) {
	versions, err := r.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return versions[len(versions)-1], nil
}

func (r *MemoryDefinitionRepository) ListLatest(ctx context.Context) ([]*inbound.ProcessDefinition, error) {
	latest := make(map[inbound.ProcessIdentity]*inbound.ProcessDefinition)
	for _, d := range r.store.Filter(ctx, nil) {
		if cur, ok := latest[d.Identity]; !ok || d.Version > cur.Version {
			latest[d.Identity] = d
		}
	}
	out := make([]*inbound.ProcessDefinition, 0, len(latest))
	for _, d := range latest {
		out = append(out, d)
	}
	sortDefinitions(out)
	return out, nil
}

func (r *MemoryDefinitionRepository) ListVersions(ctx context.Context, id inbound.ProcessIdentity) ([]*inbound.ProcessDefinition, error) {
	out := r.store.Filter(ctx, func(d *inbound.ProcessDefinition) bool {
		return d.Identity == id
	})
	sortDefinitions(out)
	return out, nil
}

func (r *MemoryDefinitionRepository) Delete(ctx context.Context, id inbound.ProcessIdentity) error {
	n := r.store.DeleteFunc(ctx, func(d *inbound.ProcessDefinition) bool {
		return d.Identity == id
	})
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func sortDefinitions(defs []*inbound.ProcessDefinition) {
	sort.Slice(defs, func(i, j int) bool {
		a, b := defs[i], defs[j]
		if a.Identity.TenantID != b.Identity.TenantID {
			return a.Identity.TenantID < b.Identity.TenantID
		}
		if a.Identity.ProcessKey != b.Identity.ProcessKey {
			return a.Identity.ProcessKey < b.Identity.ProcessKey
		}
		return a.Version < b.Version
	})
}
