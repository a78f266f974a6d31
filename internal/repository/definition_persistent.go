package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soochol/inflow/internal/inbound"
)

// DefinitionDB defines the DB-layer methods needed by the persistent
// definition repo. *db.DB satisfies this interface.
type DefinitionDB interface {
	SaveDefinition(ctx context.Context, def *inbound.ProcessDefinition) error
	GetDefinition(ctx context.Context, id inbound.ProcessIdentity, version int64) (*inbound.ProcessDefinition, error)
	ListLatestDefinitions(ctx context.Context) ([]*inbound.ProcessDefinition, error)
	ListDefinitionVersions(ctx context.Context, id inbound.ProcessIdentity) ([]*inbound.ProcessDefinition, error)
	DeleteDefinitions(ctx context.Context, id inbound.ProcessIdentity) error
}

// PersistentDefinitionRepository wraps a MemoryDefinitionRepository with a
// PostgreSQL backend. Saves must reach the database since other runtimes
// import from it; reads try memory first, falling back to the database.
type PersistentDefinitionRepository struct {
	mem *MemoryDefinitionRepository
	db  DefinitionDB
}

func NewPersistentDefinitionRepository(mem *MemoryDefinitionRepository, db DefinitionDB) *PersistentDefinitionRepository {
	return &PersistentDefinitionRepository{mem: mem, db: db}
}

func (r *PersistentDefinitionRepository) Save(ctx context.Context, def *inbound.ProcessDefinition) error {
	if err := r.db.SaveDefinition(ctx, def); err != nil {
		return fmt.Errorf("db save definition: %w", err)
	}
	_ = r.mem.Save(ctx, def)
	return nil
}

func (r *PersistentDefinitionRepository) Get(ctx context.Context, id inbound.ProcessIdentity, version int64) (*inbound.ProcessDefinition, error) {
	def, err := r.mem.Get(ctx, id, version)
	if err == nil {
		return def, nil
	}

	dbDef, dbErr := r.db.GetDefinition(ctx, id, version)
	if dbErr != nil {
		return nil, err // return original ErrNotFound
	}

	_ = r.mem.Save(ctx, dbDef)
	return dbDef, nil
}

func (r *PersistentDefinitionRepository) Latest(ctx context.Context, id inbound.ProcessIdentity) (*inbound.ProcessDefinition, error) {
	versions, err := r.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return versions[len(versions)-1], nil
}

func (r *PersistentDefinitionRepository) ListLatest(ctx context.Context) ([]*inbound.ProcessDefinition, error) {
	defs, err := r.db.ListLatestDefinitions(ctx)
	if err == nil {
		for _, d := range defs {
			_ = r.mem.Save(ctx, d)
		}
		return defs, nil
	}
	slog.Warn("db list definitions failed, falling back to in-memory", "err", err)
	return r.mem.ListLatest(ctx)
}

func (r *PersistentDefinitionRepository) ListVersions(ctx context.Context, id inbound.ProcessIdentity) ([]*inbound.ProcessDefinition, error) {
	defs, err := r.db.ListDefinitionVersions(ctx, id)
	if err == nil {
		return defs, nil
	}
	slog.Warn("db list definition versions failed, falling back to in-memory", "err", err)
	return r.mem.ListVersions(ctx, id)
}

func (r *PersistentDefinitionRepository) Delete(ctx context.Context, id inbound.ProcessIdentity) error {
	memErr := r.mem.Delete(ctx, id)
	if err := r.db.DeleteDefinitions(ctx, id); err != nil {
		slog.Warn("db delete definitions failed", "err", err)
		return memErr
	}
	return nil
}
