package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/repository"
)

var errFake = errors.New("fake db error")

// stubDB is a fake DB that records calls and returns canned data.
type stubDB struct {
	defs    []*inbound.ProcessDefinition
	subs    []*inbound.Subscription
	saveErr error
	listErr error
}

func (s *stubDB) SaveDefinition(_ context.Context, d *inbound.ProcessDefinition) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.defs = append(s.defs, d)
	return nil
}

func (s *stubDB) GetDefinition(_ context.Context, id inbound.ProcessIdentity, version int64) (*inbound.ProcessDefinition, error) {
	for _, d := range s.defs {
		if d.Identity == id && d.Version == version {
			return d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubDB) ListLatestDefinitions(_ context.Context) ([]*inbound.ProcessDefinition, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	latest := make(map[inbound.ProcessIdentity]*inbound.ProcessDefinition)
	for _, d := range s.defs {
		if cur, ok := latest[d.Identity]; !ok || d.Version > cur.Version {
			latest[d.Identity] = d
		}
	}
	var out []*inbound.ProcessDefinition
	for _, d := range latest {
		out = append(out, d)
	}
	return out, nil
}

func (s *stubDB) ListDefinitionVersions(_ context.Context, id inbound.ProcessIdentity) ([]*inbound.ProcessDefinition, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*inbound.ProcessDefinition
	for _, d := range s.defs {
		if d.Identity == id {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *stubDB) DeleteDefinitions(context.Context, inbound.ProcessIdentity) error { return nil }

func (s *stubDB) PutSubscription(_ context.Context, sub *inbound.Subscription) error {
	s.subs = append(s.subs, sub)
	return nil
}

func (s *stubDB) DeleteSubscription(context.Context, string) error { return nil }

func (s *stubDB) ListSubscriptions(context.Context) ([]*inbound.Subscription, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.subs, nil
}

var procID = inbound.ProcessIdentity{ProcessKey: "claims", TenantID: "acme"}

func TestPersistentDefinitionRepository_SaveAndGet(t *testing.T) {
	mem := repository.NewMemoryDefinitionRepository()
	stub := &stubDB{}
	repo := repository.NewPersistentDefinitionRepository(mem, stub)
	ctx := context.Background()

	if err := repo.Save(ctx, &inbound.ProcessDefinition{Identity: procID, Version: 1}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(stub.defs) != 1 {
		t.Errorf("expected 1 definition in DB stub, got %d", len(stub.defs))
	}
	if _, err := mem.Get(ctx, procID, 1); err != nil {
		t.Errorf("expected definition cached in memory: %v", err)
	}
}

func TestPersistentDefinitionRepository_SaveFailsWithoutDB(t *testing.T) {
	mem := repository.NewMemoryDefinitionRepository()
	repo := repository.NewPersistentDefinitionRepository(mem, &stubDB{saveErr: errFake})

	err := repo.Save(context.Background(), &inbound.ProcessDefinition{Identity: procID, Version: 1})
	if !errors.Is(err, errFake) {
		t.Fatalf("expected db error, got %v", err)
	}
}

func TestPersistentDefinitionRepository_GetFallsBackToDb(t *testing.T) {
	mem := repository.NewMemoryDefinitionRepository()
	stub := &stubDB{defs: []*inbound.ProcessDefinition{{Identity: procID, Version: 4}}}
	repo := repository.NewPersistentDefinitionRepository(mem, stub)
	ctx := context.Background()

	got, err := repo.Get(ctx, procID, 4)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 4 {
		t.Errorf("version = %d, want 4", got.Version)
	}
	if _, err := mem.Get(ctx, procID, 4); err != nil {
		t.Error("expected DB result to be cached in memory")
	}
}

func TestPersistentDefinitionRepository_ListLatestFallsBackToMemory(t *testing.T) {
	mem := repository.NewMemoryDefinitionRepository()
	ctx := context.Background()
	mem.Save(ctx, &inbound.ProcessDefinition{Identity: procID, Version: 2})
	repo := repository.NewPersistentDefinitionRepository(mem, &stubDB{listErr: errFake})

	defs, err := repo.ListLatest(ctx)
	if err != nil {
		t.Fatalf("ListLatest failed: %v", err)
	}
	if len(defs) != 1 || defs[0].Version != 2 {
		t.Fatalf("expected memory fallback, got %+v", defs)
	}
}

func TestPersistentSubscriptionRepository_ReferencedVersionsFromDb(t *testing.T) {
	mem := repository.NewMemorySubscriptionRepository()
	stub := &stubDB{subs: []*inbound.Subscription{
		{ProcessInstanceID: "pi-1", Identity: procID, Version: 1},
		{ProcessInstanceID: "pi-2", Identity: procID, Version: 2},
	}}
	repo := repository.NewPersistentSubscriptionRepository(mem, stub)

	refs, err := repo.ReferencedVersions(context.Background())
	if err != nil {
		t.Fatalf("ReferencedVersions: %v", err)
	}
	if got := refs[procID].Sorted(); len(got) != 2 {
		t.Fatalf("versions = %v, want [1 2]", got)
	}
}
