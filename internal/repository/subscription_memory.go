package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/soochol/inflow/internal/inbound"
	memstore "github.com/soochol/inflow/internal/repository/memory"
)

// MemorySubscriptionRepository stores subscriptions in memory.
type MemorySubscriptionRepository struct {
	store *memstore.Store[string, *inbound.Subscription]
}

func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{
		store: memstore.New(func(s *inbound.Subscription) string { return s.ProcessInstanceID }),
	}
}

func (r *MemorySubscriptionRepository) Put(ctx context.Context, sub *inbound.Subscription) error {
	return r.store.Set(ctx, sub)
}

func (r *MemorySubscriptionRepository) Delete(ctx context.Context, processInstanceID string) error {
	err := r.store.Delete(ctx, processInstanceID)
	if errors.Is(err, memstore.ErrNotFound) {
		return fmt.Errorf("%w: subscription %s", ErrNotFound, processInstanceID)
	}
	return err
}

func (r *MemorySubscriptionRepository) List(ctx context.Context) ([]*inbound.Subscription, error) {
	return r.store.Filter(ctx, nil), nil
}

func (r *MemorySubscriptionRepository) ReferencedVersions(ctx context.Context) (map[inbound.ProcessIdentity]inbound.VersionSet, error) {
	return groupReferenced(r.store.Filter(ctx, nil)), nil
}
