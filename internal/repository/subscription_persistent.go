package repository

import (
	"context"
	"log/slog"

	"github.com/soochol/inflow/internal/inbound"
)

// SubscriptionDB defines the DB-layer methods needed by the persistent
// subscription repo. *db.DB satisfies this interface.
type SubscriptionDB interface {
	PutSubscription(ctx context.Context, sub *inbound.Subscription) error
	DeleteSubscription(ctx context.Context, processInstanceID string) error
	ListSubscriptions(ctx context.Context) ([]*inbound.Subscription, error)
}

// PersistentSubscriptionRepository wraps a MemorySubscriptionRepository with
// a PostgreSQL backend. Writes go to both stores (DB failure is logged but
// non-fatal). Listing prefers the database, which also sees subscriptions
// written by the process engine directly.
type PersistentSubscriptionRepository struct {
	mem *MemorySubscriptionRepository
	db  SubscriptionDB
}

func NewPersistentSubscriptionRepository(mem *MemorySubscriptionRepository, db SubscriptionDB) *PersistentSubscriptionRepository {
	return &PersistentSubscriptionRepository{mem: mem, db: db}
}

func (r *PersistentSubscriptionRepository) Put(ctx context.Context, sub *inbound.Subscription) error {
	_ = r.mem.Put(ctx, sub)
	if err := r.db.PutSubscription(ctx, sub); err != nil {
		slog.Warn("db put subscription failed, in-memory only", "err", err)
	}
	return nil
}

func (r *PersistentSubscriptionRepository) Delete(ctx context.Context, processInstanceID string) error {
	memErr := r.mem.Delete(ctx, processInstanceID)
	if err := r.db.DeleteSubscription(ctx, processInstanceID); err != nil {
		slog.Warn("db delete subscription failed", "err", err)
		return memErr
	}
	return nil
}

func (r *PersistentSubscriptionRepository) List(ctx context.Context) ([]*inbound.Subscription, error) {
	subs, err := r.db.ListSubscriptions(ctx)
	if err == nil {
		return subs, nil
	}
	slog.Warn("db list subscriptions failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx)
}

func (r *PersistentSubscriptionRepository) ReferencedVersions(ctx context.Context) (map[inbound.ProcessIdentity]inbound.VersionSet, error) {
	subs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return groupReferenced(subs), nil
}
