package repository

import (
	"context"

	"github.com/soochol/inflow/internal/inbound"
)

// SubscriptionRepository tracks running process instances that wait on an
// inbound element. It is the source of the referenced-version signal.
type SubscriptionRepository interface {
	Put(ctx context.Context, sub *inbound.Subscription) error
	Delete(ctx context.Context, processInstanceID string) error
	List(ctx context.Context) ([]*inbound.Subscription, error)
	// ReferencedVersions groups the versions of all subscriptions by process.
	ReferencedVersions(ctx context.Context) (map[inbound.ProcessIdentity]inbound.VersionSet, error)
}

func groupReferenced(subs []*inbound.Subscription) map[inbound.ProcessIdentity]inbound.VersionSet {
	out := make(map[inbound.ProcessIdentity]inbound.VersionSet)
	for _, s := range subs {
		set, ok := out[s.Identity]
		if !ok {
			set = inbound.NewVersionSet()
			out[s.Identity] = set
		}
		set.Add(s.Version)
	}
	return out
}
