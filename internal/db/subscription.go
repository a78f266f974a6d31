package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/soochol/inflow/internal/inbound"
)

// PutSubscription stores or replaces the subscription of a process instance.
func (d *DB) PutSubscription(ctx context.Context, s *inbound.Subscription) error {
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO process_subscriptions (process_instance_id, process_key, tenant_id, version, element_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (process_instance_id)
		 DO UPDATE SET process_key = EXCLUDED.process_key, tenant_id = EXCLUDED.tenant_id,
		               version = EXCLUDED.version, element_id = EXCLUDED.element_id`,
		s.ProcessInstanceID, s.Identity.ProcessKey, s.Identity.TenantID, s.Version, s.ElementID, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes the subscription of a process instance.
func (d *DB) DeleteSubscription(ctx context.Context, processInstanceID string) error {
	_, err := d.Pool.ExecContext(ctx,
		`DELETE FROM process_subscriptions WHERE process_instance_id = $1`, processInstanceID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns all live subscriptions.
func (d *DB) ListSubscriptions(ctx context.Context) ([]*inbound.Subscription, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT process_instance_id, process_key, tenant_id, version, element_id, created_at
		 FROM process_subscriptions ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

func scanSubscriptions(rows *sql.Rows) ([]*inbound.Subscription, error) {
	var result []*inbound.Subscription
	for rows.Next() {
		s := &inbound.Subscription{}
		if err := rows.Scan(&s.ProcessInstanceID, &s.Identity.ProcessKey, &s.Identity.TenantID, &s.Version, &s.ElementID, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
