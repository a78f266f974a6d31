package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/soochol/inflow/internal/inbound"
)

const definitionColumns = `process_key, tenant_id, version, name, document, deployed_at`

// SaveDefinition stores a new process definition version. Versions are
// immutable; saving one that exists returns inbound.ErrVersionExists.
func (d *DB) SaveDefinition(ctx context.Context, def *inbound.ProcessDefinition) error {
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO process_definitions (`+definitionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		def.Identity.ProcessKey, def.Identity.TenantID, def.Version, def.Name, def.Document, def.DeployedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s v%d", inbound.ErrVersionExists, def.Identity, def.Version)
	}
	if err != nil {
		return fmt.Errorf("insert definition: %w", err)
	}
	return nil
}

// GetDefinition retrieves one version of a process definition.
func (d *DB) GetDefinition(ctx context.Context, id inbound.ProcessIdentity, version int64) (*inbound.ProcessDefinition, error) {
	def := &inbound.ProcessDefinition{}
	err := d.Pool.QueryRowContext(ctx,
		`SELECT `+definitionColumns+`
		 FROM process_definitions WHERE tenant_id = $1 AND process_key = $2 AND version = $3`,
		id.TenantID, id.ProcessKey, version,
	).Scan(&def.Identity.ProcessKey, &def.Identity.TenantID, &def.Version, &def.Name, &def.Document, &def.DeployedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: definition %s v%d", inbound.ErrNotFound, id, version)
	}
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	return def, nil
}

// ListLatestDefinitions returns the highest version of every process.
func (d *DB) ListLatestDefinitions(ctx context.Context) ([]*inbound.ProcessDefinition, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT DISTINCT ON (tenant_id, process_key) `+definitionColumns+`
		 FROM process_definitions
		 ORDER BY tenant_id, process_key, version DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list latest definitions: %w", err)
	}
	defer rows.Close()

	return scanDefinitions(rows)
}

// ListDefinitionVersions returns every version of a process, oldest first.
func (d *DB) ListDefinitionVersions(ctx context.Context, id inbound.ProcessIdentity) ([]*inbound.ProcessDefinition, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+definitionColumns+`
		 FROM process_definitions WHERE tenant_id = $1 AND process_key = $2
		 ORDER BY version`, id.TenantID, id.ProcessKey,
	)
	if err != nil {
		return nil, fmt.Errorf("list definition versions: %w", err)
	}
	defer rows.Close()

	return scanDefinitions(rows)
}

// DeleteDefinitions removes all versions of a process.
func (d *DB) DeleteDefinitions(ctx context.Context, id inbound.ProcessIdentity) error {
	_, err := d.Pool.ExecContext(ctx,
		`DELETE FROM process_definitions WHERE tenant_id = $1 AND process_key = $2`,
		id.TenantID, id.ProcessKey,
	)
	if err != nil {
		return fmt.Errorf("delete definitions: %w", err)
	}
	return nil
}

func scanDefinitions(rows *sql.Rows) ([]*inbound.ProcessDefinition, error) {
	var result []*inbound.ProcessDefinition
	for rows.Next() {
		def := &inbound.ProcessDefinition{}
		if err := rows.Scan(&def.Identity.ProcessKey, &def.Identity.TenantID, &def.Version, &def.Name, &def.Document, &def.DeployedAt); err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		result = append(result, def)
	}
	return result, rows.Err()
}
