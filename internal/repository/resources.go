package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"schoolhub/internal/model"
	"schoolhub/internal/tenant"
)

var ErrUnknownResource = errors.New("unknown_resource")

const resourceColumns = "id::text AS id, tenant_id::text AS tenant_id, data, created_at"

// ListResources returns rows of table owned by tenantID, newest first.
func (s *Store) ListResources(ctx context.Context, table, tenantID string, limit int) ([]model.Resource, error) {
	from, err := resourceTable(table)
	if err != nil {
		return nil, err
	}
	query, args, err := tenant.ScopeQuery(fmt.Sprintf("SELECT %s FROM %s WHERE true", resourceColumns, from), nil, tenantID, "")
	if err != nil {
		return nil, err
	}
	args = append(args, limit)
	query = fmt.Sprintf("%s ORDER BY created_at DESC LIMIT $%d", query, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	out := make([]model.Resource, 0, len(maps))
	for _, m := range maps {
		out = append(out, model.Resource(m))
	}
	return out, nil
}

// GetResource returns ErrNotFound both for missing ids and for ids owned by another tenant.
func (s *Store) GetResource(ctx context.Context, table, resourceID, tenantID string) (model.Resource, error) {
	from, err := resourceTable(table)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(resourceID); err != nil {
		return nil, ErrNotFound
	}
	query, args, err := tenant.ScopeQuery(fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", resourceColumns, from), []any{resourceID}, tenantID, "")
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	m, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, mapError(err)
	}
	return model.Resource(m), nil
}

// CreateResource stores data under tenantID. The tenant always comes from the caller's
// session, never from the payload.
func (s *Store) CreateResource(ctx context.Context, table, tenantID string, data map[string]interface{}) (model.Resource, error) {
	from, err := resourceTable(table)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
    INSERT INTO %s (id, tenant_id, data)
    VALUES ($1, $2, $3)
    RETURNING %s
  `, from, resourceColumns), uuid.NewString(), tenantID, payload)
	if err != nil {
		return nil, err
	}
	m, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, mapError(err)
	}
	return model.Resource(m), nil
}

// DeleteResource is still tenant-scoped even when the caller validated ownership first.
func (s *Store) DeleteResource(ctx context.Context, table, resourceID, tenantID string) error {
	from, err := resourceTable(table)
	if err != nil {
		return err
	}
	query, args, err := tenant.ScopeQuery(fmt.Sprintf("DELETE FROM %s WHERE id = $1", from), []any{resourceID}, tenantID, "")
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func resourceTable(table string) (string, error) {
	for _, known := range tenant.DefaultTables {
		if known == table {
			return pgx.Identifier{table}.Sanitize(), nil
		}
	}
	return "", ErrUnknownResource
}
