package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"schoolhub/internal/db"
	"schoolhub/internal/model"
)

var (
	ErrNotFound = errors.New("not_found")
	ErrConflict = errors.New("already_exists")
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Tenants

func (s *Store) GetTenantByDomain(ctx context.Context, domain string) (model.Tenant, error) {
	row := s.pool.QueryRow(ctx, `
    SELECT id::text, domain, name, is_active, created_at
    FROM tenants
    WHERE domain = $1
  `, domain)
	return scanTenant(row)
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	row := s.pool.QueryRow(ctx, `
    SELECT id::text, domain, name, is_active, created_at
    FROM tenants
    WHERE id = $1
  `, tenantID)
	return scanTenant(row)
}

func (s *Store) ListTenants(ctx context.Context, limit int) ([]model.Tenant, error) {
	rows, err := s.pool.Query(ctx, `
    SELECT id::text, domain, name, is_active, created_at
    FROM tenants
    ORDER BY name
    LIMIT $1
  `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := make([]model.Tenant, 0)
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.Domain, &t.Name, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// CreateTenantWithAdmin inserts a tenant and its first administrator atomically.
func (s *Store) CreateTenantWithAdmin(ctx context.Context, tenant model.Tenant, admin model.User) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
      INSERT INTO tenants (id, domain, name, is_active, created_at)
      VALUES ($1, $2, $3, $4, $5)
    `, tenant.ID, tenant.Domain, tenant.Name, tenant.IsActive, tenant.CreatedAt)
		if err != nil {
			return mapError(err)
		}
		return mapError(insertUser(ctx, tx, admin))
	})
}

// Users

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	return mapError(insertUser(ctx, s.pool, user))
}

func (s *Store) GetUserByEmail(ctx context.Context, tenantID, email string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
    SELECT id::text, tenant_id::text, email, password_hash, first_name, last_name, role, is_active, created_at, updated_at
    FROM users
    WHERE tenant_id = $1 AND email = $2
  `, tenantID, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
    SELECT id::text, tenant_id::text, email, password_hash, first_name, last_name, role, is_active, created_at, updated_at
    FROM users
    WHERE id = $1
  `, userID)
	return scanUser(row)
}

// Refresh sessions

func (s *Store) CreateRefreshSession(ctx context.Context, session model.RefreshSession) error {
	_, err := s.pool.Exec(ctx, `
    INSERT INTO refresh_token_sessions (id, user_id, tenant_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
  `, session.ID, session.UserID, session.TenantID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.RevokedAt, session.UserAgent, session.IPAddress)
	return mapError(err)
}

func (s *Store) GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var session model.RefreshSession
	row := s.pool.QueryRow(ctx, `
    SELECT id::text, user_id::text, tenant_id::text, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address
    FROM refresh_token_sessions
    WHERE token_hash = $1
  `, tokenHash)
	err := row.Scan(&session.ID, &session.UserID, &session.TenantID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &session.RevokedAt, &session.UserAgent, &session.IPAddress)
	return session, mapError(err)
}

func (s *Store) RevokeRefreshSessionsByUser(ctx context.Context, userID string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
    UPDATE refresh_token_sessions
    SET revoked_at = $1
    WHERE user_id = $2 AND revoked_at IS NULL
  `, revokedAt, userID)
	return err
}

// PurgeRefreshSessions deletes sessions that expired or were revoked before cutoff.
func (s *Store) PurgeRefreshSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
    DELETE FROM refresh_token_sessions
    WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)
  `, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertUser(ctx context.Context, q execer, user model.User) error {
	_, err := q.Exec(ctx, `
    INSERT INTO users (id, tenant_id, email, password_hash, first_name, last_name, role, is_active, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
  `, user.ID, user.TenantID, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Role, user.IsActive, user.CreatedAt, user.UpdatedAt)
	return err
}

func scanTenant(row pgx.Row) (model.Tenant, error) {
	var t model.Tenant
	err := row.Scan(&t.ID, &t.Domain, &t.Name, &t.IsActive, &t.CreatedAt)
	return t, mapError(err)
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.TenantID,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&u.Role,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, mapError(err)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}
