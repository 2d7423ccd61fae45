package http

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"schoolhub/internal/model"
	"schoolhub/internal/repository"
	"schoolhub/internal/tenant"
)

// memStore is an in-memory Store. It also answers the tenant guard's count query so the
// real guard can run against it.
type memStore struct {
	mu        sync.Mutex
	tenants   map[string]model.Tenant
	users     map[string]model.User
	sessions  map[string]model.RefreshSession
	resources map[string]map[string]model.Resource
	guardErr  error
}

func newMemStore() *memStore {
	return &memStore{
		tenants:   map[string]model.Tenant{},
		users:     map[string]model.User{},
		sessions:  map[string]model.RefreshSession{},
		resources: map[string]map[string]model.Resource{},
	}
}

func (s *memStore) GetTenantByDomain(_ context.Context, domain string) (model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Domain == domain {
			return t, nil
		}
	}
	return model.Tenant{}, repository.ErrNotFound
}

func (s *memStore) GetTenant(_ context.Context, tenantID string) (model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return model.Tenant{}, repository.ErrNotFound
	}
	return t, nil
}

func (s *memStore) ListTenants(_ context.Context, limit int) ([]model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CreateTenantWithAdmin(_ context.Context, t model.Tenant, admin model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tenants {
		if existing.Domain == t.Domain {
			return repository.ErrConflict
		}
	}
	s.tenants[t.ID] = t
	s.users[admin.ID] = admin
	return nil
}

func (s *memStore) CreateUser(_ context.Context, user model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.TenantID == user.TenantID && existing.Email == user.Email {
			return repository.ErrConflict
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *memStore) GetUserByEmail(_ context.Context, tenantID, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.TenantID == tenantID && u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *memStore) GetUserByID(_ context.Context, userID string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (s *memStore) CreateRefreshSession(_ context.Context, session model.RefreshSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.TokenHash] = session
	return nil
}

func (s *memStore) GetRefreshSession(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[tokenHash]
	if !ok {
		return model.RefreshSession{}, repository.ErrNotFound
	}
	return session, nil
}

func (s *memStore) RevokeRefreshSessionsByUser(_ context.Context, userID string, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, session := range s.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			at := revokedAt
			session.RevokedAt = &at
			s.sessions[hash] = session
		}
	}
	return nil
}

func (s *memStore) ListResources(_ context.Context, table, tenantID string, limit int) ([]model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Resource
	for _, row := range s.resources[table] {
		if row[tenant.Column] == tenantID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["id"].(string) < out[j]["id"].(string) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) GetResource(_ context.Context, table, resourceID, tenantID string) (model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.resources[table][resourceID]
	if !ok || row[tenant.Column] != tenantID {
		return nil, repository.ErrNotFound
	}
	return row, nil
}

func (s *memStore) CreateResource(_ context.Context, table, tenantID string, data map[string]interface{}) (model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := model.Resource{"id": uuid.NewString(), tenant.Column: tenantID, "data": data}
	if s.resources[table] == nil {
		s.resources[table] = map[string]model.Resource{}
	}
	s.resources[table][row["id"].(string)] = row
	return row, nil
}

func (s *memStore) DeleteResource(_ context.Context, table, resourceID, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.resources[table][resourceID]
	if !ok || row[tenant.Column] != tenantID {
		return repository.ErrNotFound
	}
	delete(s.resources[table], resourceID)
	return nil
}

func (s *memStore) put(table, tenantID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	if s.resources[table] == nil {
		s.resources[table] = map[string]model.Resource{}
	}
	s.resources[table][id] = model.Resource{"id": id, tenant.Column: tenantID}
	return id
}

var countTable = regexp.MustCompile(`FROM "([a-z_]+)"`)

// QueryRow answers SELECT COUNT(*) FROM "<table>" WHERE id = $1 AND tenant_id = $2.
func (s *memStore) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guardErr != nil {
		return countRow{err: s.guardErr}
	}
	match := countTable.FindStringSubmatch(sql)
	if match == nil || len(args) != 2 {
		return countRow{err: errors.New("unexpected query")}
	}
	var n int64
	for id, row := range s.resources[match[1]] {
		if id == args[0] && row[tenant.Column] == args[1] {
			n++
		}
	}
	return countRow{n: n}
}

type countRow struct {
	n   int64
	err error
}

func (r countRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.n
	return nil
}
