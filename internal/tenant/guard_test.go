package tenant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"schoolhub/internal/logs"
	"schoolhub/internal/metrics"
	"schoolhub/internal/model"
)

const (
	studentOfA = "33333333-3333-3333-3333-333333333331"
	studentOfB = "33333333-3333-3333-3333-333333333332"
	missingID  = "33333333-3333-3333-3333-333333333339"
)

type fakeRow struct {
	count int64
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.count
	return nil
}

type fakeQuerier struct {
	owners  map[string]string
	dupes   map[string]bool
	err     error
	lastSQL string
	calls   int
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.calls++
	q.lastSQL = sql
	if q.err != nil {
		return fakeRow{err: q.err}
	}
	id, _ := args[0].(string)
	tenantID, _ := args[1].(string)
	if q.owners[id] != tenantID {
		return fakeRow{count: 0}
	}
	if q.dupes[id] {
		return fakeRow{count: 2}
	}
	return fakeRow{count: 1}
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{owners: map[string]string{
		studentOfA: tenantA,
		studentOfB: tenantB,
	}}
}

func TestValidateResourceSameTenant(t *testing.T) {
	q := newFakeQuerier()
	guard := NewGuard(q, logs.Discard())

	decision := guard.ValidateResource(context.Background(), "students", studentOfA, tenantA)
	if !decision.Allowed() || decision.Outcome != Authorized {
		t.Fatalf("expected authorized, got %+v", decision)
	}
	if !strings.Contains(q.lastSQL, `FROM "students" WHERE id = $1 AND tenant_id = $2`) {
		t.Fatalf("unexpected sql: %s", q.lastSQL)
	}
}

func TestValidateResourceOtherTenant(t *testing.T) {
	guard := NewGuard(newFakeQuerier(), logs.Discard())

	decision := guard.ValidateResource(context.Background(), "students", studentOfB, tenantA)
	if decision.Allowed() {
		t.Fatalf("expected cross-tenant access to be denied")
	}
	if decision.Outcome != Denied || decision.Reason != "tenant_mismatch" {
		t.Fatalf("expected denied tenant_mismatch, got %+v", decision)
	}
	if guard.ValidateResourceTenant(context.Background(), "students", missingID, tenantA) {
		t.Fatalf("expected missing resource to be denied")
	}
}

func TestValidateResourceDuplicateRowsDenied(t *testing.T) {
	q := newFakeQuerier()
	q.dupes = map[string]bool{studentOfA: true}
	guard := NewGuard(q, logs.Discard())

	if guard.ValidateResourceTenant(context.Background(), "students", studentOfA, tenantA) {
		t.Fatalf("expected more than one matching row to be denied")
	}
}

func TestValidateResourceLookupErrorFailsClosed(t *testing.T) {
	q := newFakeQuerier()
	q.err = errors.New("connection refused")
	guard := NewGuard(q, logs.Discard())

	decision := guard.ValidateResource(context.Background(), "fees", studentOfA, tenantA)
	if decision.Allowed() {
		t.Fatalf("expected lookup failure to deny")
	}
	if decision.Outcome != Failed || decision.Err == nil {
		t.Fatalf("expected failed outcome with error, got %+v", decision)
	}
	if guard.ValidateResourceTenant(context.Background(), "fees", studentOfA, tenantA) {
		t.Fatalf("expected boolean form to deny")
	}
}

func TestValidateResourceMalformedIDFailsClosed(t *testing.T) {
	q := newFakeQuerier()
	guard := NewGuard(q, logs.Discard())

	decision := guard.ValidateResource(context.Background(), "students", "42; DROP TABLE students", tenantA)
	if decision.Allowed() || decision.Outcome != Failed {
		t.Fatalf("expected malformed id to fail closed, got %+v", decision)
	}
	if !errors.Is(decision.Err, ErrMalformedID) {
		t.Fatalf("expected ErrMalformedID, got %v", decision.Err)
	}
	if q.calls != 0 {
		t.Fatalf("expected no query for malformed id")
	}
}

func TestValidateResourceUnknownTable(t *testing.T) {
	q := newFakeQuerier()
	guard := NewGuard(q, logs.Discard())

	decision := guard.ValidateResource(context.Background(), "users; --", studentOfA, tenantA)
	if decision.Allowed() || decision.Reason != "unknown_table" {
		t.Fatalf("expected unknown table denial, got %+v", decision)
	}
	if q.calls != 0 {
		t.Fatalf("expected no query for unknown table")
	}
}

func TestUnknownTablesShareOneMetricLabel(t *testing.T) {
	guard := NewGuard(newFakeQuerier(), logs.Discard())
	before := testutil.ToFloat64(metrics.GuardDecisions.WithLabelValues("unknown", "denied"))

	for _, table := range []string{"payroll", "grades_2031", "x; drop table users"} {
		guard.ValidateResource(context.Background(), table, studentOfA, tenantA)
		if got := testutil.ToFloat64(metrics.GuardDecisions.WithLabelValues(table, "denied")); got != 0 {
			t.Fatalf("expected no series for %q, got %v", table, got)
		}
	}
	if got := testutil.ToFloat64(metrics.GuardDecisions.WithLabelValues("unknown", "denied")); got != before+3 {
		t.Fatalf("expected unknown label to grow by 3, got %v -> %v", before, got)
	}
}

func TestValidateResourceWithoutDatastore(t *testing.T) {
	guard := NewGuard(nil, logs.Discard())
	if guard.ValidateResourceTenant(context.Background(), "students", studentOfA, tenantA) {
		t.Fatalf("expected nil datastore to deny")
	}
}

func TestGuardTables(t *testing.T) {
	guard := NewGuard(nil, nil, "exams", "courses")
	tables := guard.Tables()
	if len(tables) != 2 || tables[0] != "courses" || tables[1] != "exams" {
		t.Fatalf("unexpected tables: %v", tables)
	}
	if guard.Allows("students") {
		t.Fatalf("expected students not allowed for custom allowlist")
	}
}

func TestCanAccessTenant(t *testing.T) {
	teacher := Principal{UserID: "u1", TenantID: tenantA, Role: model.RoleTeacher}
	if !CanAccessTenant(teacher, tenantA) {
		t.Fatalf("expected own tenant access")
	}
	if CanAccessTenant(teacher, tenantB) {
		t.Fatalf("expected other tenant denied")
	}
	root := Principal{UserID: "u0", TenantID: tenantA, Role: model.RoleSuperAdmin}
	if !CanAccessTenant(root, tenantB) {
		t.Fatalf("expected super admin to cross tenants")
	}
	if SameTenant(root, tenantB) {
		t.Fatalf("expected SameTenant to ignore role")
	}
	if CanAccessTenant(root, "") {
		t.Fatalf("expected empty tenant denied")
	}
}
