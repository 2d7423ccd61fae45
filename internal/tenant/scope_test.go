package tenant

import (
	"errors"
	"testing"
)

const (
	tenantA = "11111111-1111-1111-1111-111111111111"
	tenantB = "11111111-1111-1111-1111-111111111112"
)

func TestScopeQueryWithoutAlias(t *testing.T) {
	query, args, err := ScopeQuery("SELECT * FROM students WHERE 1=1", nil, tenantA, "")
	if err != nil {
		t.Fatalf("scope error: %v", err)
	}
	if query != "SELECT * FROM students WHERE 1=1 AND tenant_id = $1" {
		t.Fatalf("unexpected query: %s", query)
	}
	if len(args) != 1 || args[0] != tenantA {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestScopeQueryWithAlias(t *testing.T) {
	base := "SELECT s.* FROM students s JOIN classes c ON c.id = s.class_id WHERE c.id = $1"
	query, args, err := ScopeQuery(base, []any{"class-1"}, tenantA, "s")
	if err != nil {
		t.Fatalf("scope error: %v", err)
	}
	want := base + ` AND "s"."tenant_id" = $2`
	if query != want {
		t.Fatalf("expected %s, got %s", want, query)
	}
	if len(args) != 2 || args[0] != "class-1" || args[1] != tenantA {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestScopeQueryDoesNotMutateArgs(t *testing.T) {
	original := make([]any, 1, 4)
	original[0] = "x"
	_, scoped, err := ScopeQuery("SELECT 1 WHERE a = $1", original, tenantA, "")
	if err != nil {
		t.Fatalf("scope error: %v", err)
	}
	scoped[0] = "changed"
	if original[0] != "x" {
		t.Fatalf("expected caller args untouched")
	}
}

func TestScopeQueryTrimsTrailingSemicolon(t *testing.T) {
	query, _, err := ScopeQuery("SELECT * FROM fees WHERE paid = false;\n", nil, tenantB, "")
	if err != nil {
		t.Fatalf("scope error: %v", err)
	}
	if query != "SELECT * FROM fees WHERE paid = false AND tenant_id = $1" {
		t.Fatalf("unexpected query: %s", query)
	}
}

func TestScopeQueryKeepsTenantOutOfSQL(t *testing.T) {
	hostile := "x' OR '1'='1"
	query, args, err := ScopeQuery("SELECT * FROM exams WHERE 1=1", nil, hostile, "")
	if err != nil {
		t.Fatalf("scope error: %v", err)
	}
	if query != "SELECT * FROM exams WHERE 1=1 AND tenant_id = $1" {
		t.Fatalf("tenant id leaked into sql: %s", query)
	}
	if args[0] != hostile {
		t.Fatalf("expected tenant id passed as argument")
	}
}

func TestScopeQueryRejectsBadInput(t *testing.T) {
	if _, _, err := ScopeQuery("SELECT 1 WHERE 1=1", nil, "", ""); !errors.Is(err, ErrMissingTenant) {
		t.Fatalf("expected ErrMissingTenant, got %v", err)
	}
	for _, alias := range []string{"s.x", "s; DROP TABLE students", "1s", `s"`} {
		if _, _, err := ScopeQuery("SELECT 1 WHERE 1=1", nil, tenantA, alias); !errors.Is(err, ErrInvalidAlias) {
			t.Fatalf("alias %q: expected ErrInvalidAlias, got %v", alias, err)
		}
	}
}
