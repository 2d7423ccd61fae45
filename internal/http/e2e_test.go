package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schoolhub/internal/auth"
	"schoolhub/internal/model"
	"schoolhub/pkg/session"
)

type portal struct {
	manager   *session.Manager
	client    *session.Client
	storage   *session.MemoryStorage
	redirects *int
}

func newPortal(t *testing.T, srv *httptest.Server, clock func() time.Time) portal {
	t.Helper()
	storage := session.NewMemoryStorage()
	redirects := 0
	opts := []session.Option{
		session.WithHTTPClient(srv.Client()),
		session.WithLoginRedirect(func() { redirects++ }),
	}
	if clock != nil {
		opts = append(opts, session.WithClock(clock))
	}
	manager, err := session.NewManager(srv.URL, storage, opts...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return portal{manager: manager, client: session.NewClient(manager), storage: storage, redirects: &redirects}
}

func startServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestPortalLoginThenProtectedCall(t *testing.T) {
	f := newFixture(t)
	own := f.store.put("students", f.tenantA.ID)
	srv := startServer(t, f)
	p := newPortal(t, srv, nil)
	ctx := context.Background()

	user, err := p.manager.Login(ctx, "north.edu", "admin@north.edu", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != f.adminA.ID {
		t.Fatalf("unexpected user %+v", user)
	}

	rows, err := p.client.ListResources(ctx, "students")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != own {
		t.Fatalf("unexpected rows %v", rows)
	}
	if !p.manager.State().IsAuthenticated {
		t.Fatalf("session should stay authenticated")
	}
}

func TestPortalExpiredTokenIsNeverSent(t *testing.T) {
	f := newFixture(t)
	srv := startServer(t, f)
	future := time.Now().Add(time.Hour)
	p := newPortal(t, srv, func() time.Time { return future })
	ctx := context.Background()

	if _, err := p.manager.Login(ctx, "north.edu", "admin@north.edu", testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err := p.client.ListResources(ctx, "students")
	if !errors.Is(err, session.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if p.manager.State().IsAuthenticated {
		t.Fatalf("session should be cleared")
	}
	if _, ok := p.manager.AccessToken(); ok {
		t.Fatalf("access token should be cleared")
	}
	if *p.redirects != 1 {
		t.Fatalf("expected redirect to login, got %d", *p.redirects)
	}
}

func TestPortalServerRejectsExpiredToken(t *testing.T) {
	f := newFixture(t)
	srv := startServer(t, f)
	past := time.Now().Add(-time.Hour)
	p := newPortal(t, srv, func() time.Time { return past })
	ctx := context.Background()

	if _, err := p.manager.Login(ctx, "north.edu", "admin@north.edu", testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
	expired, err := auth.NewAccessToken("test-secret", "schoolhub", -time.Minute, auth.Claims{
		UserID: f.adminA.ID, TenantID: f.tenantA.ID, Role: model.RoleTenantAdmin,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := p.storage.Set(session.KeyAccessToken, expired); err != nil {
		t.Fatalf("set: %v", err)
	}

	_, err = p.client.ListResources(ctx, "students")
	if !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if p.manager.State().IsAuthenticated {
		t.Fatalf("401 must clear the session")
	}
	if _, ok := p.manager.RefreshTokenValue(); ok {
		t.Fatalf("refresh token should be cleared")
	}
	if *p.redirects != 1 {
		t.Fatalf("expected redirect to login, got %d", *p.redirects)
	}
}

func TestPortalCrossTenantAccessDenied(t *testing.T) {
	f := newFixture(t)
	ofB := f.store.put("courses", f.tenantB.ID)
	srv := startServer(t, f)
	a := newPortal(t, srv, nil)
	b := newPortal(t, srv, nil)
	ctx := context.Background()

	if _, err := a.manager.Login(ctx, "north.edu", "admin@north.edu", testPassword); err != nil {
		t.Fatalf("login a: %v", err)
	}
	if _, err := b.manager.Login(ctx, "south.edu", "admin@south.edu", testPassword); err != nil {
		t.Fatalf("login b: %v", err)
	}

	if _, err := b.client.GetResource(ctx, "courses", ofB); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	_, err := a.client.GetResource(ctx, "courses", ofB)
	if !session.IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 for other tenant's row, got %v", err)
	}
	err = a.client.Delete(ctx, "/api/courses/"+ofB)
	if !session.IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403 for other tenant's row, got %v", err)
	}
	if !a.manager.State().IsAuthenticated {
		t.Fatalf("a denied request is not a session failure")
	}
	if _, err := b.client.GetResource(ctx, "courses", ofB); err != nil {
		t.Fatalf("row should survive: %v", err)
	}
}

func TestPortalRefreshAndLogout(t *testing.T) {
	f := newFixture(t)
	srv := startServer(t, f)
	p := newPortal(t, srv, nil)
	ctx := context.Background()

	if _, err := p.manager.Login(ctx, "north.edu", "admin@north.edu", testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
	refreshBefore, _ := p.manager.RefreshTokenValue()
	if err := p.manager.RefreshToken(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshAfter, _ := p.manager.RefreshTokenValue(); refreshAfter != refreshBefore {
		t.Fatalf("refresh token should not change")
	}

	p.manager.Logout(ctx)
	if p.manager.State().IsAuthenticated {
		t.Fatalf("logout should clear the session")
	}
	if err := p.storage.Set(session.KeyRefreshToken, refreshBefore); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := p.manager.RefreshToken(ctx); !errors.Is(err, session.ErrRefreshDenied) {
		t.Fatalf("revoked refresh token should be denied, got %v", err)
	}
}

func TestPortalMemberRegistrationRequiresLogin(t *testing.T) {
	f := newFixture(t)
	srv := startServer(t, f)
	p := newPortal(t, srv, nil)
	ctx := context.Background()

	err := p.manager.StudentRegister(ctx, session.MemberRegistration{
		TenantDomain: "north.edu", Email: "kid@north.edu", Password: testPassword,
		FirstName: "Kid", LastName: "Student",
	})
	if err != nil {
		t.Fatalf("student register: %v", err)
	}
	if p.manager.State().IsAuthenticated {
		t.Fatalf("student registration must not sign in")
	}
	if _, err := p.manager.Login(ctx, "north.edu", "kid@north.edu", testPassword); err != nil {
		t.Fatalf("login after registration: %v", err)
	}

	err = p.manager.FacultyRegister(ctx, session.MemberRegistration{
		TenantDomain: "north.edu", Email: "kid@north.edu", Password: testPassword,
		FirstName: "Kid", LastName: "Again",
	})
	var authErr *session.AuthError
	if !errors.As(err, &authErr) || authErr.Message != "email_taken" {
		t.Fatalf("expected email_taken, got %v", err)
	}
}
