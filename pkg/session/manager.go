// Package session keeps a client's authenticated session: the access and refresh tokens,
// the signed-in user, and the jobs that renew or end the session in the background.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type User struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// State is a snapshot of the session. User is nil when unauthenticated.
type State struct {
	User            *User
	IsAuthenticated bool
}

type RegisterRequest struct {
	TenantName   string `json:"tenant_name"`
	TenantDomain string `json:"tenant_domain"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

type MemberRegistration struct {
	TenantDomain string `json:"tenant_domain"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Manager owns the session state and is shared by the API client and the background jobs.
// Transitions replace the whole state under a lock; concurrent transitions resolve as
// last writer wins.
type Manager struct {
	baseURL    string
	httpClient *http.Client
	storage    Storage
	now        func() time.Time
	logger     logrus.FieldLogger
	onRedirect func()

	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
}

type Option func(*Manager)

func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) {
		if hc != nil {
			m.httpClient = hc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithLoginRedirect sets the hook run after a forced logout, standing in for navigation
// to the login screen.
func WithLoginRedirect(fn func()) Option {
	return func(m *Manager) {
		m.onRedirect = fn
	}
}

// NewManager rehydrates the session from storage.
func NewManager(baseURL string, storage Storage, opts ...Option) (*Manager, error) {
	if storage == nil {
		return nil, errors.New("session: storage required")
	}
	m := &Manager{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		storage:    storage,
		now:        time.Now,
		logger:     logrus.StandardLogger(),
		listeners:  map[int]func(State){},
	}
	for _, opt := range opts {
		opt(m)
	}

	raw, ok, err := storage.Get(KeyAuthState)
	if err != nil {
		return nil, err
	}
	if ok {
		if s, valid := decodeState(raw); valid {
			m.state = s
		}
	}
	return m, nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.state)
}

func (m *Manager) AccessToken() (string, bool) {
	return m.get(KeyAccessToken)
}

func (m *Manager) RefreshTokenValue() (string, bool) {
	return m.get(KeyRefreshToken)
}

// Subscribe registers fn for every state transition and returns a function removing it.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) Login(ctx context.Context, tenantDomain, email, password string) (User, error) {
	var resp authResponse
	body := map[string]string{"tenant_domain": tenantDomain, "email": email, "password": password}
	if err := doRequest(ctx, m.httpClient, http.MethodPost, m.baseURL+"/auth/login", "", body, &resp); err != nil {
		return User{}, rejection(err, "Login failed")
	}
	if err := m.authenticate(resp); err != nil {
		return User{}, err
	}
	return resp.User, nil
}

// Register creates a tenant with its administrator and signs the administrator in.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (User, error) {
	var resp authResponse
	if err := doRequest(ctx, m.httpClient, http.MethodPost, m.baseURL+"/auth/register", "", req, &resp); err != nil {
		return User{}, rejection(err, "Registration failed")
	}
	if err := m.authenticate(resp); err != nil {
		return User{}, err
	}
	return resp.User, nil
}

// FacultyRegister creates a faculty account. The session is left unchanged; the new
// member signs in separately.
func (m *Manager) FacultyRegister(ctx context.Context, req MemberRegistration) error {
	return m.registerMember(ctx, "/auth/faculty-register", req)
}

// StudentRegister creates a student account without signing in.
func (m *Manager) StudentRegister(ctx context.Context, req MemberRegistration) error {
	return m.registerMember(ctx, "/auth/student-register", req)
}

func (m *Manager) registerMember(ctx context.Context, path string, req MemberRegistration) error {
	if err := doRequest(ctx, m.httpClient, http.MethodPost, m.baseURL+path, "", req, nil); err != nil {
		return rejection(err, "Registration failed")
	}
	return nil
}

// Logout tells the server to revoke the session when a live token is held, then clears
// local state. The local clear happens whatever the server answers.
func (m *Manager) Logout(ctx context.Context) {
	if token, ok := m.AccessToken(); ok && !IsTokenExpired(token, m.now()) {
		err := doRequest(ctx, m.httpClient, http.MethodPost, m.baseURL+"/auth/logout", token, nil, nil)
		if err != nil {
			m.logger.WithError(err).Debug("server logout failed")
		}
	}
	m.clear()
}

// ForceLogout clears the session and runs the login redirect hook.
func (m *Manager) ForceLogout(reason string) {
	m.logger.WithField("reason", reason).Info("session ended")
	m.clear()
	if m.onRedirect != nil {
		m.onRedirect()
	}
}

// CheckAuth reconciles the persisted state with the stored access token. A valid token
// with no known user is resolved from the cached profile, then from GET /auth/me; when
// both fail the session is cleared.
func (m *Manager) CheckAuth(ctx context.Context) (State, error) {
	token, ok := m.AccessToken()
	if !ok || token == "" {
		m.clear()
		return m.State(), nil
	}
	if IsTokenExpired(token, m.now()) {
		m.clear()
		return m.State(), nil
	}

	current := m.State()
	if current.IsAuthenticated && current.User != nil {
		return current, nil
	}

	if user, ok := m.cachedUser(); ok {
		if err := m.setUser(user); err != nil {
			return m.State(), err
		}
		return m.State(), nil
	}

	var user User
	if err := doRequest(ctx, m.httpClient, http.MethodGet, m.baseURL+"/auth/me", token, nil, &user); err != nil {
		m.clear()
		return m.State(), fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	if err := m.setUser(user); err != nil {
		return m.State(), err
	}
	return m.State(), nil
}

// RefreshToken exchanges the stored refresh token for a new access token. Only the access
// token is replaced. Any failure from the server clears the session.
func (m *Manager) RefreshToken(ctx context.Context) error {
	refresh, ok := m.RefreshTokenValue()
	if !ok || refresh == "" {
		return ErrNoRefreshToken
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	body := map[string]string{"refresh_token": refresh}
	err := doRequest(ctx, m.httpClient, http.MethodPost, m.baseURL+"/auth/refresh", "", body, &resp)
	if err == nil && resp.AccessToken == "" {
		err = errors.New("empty access token")
	}
	if err != nil {
		m.logger.WithError(err).Info("token refresh failed")
		m.clear()
		return fmt.Errorf("%w: %w", ErrRefreshDenied, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A logout or new login while the request was in flight wins.
	if current, _, _ := m.storage.Get(KeyRefreshToken); current != refresh {
		return nil
	}
	return m.storage.Set(KeyAccessToken, resp.AccessToken)
}

func (m *Manager) authenticate(resp authResponse) error {
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return &AuthError{Message: "Login failed", Err: errors.New("response missing tokens")}
	}
	user := resp.User
	next := State{User: &user, IsAuthenticated: true}

	m.mu.Lock()
	err := m.persist(func() error {
		if err := m.storage.Set(KeyAccessToken, resp.AccessToken); err != nil {
			return err
		}
		if err := m.storage.Set(KeyRefreshToken, resp.RefreshToken); err != nil {
			return err
		}
		return m.saveUser(user)
	}, next)
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	if err != nil {
		return err
	}
	notify(listeners, next)
	return nil
}

func (m *Manager) setUser(user User) error {
	next := State{User: &user, IsAuthenticated: true}

	m.mu.Lock()
	err := m.persist(func() error { return m.saveUser(user) }, next)
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	if err != nil {
		return err
	}
	notify(listeners, next)
	return nil
}

// clear is the single logout transition. Storage failures are logged; the in-memory
// state is always reset.
func (m *Manager) clear() {
	next := State{}

	m.mu.Lock()
	err := m.persist(func() error {
		for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyUserCache} {
			if err := m.storage.Delete(key); err != nil {
				return err
			}
		}
		return nil
	}, next)
	m.state = next
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	if err != nil {
		m.logger.WithError(err).Warn("session storage clear failed")
	}
	notify(listeners, next)
}

// persist runs write and saves the state blob. Callers hold m.mu.
func (m *Manager) persist(write func() error, next State) error {
	if err := write(); err != nil {
		return fmt.Errorf("session: persist: %w", err)
	}
	blob, err := encodeState(next)
	if err != nil {
		return fmt.Errorf("session: encode state: %w", err)
	}
	if err := m.storage.Set(KeyAuthState, blob); err != nil {
		return fmt.Errorf("session: persist: %w", err)
	}
	m.state = next
	return nil
}

func (m *Manager) saveUser(user User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return m.storage.Set(KeyUserCache, string(data))
}

func (m *Manager) cachedUser() (User, bool) {
	raw, ok := m.get(KeyUserCache)
	if !ok {
		return User{}, false
	}
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user.ID == "" {
		return User{}, false
	}
	return user, true
}

func (m *Manager) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok, err := m.storage.Get(key)
	if err != nil {
		m.logger.WithError(err).WithField("key", key).Warn("session storage read failed")
		return "", false
	}
	return v, ok && v != ""
}

func (m *Manager) snapshotListeners() []func(State) {
	out := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(State), s State) {
	for _, fn := range listeners {
		fn(copyState(s))
	}
}

func copyState(s State) State {
	if s.User == nil {
		return s
	}
	user := *s.User
	return State{User: &user, IsAuthenticated: s.IsAuthenticated}
}
