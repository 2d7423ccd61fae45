package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"schoolhub/internal/auth"
	"schoolhub/internal/crypto"
	"schoolhub/internal/metrics"
	"schoolhub/internal/model"
	"schoolhub/internal/repository"
	"schoolhub/internal/tenant"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes and x/crypto rejects it outright.
	maxPasswordLength = 72
)

type loginRequest struct {
	TenantDomain string `json:"tenant_domain"`
	Email        string `json:"email"`
	Password     string `json:"password"`
}

type registerRequest struct {
	TenantName   string `json:"tenant_name"`
	TenantDomain string `json:"tenant_domain"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

type memberRegisterRequest struct {
	TenantDomain string `json:"tenant_domain"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         userSummary `json:"user"`
}

type userSummary struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

func summarize(user model.User) userSummary {
	return userSummary{
		ID:        user.ID,
		TenantID:  user.TenantID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.TenantDomain = normalize(req.TenantDomain)
	req.Email = normalize(req.Email)
	if req.TenantDomain == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	limited, err := s.loginLimited(r.Context(), req.TenantDomain, req.Email)
	if err != nil {
		s.logger.WithError(err).Warn("login rate limiter unavailable")
	}
	if limited {
		metrics.ObserveAuth("login", "throttled")
		writeError(w, http.StatusTooManyRequests, "too_many_attempts")
		return
	}

	t, err := s.store.GetTenantByDomain(r.Context(), req.TenantDomain)
	if err != nil || !t.IsActive {
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		metrics.ObserveAuth("login", "rejected")
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), t.ID, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.ObserveAuth("login", "rejected")
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		metrics.ObserveAuth("login", "rejected")
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if !user.IsActive {
		metrics.ObserveAuth("login", "rejected")
		writeError(w, http.StatusForbidden, "user_inactive")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	s.clearLoginAttempts(r.Context(), req.TenantDomain, req.Email)
	metrics.ObserveAuth("login", "success")

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         summarize(user),
	})
}

// handleRefresh issues a new access token only. The refresh token stays valid until it
// expires or the user logs out.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	session, err := s.store.GetRefreshSession(r.Context(), crypto.HashToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.ObserveAuth("refresh", "rejected")
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if session.RevokedAt != nil || !session.ExpiresAt.After(s.now()) {
		metrics.ObserveAuth("refresh", "rejected")
		writeError(w, http.StatusUnauthorized, "refresh_token_expired")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), session.UserID)
	if err != nil || !user.IsActive || user.TenantID != session.TenantID {
		metrics.ObserveAuth("refresh", "rejected")
		writeError(w, http.StatusUnauthorized, "user_not_found")
		return
	}
	if code, status := s.checkTenantActive(r.Context(), user.TenantID); code != "" {
		metrics.ObserveAuth("refresh", "rejected")
		writeError(w, status, code)
		return
	}

	accessToken, err := s.newAccessToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	metrics.ObserveAuth("refresh", "success")
	writeJSON(w, http.StatusOK, map[string]string{"access_token": accessToken})
}

// handleRegister bootstraps a new tenant with its administrator and signs them in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.TenantDomain = normalize(req.TenantDomain)
	req.Email = normalize(req.Email)
	req.TenantName = strings.TrimSpace(req.TenantName)
	if req.TenantName == "" || req.TenantDomain == "" {
		writeError(w, http.StatusBadRequest, "missing_tenant")
		return
	}
	if code := validateAccount(req.Email, req.Password, req.FirstName, req.LastName); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	now := s.now()
	t := model.Tenant{
		ID:        uuid.NewString(),
		Domain:    req.TenantDomain,
		Name:      req.TenantName,
		IsActive:  true,
		CreatedAt: now,
	}
	admin, err := s.newUser(t.ID, req.Email, req.Password, req.FirstName, req.LastName, model.RoleTenantAdmin, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := s.store.CreateTenantWithAdmin(r.Context(), t, admin); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			writeError(w, http.StatusConflict, "tenant_exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), admin, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	metrics.ObserveAuth("register", "success")
	writeJSON(w, http.StatusCreated, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         summarize(admin),
	})
}

func (s *Server) handleFacultyRegister(w http.ResponseWriter, r *http.Request) {
	s.registerMember(w, r, model.RoleFaculty)
}

func (s *Server) handleStudentRegister(w http.ResponseWriter, r *http.Request) {
	s.registerMember(w, r, model.RoleStudent)
}

// registerMember creates an account inside an existing tenant. It never returns tokens;
// the new member signs in through /auth/login.
func (s *Server) registerMember(w http.ResponseWriter, r *http.Request, role string) {
	var req memberRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.TenantDomain = normalize(req.TenantDomain)
	req.Email = normalize(req.Email)
	if req.TenantDomain == "" {
		writeError(w, http.StatusBadRequest, "missing_tenant")
		return
	}
	if code := validateAccount(req.Email, req.Password, req.FirstName, req.LastName); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	t, err := s.store.GetTenantByDomain(r.Context(), req.TenantDomain)
	if err != nil || !t.IsActive {
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		writeError(w, http.StatusNotFound, "tenant_not_found")
		return
	}

	user, err := s.newUser(t.ID, req.Email, req.Password, req.FirstName, req.LastName, role, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			writeError(w, http.StatusConflict, "email_taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	metrics.ObserveAuth(role+"_register", "success")
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	if err := s.store.RevokeRefreshSessionsByUser(r.Context(), claims.UserID, s.now()); err != nil {
		s.logger.WithError(err).WithField("user_id", claims.UserID).Warn("refresh session revoke failed")
	}
	if err := s.denyAccessToken(r.Context(), claims); err != nil {
		s.logger.WithError(err).WithField("user_id", claims.UserID).Warn("access token denylist failed")
	}
	metrics.ObserveAuth("logout", "success")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	user, err := s.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "user_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if user.TenantID != claims.TenantID {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	writeJSON(w, http.StatusOK, summarize(user))
}

func (s *Server) newUser(tenantID, email, password, firstName, lastName, role string, now time.Time) (model.User, error) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return model.User{}, err
	}
	return model.User{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *Server) newAccessToken(user model.User) (string, error) {
	return auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID:   user.ID,
		Role:     user.Role,
		TenantID: user.TenantID,
	})
}

func (s *Server) issueTokens(ctx context.Context, user model.User, userAgent, ip string) (string, string, error) {
	accessToken, err := s.newAccessToken(user)
	if err != nil {
		return "", "", err
	}

	refreshToken, err := crypto.NewRefreshToken()
	if err != nil {
		return "", "", err
	}

	now := s.now()
	session := model.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TenantID:  user.TenantID,
		TokenHash: crypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if userAgent != "" {
		session.UserAgent = &userAgent
	}
	if ip != "" {
		session.IPAddress = &ip
	}

	if err := s.store.CreateRefreshSession(ctx, session); err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// Auth middleware

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "token_expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		revoked, err := s.isRevoked(r.Context(), claims.ID)
		if err != nil {
			s.logger.WithError(err).Warn("access token denylist unavailable")
			writeError(w, http.StatusServiceUnavailable, "session_store_unavailable")
			return
		}
		if revoked {
			writeError(w, http.StatusUnauthorized, "token_revoked")
			return
		}
		if code, status := s.checkTenantActive(r.Context(), claims.TenantID); code != "" {
			writeError(w, status, code)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// checkTenantActive returns an error code and status when the tenant is gone or deactivated.
func (s *Server) checkTenantActive(ctx context.Context, tenantID string) (string, int) {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "tenant_inactive", http.StatusUnauthorized
		}
		s.logger.WithError(err).Warn("tenant lookup failed")
		return "server_error", http.StatusInternalServerError
	}
	if !t.IsActive {
		return "tenant_inactive", http.StatusUnauthorized
	}
	return "", 0
}

func (s *Server) requireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !principalFromContext(r.Context()).IsSuperAdmin() {
			writeError(w, http.StatusForbidden, "super_admin_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func principalFromContext(ctx context.Context) tenant.Principal {
	claims := claimsFromContext(ctx)
	if claims == nil {
		return tenant.Principal{}
	}
	return tenant.Principal{UserID: claims.UserID, TenantID: claims.TenantID, Role: claims.Role}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Redis-backed session state

func revokedKey(jti string) string {
	return "revoked_jti:" + jti
}

func loginAttemptsKey(domain, email string) string {
	return "login_attempts:" + domain + ":" + email
}

func (s *Server) denyAccessToken(ctx context.Context, claims *auth.Claims) error {
	if s.redis == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.redis.Set(ctx, revokedKey(claims.ID), "1", ttl).Err()
}

func (s *Server) isRevoked(ctx context.Context, jti string) (bool, error) {
	if s.redis == nil || jti == "" {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// loginLimited counts an attempt and reports whether the caller is over the limit.
// Without redis, or when redis fails, logins are not throttled.
func (s *Server) loginLimited(ctx context.Context, domain, email string) (bool, error) {
	if s.redis == nil || s.cfg.LoginMaxAttempts <= 0 {
		return false, nil
	}
	key := loginAttemptsKey(domain, email)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, s.cfg.LoginAttemptWindow).Err(); err != nil {
			return false, err
		}
	}
	return count > int64(s.cfg.LoginMaxAttempts), nil
}

func (s *Server) clearLoginAttempts(ctx context.Context, domain, email string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, loginAttemptsKey(domain, email)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		s.logger.WithError(err).Warn("login attempt reset failed")
	}
}

func validateAccount(email, password, firstName, lastName string) string {
	if email == "" || !strings.Contains(email, "@") {
		return "invalid_email"
	}
	if len(password) < minPasswordLength {
		return "password_too_short"
	}
	if len(password) > maxPasswordLength {
		return "password_too_long"
	}
	if strings.TrimSpace(firstName) == "" || strings.TrimSpace(lastName) == "" {
		return "missing_name"
	}
	return ""
}

func normalize(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}
