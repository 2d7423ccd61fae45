package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"schoolhub/internal/config"
	"schoolhub/internal/model"
	"schoolhub/internal/repository"
	"schoolhub/internal/tenant"
)

// Store is the persistence the HTTP layer needs. *repository.Store implements it.
type Store interface {
	GetTenantByDomain(ctx context.Context, domain string) (model.Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (model.Tenant, error)
	ListTenants(ctx context.Context, limit int) ([]model.Tenant, error)
	CreateTenantWithAdmin(ctx context.Context, t model.Tenant, admin model.User) error
	CreateUser(ctx context.Context, user model.User) error
	GetUserByEmail(ctx context.Context, tenantID, email string) (model.User, error)
	GetUserByID(ctx context.Context, userID string) (model.User, error)
	CreateRefreshSession(ctx context.Context, session model.RefreshSession) error
	GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error)
	RevokeRefreshSessionsByUser(ctx context.Context, userID string, revokedAt time.Time) error
	ListResources(ctx context.Context, table, tenantID string, limit int) ([]model.Resource, error)
	GetResource(ctx context.Context, table, resourceID, tenantID string) (model.Resource, error)
	CreateResource(ctx context.Context, table, tenantID string, data map[string]interface{}) (model.Resource, error)
	DeleteResource(ctx context.Context, table, resourceID, tenantID string) error
}

var _ Store = (*repository.Store)(nil)

// ResourceGuard decides whether a single resource id belongs to a tenant.
type ResourceGuard interface {
	Allows(table string) bool
	ValidateResource(ctx context.Context, table, resourceID, tenantID string) tenant.Decision
}

type Server struct {
	cfg    config.Config
	store  Store
	guard  ResourceGuard
	redis  *redis.Client
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewServer wires the HTTP API. redisClient may be nil, which disables rate limiting
// and the access token denylist.
func NewServer(cfg config.Config, store Store, guard ResourceGuard, redisClient *redis.Client, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		cfg:    cfg,
		store:  store,
		guard:  guard,
		redis:  redisClient,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, s.accessLog, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/register", s.handleRegister)
		r.Post("/faculty-register", s.handleFacultyRegister)
		r.Post("/student-register", s.handleStudentRegister)
		r.With(s.authMiddleware).Post("/logout", s.handleLogout)
		r.With(s.authMiddleware).Get("/me", s.handleGetMe)
	})

	r.Route("/api/{resource}", func(r chi.Router) {
		r.Use(s.authMiddleware, s.resourceMiddleware)
		r.Get("/", s.handleListResources)
		r.Post("/", s.handleCreateResource)
		r.Get("/{resourceId}", s.handleGetResource)
		r.Delete("/{resourceId}", s.handleDeleteResource)
	})

	r.Route("/admin/tenants", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireSuperAdmin)
		r.Get("/", s.handleListTenants)
		r.With(s.resourceMiddleware).Get("/{tenantId}/{resource}", s.handleListTenantResources)
	})

	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"reqid":  middleware.GetReqID(r.Context()),
			"method": r.Method,
			"uri":    r.RequestURI,
			"status": ww.Status(),
			"bytes":  ww.BytesWritten(),
			"dur":    time.Since(start).String(),
		}).Info("request")
	})
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return ""
}
