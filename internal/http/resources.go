package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"schoolhub/internal/model"
	"schoolhub/internal/repository"
	"schoolhub/internal/tenant"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type resourceKey struct{}

// resourceMiddleware rejects resources the tenant guard does not know.
func (s *Server) resourceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resource := chi.URLParam(r, "resource")
		if resource == "" || !s.guard.Allows(resource) {
			writeError(w, http.StatusNotFound, "unknown_resource")
			return
		}
		ctx := context.WithValue(r.Context(), resourceKey{}, resource)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func resourceFromContext(ctx context.Context) string {
	value, _ := ctx.Value(resourceKey{}).(string)
	return value
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	s.listResources(w, r, principal.TenantID)
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	resource := resourceFromContext(r.Context())
	resourceID := chi.URLParam(r, "resourceId")

	row, err := s.store.GetResource(r.Context(), resource, resourceID, principal.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.logger.WithError(err).WithField("resource", resource).Error("resource read failed")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	resource := resourceFromContext(r.Context())

	var data map[string]interface{}
	if err := decodeJSON(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	delete(data, tenant.Column)

	row, err := s.store.CreateResource(r.Context(), resource, principal.TenantID, data)
	if err != nil {
		s.logger.WithError(err).WithField("resource", resource).Error("resource create failed")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

// handleDeleteResource validates ownership through the tenant guard before mutating.
func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	resource := resourceFromContext(r.Context())
	resourceID := chi.URLParam(r, "resourceId")

	decision := s.guard.ValidateResource(r.Context(), resource, resourceID, principal.TenantID)
	if !decision.Allowed() {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	if err := s.store.DeleteResource(r.Context(), resource, resourceID, principal.TenantID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.logger.WithError(err).WithField("resource", resource).Error("resource delete failed")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Super admin

type tenantResponse struct {
	ID       string `json:"id"`
	Domain   string `json:"domain"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.store.ListTenants(r.Context(), listLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		resp = append(resp, tenantResponse{ID: t.ID, Domain: t.Domain, Name: t.Name, IsActive: t.IsActive})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTenantResources(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	if !tenant.CanAccessTenant(principalFromContext(r.Context()), tenantID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if _, err := s.store.GetTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "tenant_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	s.listResources(w, r, tenantID)
}

func (s *Server) listResources(w http.ResponseWriter, r *http.Request, tenantID string) {
	resource := resourceFromContext(r.Context())
	rows, err := s.store.ListResources(r.Context(), resource, tenantID, listLimit(r))
	if err != nil {
		s.logger.WithError(err).WithField("resource", resource).Error("resource list failed")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if rows == nil {
		rows = []model.Resource{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func listLimit(r *http.Request) int {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}
