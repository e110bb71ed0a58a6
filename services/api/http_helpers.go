package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mendersoftware/deployments/pkg/identity"
	"github.com/mendersoftware/deployments/services/deployments"
)

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondAppError maps the engine's error taxonomy onto HTTP statuses.
func respondAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, deployments.ErrInvalidInput),
		errors.Is(err, deployments.ErrInvalidArtifact):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, deployments.ErrNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, deployments.ErrAlreadyFinished),
		errors.Is(err, deployments.ErrArtifactInUse),
		errors.Is(err, deployments.ErrConflict):
		respondError(w, http.StatusConflict, err)
	case errors.Is(err, deployments.ErrUnprocessable):
		respondError(w, http.StatusUnprocessableEntity, err)
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

// tenantOf resolves the caller's tenant, falling back to the configured
// default for single-tenant installations.
func (a *API) tenantOf(r *http.Request) string {
	if id, ok := identity.FromContext(r.Context()); ok && id.Tenant != "" {
		return id.Tenant
	}
	return a.config.DefaultTenant
}

// deviceOf returns the device subject from a device-scoped token.
func deviceOf(r *http.Request) string {
	if id, ok := identity.FromContext(r.Context()); ok && id.IsDevice {
		return id.Subject
	}
	return ""
}

func itoa(n int) string { return strconv.Itoa(n) }

// pagination reads page/per_page query parameters, clamped to sane values.
func pagination(r *http.Request) (skip, limit int) {
	page := 1
	perPage := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 {
		perPage = v
	}
	if perPage > 500 {
		perPage = 500
	}
	return (page - 1) * perPage, perPage
}
