package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mendersoftware/deployments/services/deployments"
)

func (a *API) handleProvisionTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string `json:"tenant_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.app.ProvisionTenant(ctx, req.TenantID); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, nil)
}

func (a *API) handleSetStorageSettings(w http.ResponseWriter, r *http.Request) {
	var settings deployments.StorageSettings
	if err := decodeJSON(r, &settings); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.app.SetStorageSettings(ctx, chi.URLParam(r, "tenantID"), &settings); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleGetStorageSettings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	settings, err := a.app.GetStorageSettings(ctx, chi.URLParam(r, "tenantID"))
	if errors.Is(err, deployments.ErrNotFound) {
		// No settings means the default backend applies.
		respondJSON(w, http.StatusOK, struct{}{})
		return
	}
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (a *API) handleDeleteStorageSettings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.app.DeleteStorageSettings(ctx, chi.URLParam(r, "tenantID")); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleInternalDecommission(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.app.DecommissionDevice(ctx, chi.URLParam(r, "tenantID"), chi.URLParam(r, "deviceID")); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
