package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mendersoftware/deployments/services/deployments"
)

func (a *API) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var ctor deployments.DeploymentConstructor
	if err := decodeJSON(r, &ctor); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	dep, err := a.app.CreateDeployment(ctx, a.tenantOf(r), &ctor)
	if err != nil {
		respondAppError(w, err)
		return
	}

	w.Header().Set("Location", r.URL.Path+"/"+dep.ID.String())
	respondJSON(w, http.StatusCreated, dep)
}

func (a *API) handleCreateConfigurationDeployment(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	deploymentID, err := uuid.Parse(chi.URLParam(r, "deploymentID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed deployment id"))
		return
	}

	var ctor deployments.ConfigurationDeploymentConstructor
	if err := decodeJSON(r, &ctor); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	dep, err := a.app.CreateConfigurationDeployment(ctx, a.tenantOf(r), deploymentID, deviceID, &ctor)
	if err != nil {
		respondAppError(w, err)
		return
	}

	w.Header().Set("Location", "/api/management/v1/deployments/deployments/"+dep.ID.String())
	respondJSON(w, http.StatusCreated, dep)
}

func (a *API) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)
	q := deployments.Query{
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Skip:   skip,
		Limit:  limit,
	}
	switch r.URL.Query().Get("status") {
	case "":
	case "pending":
		q.Status = deployments.StatusQueryPending
	case "inprogress":
		q.Status = deployments.StatusQueryInProgress
	case "finished":
		q.Status = deployments.StatusQueryFinished
	default:
		respondError(w, http.StatusBadRequest, errors.New("unknown status filter"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	deps, total, err := a.app.FindDeployments(ctx, a.tenantOf(r), q)
	if err != nil {
		respondAppError(w, err)
		return
	}

	w.Header().Set("X-Total-Count", itoa(total))
	respondJSON(w, http.StatusOK, deps)
}

func (a *API) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed deployment id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	dep, err := a.app.GetDeployment(ctx, a.tenantOf(r), id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dep)
}

func (a *API) handleAbortDeployment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed deployment id"))
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Status != "aborted" {
		respondError(w, http.StatusBadRequest, errors.New("only the aborted status can be set"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.app.AbortDeployment(ctx, a.tenantOf(r), id); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleDeploymentStatistics(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed deployment id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	stats, err := a.app.GetDeploymentStats(ctx, a.tenantOf(r), id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (a *API) handleListDeploymentDevices(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed deployment id"))
		return
	}
	skip, limit := pagination(r)

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	devices, total, err := a.app.ListDeviceDeployments(ctx, a.tenantOf(r), id, skip, limit)
	if err != nil {
		respondAppError(w, err)
		return
	}

	w.Header().Set("X-Total-Count", itoa(total))
	respondJSON(w, http.StatusOK, devices)
}

func (a *API) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	history, err := a.app.DeviceDeploymentHistory(ctx, a.tenantOf(r), chi.URLParam(r, "deviceID"))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

func (a *API) handleDecommissionDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.app.DecommissionDevice(ctx, a.tenantOf(r), chi.URLParam(r, "deviceID")); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleGetDeviceLog(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed deployment id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	dl, err := a.app.GetDeviceDeploymentLog(ctx, a.tenantOf(r), id, chi.URLParam(r, "deviceID"))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dl)
}
