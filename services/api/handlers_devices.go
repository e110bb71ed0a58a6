package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mendersoftware/deployments/pkg/link"
	"github.com/mendersoftware/deployments/services/deployments"
)

func (a *API) handleNextDeployment(w http.ResponseWriter, r *http.Request) {
	tenant := a.tenantOf(r)
	deviceID := deviceOf(r)
	if deviceID == "" {
		respondError(w, http.StatusBadRequest, errors.New("device identity required"))
		return
	}

	installed := &deployments.InstalledArtifact{
		ArtifactName: r.URL.Query().Get("artifact_name"),
		DeviceType:   r.URL.Query().Get("device_type"),
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	next, err := a.app.NextDeployment(ctx, tenant, deviceID, installed)
	if err != nil {
		a.pollCounter.WithLabelValues("error").Inc()
		respondAppError(w, err)
		return
	}
	if next == nil {
		a.pollCounter.WithLabelValues("nothing").Inc()
		respondJSON(w, http.StatusNoContent, nil)
		return
	}

	a.pollCounter.WithLabelValues("assigned").Inc()
	respondJSON(w, http.StatusOK, next)
}

func (a *API) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceOf(r)
	if deviceID == "" {
		respondError(w, http.StatusBadRequest, errors.New("device identity required"))
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed deployment id"))
		return
	}

	var report deployments.StatusReport
	if err := decodeJSON(r, &report); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.app.ReportDeviceStatus(ctx, a.tenantOf(r), id, deviceID, &report); err != nil {
		respondAppError(w, err)
		return
	}

	a.statusCounter.WithLabelValues(string(report.Status)).Inc()
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handlePutDeviceLog(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceOf(r)
	if deviceID == "" {
		respondError(w, http.StatusBadRequest, errors.New("device identity required"))
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed deployment id"))
		return
	}

	var dl deployments.DeploymentLog
	if err := decodeJSON(r, &dl); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.app.SaveDeviceDeploymentLog(ctx, a.tenantOf(r), id, deviceID, &dl); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// handleDownload verifies a signed link and hands the caller the payload:
// a redirect to object storage for artifacts, the configuration body for
// configuration deployments.
func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	claims, err := a.signer.Verify(r.URL)
	if err != nil {
		a.downloadCounter.WithLabelValues("rejected").Inc()
		switch {
		case errors.Is(err, link.ErrMissingSignature),
			errors.Is(err, link.ErrMissingExpire),
			errors.Is(err, link.ErrBadExpire):
			respondError(w, http.StatusBadRequest, err)
		default:
			respondError(w, http.StatusForbidden, err)
		}
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if claims.ArtifactID == "" {
		payload, err := a.app.ResolveConfiguration(ctx, claims)
		if err != nil {
			a.downloadCounter.WithLabelValues("error").Inc()
			respondAppError(w, err)
			return
		}
		a.downloadCounter.WithLabelValues("configuration").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	location, err := a.app.ResolveDownload(ctx, claims)
	if err != nil {
		a.downloadCounter.WithLabelValues("error").Inc()
		respondAppError(w, err)
		return
	}

	a.downloadCounter.WithLabelValues("artifact").Inc()
	http.Redirect(w, r, location, http.StatusTemporaryRedirect)
}
