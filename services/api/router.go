package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mendersoftware/deployments/pkg/identity"
)

// Routes constructs the chi router containing all API endpoints: the
// management plane, the device-facing plane, and the internal plane used by
// other backend services.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/management/v1/deployments", func(r chi.Router) {
		r.Use(identity.Middleware)

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", a.handleCreateDeployment)
			r.Get("/", a.handleListDeployments)
			r.Get("/{id}", a.handleGetDeployment)
			r.Put("/{id}/status", a.handleAbortDeployment)
			r.Get("/{id}/statistics", a.handleDeploymentStatistics)
			r.Get("/{id}/devices", a.handleListDeploymentDevices)
			r.Get("/{id}/devices/{deviceID}/log", a.handleGetDeviceLog)
			r.Post("/configuration/{deviceID}/{deploymentID}", a.handleCreateConfigurationDeployment)
			r.Get("/devices/{deviceID}", a.handleDeviceHistory)
			r.Delete("/devices/{deviceID}", a.handleDecommissionDevice)
		})

		r.Route("/artifacts", func(r chi.Router) {
			r.Post("/", a.handleUploadArtifact)
			r.Post("/generate", a.handleGenerateArtifact)
			r.Get("/", a.handleListArtifacts)
			r.Get("/{id}", a.handleGetArtifact)
			r.Put("/{id}", a.handleUpdateArtifact)
			r.Delete("/{id}", a.handleDeleteArtifact)
			r.Get("/{id}/download", a.handleArtifactDownloadLink)
			r.Post("/directupload", a.handleRequestUpload)
			r.Post("/directupload/{id}/complete", a.handleCompleteUpload)
			r.Get("/directupload/{id}", a.handleGetUploadIntent)
		})

		r.Route("/releases", func(r chi.Router) {
			r.Get("/", a.handleListReleases)
			r.Patch("/{name}/notes", a.handlePatchReleaseNotes)
		})
	})

	r.Route("/api/devices/v1/deployments", func(r chi.Router) {
		// The signed download endpoint authenticates with the link
		// signature alone; a device mid-reboot has no token.
		r.Get("/download", a.handleDownload)

		r.Group(func(r chi.Router) {
			r.Use(identity.Middleware)
			r.Get("/device/deployments/next", a.handleNextDeployment)
			r.Put("/device/deployments/{id}/status", a.handleReportStatus)
			r.Put("/device/deployments/{id}/log", a.handlePutDeviceLog)
		})
	})

	r.Route("/api/internal/v1/deployments", func(r chi.Router) {
		r.Post("/tenants", a.handleProvisionTenant)
		r.Put("/tenants/{tenantID}/storage/settings", a.handleSetStorageSettings)
		r.Get("/tenants/{tenantID}/storage/settings", a.handleGetStorageSettings)
		r.Delete("/tenants/{tenantID}/storage/settings", a.handleDeleteStorageSettings)
		r.Delete("/tenants/{tenantID}/devices/{deviceID}", a.handleInternalDecommission)
	})

	return r, nil
}
