package api

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mendersoftware/deployments/pkg/link"
	"github.com/mendersoftware/deployments/services/deployments"
)

// Config controls runtime behaviour for the API handlers.
type Config struct {
	// DefaultTenant is assumed when a caller's token carries no tenant
	// claim (single-tenant installations).
	DefaultTenant string
}

// API exposes the deployments engine over HTTP.
type API struct {
	app    deployments.App
	signer *link.Signer
	config Config

	pollCounter     *prometheus.CounterVec
	statusCounter   *prometheus.CounterVec
	downloadCounter *prometheus.CounterVec
}

// New initialises the API layer and registers its metrics.
func New(app deployments.App, signer *link.Signer, cfg Config, reg prometheus.Registerer) (*API, error) {
	if app == nil {
		return nil, errors.New("app is required")
	}
	if signer == nil {
		return nil, errors.New("link signer is required")
	}
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = "default"
	}

	a := &API{
		app:    app,
		signer: signer,
		config: cfg,
		pollCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deployments_device_polls_total",
			Help: "Device update polls by outcome.",
		}, []string{"outcome"}),
		statusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deployments_status_reports_total",
			Help: "Device status reports by reported status.",
		}, []string{"status"}),
		downloadCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deployments_downloads_total",
			Help: "Signed download requests by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{a.pollCounter, a.statusCounter, a.downloadCounter} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}
