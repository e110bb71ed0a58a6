package deployments

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mendersoftware/deployments/pkg/introspect"
	"github.com/mendersoftware/deployments/pkg/link"
	"github.com/mendersoftware/deployments/pkg/secrets"
)

// ObjectStore is the slice of object storage the engine needs: presigned
// transfer URLs, direct writes for synchronous uploads, and existence and
// removal checks.
type ObjectStore interface {
	PresignGet(ctx context.Context, key string, expire time.Duration) (string, error)
	PresignPut(ctx context.Context, key string, expire time.Duration) (string, error)
	PutObject(ctx context.Context, key string, r io.Reader, size int64) error
	ObjectExists(ctx context.Context, key string) (bool, error)
	DeleteObject(ctx context.Context, key string) error
}

// ObjectStores hands out the object store bound to a tenant's configured
// storage backend, falling back to the default backend when the tenant has
// no settings of its own.
type ObjectStores interface {
	ForTenant(ctx context.Context, tenantID string) (ObjectStore, error)
}

// Publisher emits lifecycle events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// DeviceDirectory resolves a device's reported type when the device itself
// has not told us yet (deployment creation time).
type DeviceDirectory interface {
	DeviceType(ctx context.Context, tenantID, deviceID string) (string, error)
}

// Inspector runs the external artifact introspection tool against an
// uploaded object; the engine never parses artifact binaries itself.
type Inspector interface {
	Inspect(ctx context.Context, objectURL string) (*introspect.Meta, error)
}

// App is the engine surface the HTTP layer talks to.
type App interface {
	// Tenancy and storage.
	ProvisionTenant(ctx context.Context, tenantID string) error
	SetStorageSettings(ctx context.Context, tenantID string, settings *StorageSettings) error
	GetStorageSettings(ctx context.Context, tenantID string) (*StorageSettings, error)
	DeleteStorageSettings(ctx context.Context, tenantID string) error

	// Artifacts and releases.
	UploadArtifact(ctx context.Context, tenantID string, up *ArtifactUpload) (*Artifact, error)
	GenerateArtifact(ctx context.Context, tenantID string, gen *ArtifactGenerate) (*Artifact, error)
	GetArtifact(ctx context.Context, tenantID string, id uuid.UUID) (*Artifact, error)
	ListArtifacts(ctx context.Context, tenantID string, skip, limit int) ([]Artifact, error)
	UpdateArtifactDescription(ctx context.Context, tenantID string, id uuid.UUID, description string) error
	DeleteArtifact(ctx context.Context, tenantID string, id uuid.UUID) error
	ArtifactDownloadLink(ctx context.Context, tenantID string, id uuid.UUID) (*Link, error)
	ListReleases(ctx context.Context, tenantID, nameFilter string) ([]Release, error)
	PatchReleaseNotes(ctx context.Context, tenantID, name, notes string) error

	// Deployments.
	CreateDeployment(ctx context.Context, tenantID string, ctor *DeploymentConstructor) (*Deployment, error)
	CreateConfigurationDeployment(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, ctor *ConfigurationDeploymentConstructor) (*Deployment, error)
	GetDeployment(ctx context.Context, tenantID string, id uuid.UUID) (*Deployment, error)
	FindDeployments(ctx context.Context, tenantID string, q Query) ([]Deployment, int, error)
	GetDeploymentStats(ctx context.Context, tenantID string, id uuid.UUID) (Stats, error)
	ListDeviceDeployments(ctx context.Context, tenantID string, id uuid.UUID, skip, limit int) ([]DeviceDeployment, int, error)
	AbortDeployment(ctx context.Context, tenantID string, id uuid.UUID) error
	DecommissionDevice(ctx context.Context, tenantID, deviceID string) error
	DeviceDeploymentHistory(ctx context.Context, tenantID, deviceID string) ([]DeviceDeployment, error)

	// Device-facing operations.
	NextDeployment(ctx context.Context, tenantID, deviceID string, installed *InstalledArtifact) (*Assignment, error)
	ReportDeviceStatus(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, report *StatusReport) error
	SaveDeviceDeploymentLog(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, dl *DeploymentLog) error
	GetDeviceDeploymentLog(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string) (*DeploymentLog, error)

	// Signed download resolution.
	ResolveDownload(ctx context.Context, claims link.Claims) (string, error)
	ResolveConfiguration(ctx context.Context, claims link.Claims) ([]byte, error)

	// Direct uploads.
	RequestUpload(ctx context.Context, tenantID string, meta map[string]any) (*UploadDraft, error)
	CompleteUpload(ctx context.Context, tenantID string, id uuid.UUID) error
	GetUploadIntent(ctx context.Context, tenantID string, id uuid.UUID) (*UploadIntent, error)
}

// Config tunes the engine.
type Config struct {
	// LinkTTL bounds signed download link validity.
	LinkTTL time.Duration
	// UploadTTL bounds presigned direct upload validity.
	UploadTTL time.Duration
	// DownloadBase is the externally reachable base URL signed links point at.
	DownloadBase string
	// PresignExpire bounds the object storage URL a verified link redirects to.
	PresignExpire time.Duration
}

func (c Config) withDefaults() Config {
	if c.LinkTTL <= 0 {
		c.LinkTTL = 24 * time.Hour
	}
	if c.UploadTTL <= 0 {
		c.UploadTTL = time.Hour
	}
	if c.PresignExpire <= 0 {
		c.PresignExpire = 15 * time.Minute
	}
	return c
}

// Deployments wires the engine together. All state lives in the DataStore;
// the struct itself is safe for concurrent use.
type Deployments struct {
	store     DataStore
	objects   ObjectStores
	bus       Publisher
	inventory DeviceDirectory
	inspector Inspector
	signer    *link.Signer
	keyring   *secrets.Keyring
	cfg       Config
	logger    *log.Logger
	now       func() time.Time
}

func NewDeployments(store DataStore, objects ObjectStores, bus Publisher, inventory DeviceDirectory, inspector Inspector, signer *link.Signer, keyring *secrets.Keyring, cfg Config, logger *log.Logger) *Deployments {
	return &Deployments{
		store:     store,
		objects:   objects,
		bus:       bus,
		inventory: inventory,
		inspector: inspector,
		signer:    signer,
		keyring:   keyring,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (d *Deployments) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}

// publish sends a lifecycle event, logging failures instead of surfacing
// them: the store is the source of truth and events are best effort.
func (d *Deployments) publish(ctx context.Context, subject string, payload any) {
	if d.bus == nil {
		return
	}
	if err := d.bus.Publish(ctx, subject, payload); err != nil {
		d.logf("publish %s failed: %v", subject, err)
	}
}
