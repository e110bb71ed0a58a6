package deployments

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DataStore is the persistence boundary for the engine. Every method takes
// the tenant explicitly; nothing is inferred from the context.
type DataStore interface {
	// Tenants.
	ProvisionTenant(ctx context.Context, tenantID string) error
	TenantExists(ctx context.Context, tenantID string) (bool, error)

	// Storage settings.
	SetStorageSettings(ctx context.Context, tenantID string, s *StorageSettings, sealedSecret string) error
	GetStorageSettings(ctx context.Context, tenantID string) (*StorageSettings, string, error)
	DeleteStorageSettings(ctx context.Context, tenantID string) error

	// Artifacts and releases.
	InsertArtifact(ctx context.Context, tenantID string, a *Artifact) error
	GetArtifact(ctx context.Context, tenantID string, id uuid.UUID) (*Artifact, error)
	ArtifactsByName(ctx context.Context, tenantID, name string) ([]Artifact, error)
	ListArtifacts(ctx context.Context, tenantID string, skip, limit int) ([]Artifact, error)
	UpdateArtifactDescription(ctx context.Context, tenantID string, id uuid.UUID, description string) error
	DeleteArtifact(ctx context.Context, tenantID string, id uuid.UUID) error
	ArtifactReferenced(ctx context.Context, tenantID string, id uuid.UUID) (bool, error)
	SetReleaseNotes(ctx context.Context, tenantID, name, notes string) error
	GetReleaseNotes(ctx context.Context, tenantID string, names []string) (map[string]string, error)

	// Deployments.
	InsertDeployment(ctx context.Context, tenantID string, d *Deployment, devices []DeviceDeployment) error
	GetDeployment(ctx context.Context, tenantID string, id uuid.UUID) (*Deployment, error)
	FindDeployments(ctx context.Context, tenantID string, q Query) ([]Deployment, int, error)
	DeviceDeploymentCount(ctx context.Context, tenantID string, deploymentID uuid.UUID) (int, error)

	// Device deployments.
	GetDeviceDeployment(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string) (*DeviceDeployment, error)
	ListDeviceDeployments(ctx context.Context, tenantID string, deploymentID uuid.UUID, skip, limit int) ([]DeviceDeployment, int, error)
	DeviceDeploymentsForDevice(ctx context.Context, tenantID, deviceID string) ([]DeviceDeployment, error)
	SetDeviceDeploymentType(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID, deviceType string) error

	// OldestActiveDeviceDeployment returns the device's sub-record in the
	// oldest deployment where it is still in an active status, or nil when
	// none exists.
	OldestActiveDeviceDeployment(ctx context.Context, tenantID, deviceID string) (*DeviceDeployment, *Deployment, error)

	// SetDeviceDeploymentStatus moves one device record from its current
	// status to the given one, updates the deployment stats and aggregate
	// status atomically, and returns the updated deployment. The transition
	// must already be validated; the store only guarantees atomicity against
	// concurrent reports (lost updates return ErrConflict).
	SetDeviceDeploymentStatus(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, from, to DeviceStatus, subState *string, artifactID *uuid.UUID, finishedAt *time.Time) (*Deployment, error)

	// ForceDeviceDeploymentStatuses terminates every non-terminal device
	// record of a deployment (abort) or of a device across deployments
	// (decommission), updating stats alongside. Returns the number moved.
	AbortDeviceDeployments(ctx context.Context, tenantID string, deploymentID uuid.UUID) (int, error)
	DecommissionDeviceDeployments(ctx context.Context, tenantID, deviceID string) (int, error)

	// Logs.
	SaveDeviceDeploymentLog(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, compressed []byte) error
	GetDeviceDeploymentLog(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string) ([]byte, error)

	// Upload intents.
	InsertUploadIntent(ctx context.Context, tenantID string, in *UploadIntent) error
	GetUploadIntent(ctx context.Context, tenantID string, id uuid.UUID) (*UploadIntent, error)
	SetUploadIntentStatus(ctx context.Context, tenantID string, id uuid.UUID, from, to UploadStatus) error
}
