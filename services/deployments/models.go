package deployments

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeploymentKind distinguishes the two deployment variants sharing one
// lifecycle: a software (rootfs) update delivered as an artifact, and a
// configuration push carrying its payload inline.
type DeploymentKind string

const (
	KindSoftware      DeploymentKind = "software"
	KindConfiguration DeploymentKind = "configuration"
)

// Artifact is an immutable, checksummed update payload with device-type
// compatibility metadata. Created on upload completion, never mutated apart
// from its free-text description, deleted only while unreferenced.
type Artifact struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	DeviceTypes []string  `json:"device_types_compatible"`
	Updates     []Update  `json:"updates,omitempty"`
	ObjectKey   string    `json:"-"`
	CreatedAt   time.Time `json:"modified"`
}

// Compatible reports whether the artifact supports the device type.
func (a *Artifact) Compatible(deviceType string) bool {
	for _, dt := range a.DeviceTypes {
		if dt == deviceType {
			return true
		}
	}
	return false
}

// Update is one update module inside an artifact.
type Update struct {
	Type           string            `json:"type"`
	Files          []UpdateFile      `json:"files,omitempty"`
	Provides       map[string]string `json:"provides,omitempty"`
	ClearsProvides []string          `json:"clears_provides,omitempty"`
}

type UpdateFile struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Release is the view over all artifacts sharing a name, with free-text
// notes attached to the name itself. Releases are never stored; the catalog
// derives them from artifact storage.
type Release struct {
	Name        string     `json:"name"`
	Notes       string     `json:"notes,omitempty"`
	Artifacts   []Artifact `json:"artifacts"`
	UpdateTypes []string   `json:"update_types,omitempty"`
	Modified    time.Time  `json:"modified"`
}

// ReleaseNotesMaxLength caps the notes field on a release patch.
const ReleaseNotesMaxLength = 1024

// Deployment is a campaign pushing one artifact or configuration payload
// to a set of devices.
type Deployment struct {
	ID            uuid.UUID        `json:"id"`
	Name          string           `json:"name"`
	ArtifactName  string           `json:"artifact_name"`
	Kind          DeploymentKind   `json:"type"`
	Configuration []byte           `json:"-"`
	Status        DeploymentStatus `json:"status"`
	Stats         Stats            `json:"-"`
	MaxDevices    int              `json:"max_devices"`
	DeviceCount   int              `json:"device_count"`
	CreatedAt     time.Time        `json:"created"`
	FinishedAt    *time.Time       `json:"finished,omitempty"`
}

// DeviceDeployment is the per-device sub-record and status machine within a
// deployment. Insertion order at creation is preserved for listings.
type DeviceDeployment struct {
	ID           uuid.UUID    `json:"id"`
	DeploymentID uuid.UUID    `json:"-"`
	DeviceID     string       `json:"device_id"`
	DeviceType   string       `json:"device_type,omitempty"`
	Status       DeviceStatus `json:"status"`
	SubState     string       `json:"substate,omitempty"`
	ArtifactID   *uuid.UUID   `json:"-"`
	LogAvailable bool         `json:"log"`
	CreatedAt    time.Time    `json:"created"`
	FinishedAt   *time.Time   `json:"finished,omitempty"`
}

// DeploymentConstructor is the input for creating a software deployment.
type DeploymentConstructor struct {
	Name         string   `json:"name"`
	ArtifactName string   `json:"artifact_name"`
	Devices      []string `json:"devices"`
}

func (c *DeploymentConstructor) Validate() error {
	if c == nil {
		return errors.New("deployment definition is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(c.ArtifactName) == "" {
		return errors.New("artifact_name is required")
	}
	if len(c.Devices) == 0 {
		return errors.New("devices list must not be empty")
	}
	for _, id := range c.Devices {
		if strings.TrimSpace(id) == "" {
			return errors.New("device id must not be empty")
		}
	}
	return nil
}

// ConfigurationDeploymentConstructor is the input for creating a
// configuration deployment. The payload is kept as raw JSON: the service
// forwards it, it never interprets it.
type ConfigurationDeploymentConstructor struct {
	Name          string          `json:"name"`
	Configuration json.RawMessage `json:"configuration"`
	Retries       uint            `json:"retries,omitempty"`
}

func (c *ConfigurationDeploymentConstructor) Validate() error {
	if c == nil {
		return errors.New("deployment definition is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name is required")
	}
	if len(bytes.TrimSpace(c.Configuration)) == 0 {
		return errors.New("configuration is required")
	}
	return nil
}

// StatusReport is a device-submitted status transition.
type StatusReport struct {
	Status   DeviceStatus `json:"status"`
	SubState string       `json:"substate,omitempty"`
}

const subStateMaxLength = 200

func (r *StatusReport) Validate() error {
	if !r.Status.Reportable() {
		return errors.New("unknown status value")
	}
	if len(r.SubState) > subStateMaxLength {
		return errors.New("substate too long")
	}
	return nil
}

// InstalledArtifact is the device-reported software currently installed,
// carried on every poll.
type InstalledArtifact struct {
	ArtifactName string
	DeviceType   string
}

func (i *InstalledArtifact) Validate() error {
	if strings.TrimSpace(i.DeviceType) == "" {
		return errors.New("device_type is required")
	}
	return nil
}

// Link is a signed, time-limited download location handed to a device.
type Link struct {
	URI    string    `json:"uri"`
	Expire time.Time `json:"expire"`
}

// Assignment is the instruction set returned to a polling device: which
// deployment it participates in and where to fetch the payload.
type Assignment struct {
	ID       uuid.UUID          `json:"id"`
	Kind     DeploymentKind     `json:"type"`
	Artifact AssignmentArtifact `json:"artifact"`
}

type AssignmentArtifact struct {
	Name        string   `json:"artifact_name"`
	Source      Link     `json:"source"`
	DeviceTypes []string `json:"device_types_compatible"`
}

// LogMessage is a single device deployment log line.
type LogMessage struct {
	Timestamp *time.Time `json:"timestamp"`
	Level     string     `json:"level"`
	Message   string     `json:"message"`
}

func (m *LogMessage) Validate() error {
	if m.Timestamp == nil {
		return errors.New("log message timestamp is required")
	}
	if m.Level == "" {
		return errors.New("log message level is required")
	}
	if m.Message == "" {
		return errors.New("log message text is required")
	}
	return nil
}

// DeploymentLog is the append-only log a device submits for one deployment.
type DeploymentLog struct {
	DeviceID     string       `json:"-"`
	DeploymentID uuid.UUID    `json:"-"`
	Messages     []LogMessage `json:"messages"`
}

func (l *DeploymentLog) Validate() error {
	if len(l.Messages) == 0 {
		return errors.New("log must contain at least one message")
	}
	for i := range l.Messages {
		if err := l.Messages[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// UploadStatus tracks a direct upload intent: zero until the object-storage
// write is observed, a processing marker while ingestion runs, and done once
// the artifact exists.
type UploadStatus int

const (
	UploadPending    UploadStatus = 0
	UploadProcessing UploadStatus = 1
	UploadDone       UploadStatus = 2
)

// UploadIntent is the server-side record of a direct upload in flight.
type UploadIntent struct {
	ID        uuid.UUID      `json:"id"`
	Status    UploadStatus   `json:"status"`
	ObjectKey string         `json:"-"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created"`
}

// UploadDraft is returned when a direct upload is requested.
type UploadDraft struct {
	ID     uuid.UUID `json:"id"`
	URI    string    `json:"uri"`
	Expire time.Time `json:"expire"`
}

// StatusQuery filters deployment lookups by aggregate state.
type StatusQuery int

const (
	StatusQueryAny StatusQuery = iota
	StatusQueryPending
	StatusQueryInProgress
	StatusQueryFinished
)

// Query is a deployment lookup filter.
type Query struct {
	Search        string
	Status        StatusQuery
	Skip          int
	Limit         int
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// StorageSettings holds a tenant's object-storage backend. The secret key is
// sealed before persisting and never returned to callers.
type StorageSettings struct {
	Region    string `json:"region,omitempty"`
	Bucket    string `json:"bucket"`
	Endpoint  string `json:"uri,omitempty"`
	AccessKey string `json:"key,omitempty"`
	SecretKey string `json:"secret,omitempty"`
	ForcePath bool   `json:"force_path_style,omitempty"`
}

func (s *StorageSettings) Validate() error {
	if strings.TrimSpace(s.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}
