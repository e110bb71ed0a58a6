package deployments

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Row types mirror the migration schema; scany maps columns to fields by
// snake-cased field name.

type artifactRow struct {
	ID          uuid.UUID
	TenantID    string
	Name        string
	Description string
	Size        int64
	Checksum    string
	DeviceTypes []byte
	Updates     []byte
	ObjectKey   string
	CreatedAt   time.Time
}

func (r *artifactRow) toModel() (*Artifact, error) {
	a := &Artifact{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Size:        r.Size,
		Checksum:    r.Checksum,
		ObjectKey:   r.ObjectKey,
		CreatedAt:   r.CreatedAt,
	}
	if len(r.DeviceTypes) > 0 {
		if err := json.Unmarshal(r.DeviceTypes, &a.DeviceTypes); err != nil {
			return nil, err
		}
	}
	if len(r.Updates) > 0 {
		if err := json.Unmarshal(r.Updates, &a.Updates); err != nil {
			return nil, err
		}
	}
	return a, nil
}

type deploymentRow struct {
	ID            uuid.UUID
	TenantID      string
	Name          string
	ArtifactName  string
	Kind          string
	Configuration []byte
	Status        string
	Stats         []byte
	MaxDevices    int
	CreatedAt     time.Time
	FinishedAt    *time.Time
}

func (r *deploymentRow) toModel() (*Deployment, error) {
	d := &Deployment{
		ID:            r.ID,
		Name:          r.Name,
		ArtifactName:  r.ArtifactName,
		Kind:          DeploymentKind(r.Kind),
		Configuration: r.Configuration,
		Status:        DeploymentStatus(r.Status),
		MaxDevices:    r.MaxDevices,
		DeviceCount:   r.MaxDevices,
		CreatedAt:     r.CreatedAt,
		FinishedAt:    r.FinishedAt,
	}
	if len(r.Stats) > 0 {
		if err := json.Unmarshal(r.Stats, &d.Stats); err != nil {
			return nil, err
		}
	} else {
		d.Stats = NewStats()
	}
	return d, nil
}

type deviceDeploymentRow struct {
	ID           uuid.UUID
	TenantID     string
	DeploymentID uuid.UUID
	DeviceID     string
	DeviceType   string
	Status       string
	SubState     string
	ArtifactID   *uuid.UUID
	LogAvailable bool
	Position     int
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

func (r *deviceDeploymentRow) toModel() *DeviceDeployment {
	return &DeviceDeployment{
		ID:           r.ID,
		DeploymentID: r.DeploymentID,
		DeviceID:     r.DeviceID,
		DeviceType:   r.DeviceType,
		Status:       DeviceStatus(r.Status),
		SubState:     r.SubState,
		ArtifactID:   r.ArtifactID,
		LogAvailable: r.LogAvailable,
		CreatedAt:    r.CreatedAt,
		FinishedAt:   r.FinishedAt,
	}
}

type storageSettingRow struct {
	TenantID     string
	Region       string
	Bucket       string
	Endpoint     string
	AccessKey    string
	SealedSecret string
	ForcePath    bool
	UpdatedAt    time.Time
}

type uploadIntentRow struct {
	ID        uuid.UUID
	TenantID  string
	Status    int
	ObjectKey string
	Meta      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *uploadIntentRow) toModel() (*UploadIntent, error) {
	in := &UploadIntent{
		ID:        r.ID,
		Status:    UploadStatus(r.Status),
		ObjectKey: r.ObjectKey,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Meta) > 0 {
		if err := json.Unmarshal(r.Meta, &in.Meta); err != nil {
			return nil, err
		}
	}
	return in, nil
}
