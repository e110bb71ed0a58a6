package deployments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/mendersoftware/deployments/pkg/bus"
)

// CreateDeployment opens a software deployment targeting the listed devices.
// The artifact name must resolve to at least one stored artifact; per-device
// compatibility is decided later, when each device polls.
func (d *Deployments) CreateDeployment(ctx context.Context, tenantID string, ctor *DeploymentConstructor) (*Deployment, error) {
	if err := ctor.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	artifacts, err := d.store.ArtifactsByName(ctx, tenantID, ctor.ArtifactName)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("%w: no artifact named %q", ErrUnprocessable, ctor.ArtifactName)
	}

	now := d.now()
	dep := &Deployment{
		ID:           uuid.New(),
		Name:         ctor.Name,
		ArtifactName: ctor.ArtifactName,
		Kind:         KindSoftware,
		Status:       DeploymentPending,
		Stats:        NewStats(),
		MaxDevices:   len(ctor.Devices),
		DeviceCount:  len(ctor.Devices),
		CreatedAt:    now,
	}
	dep.Stats[StatusPending] = len(ctor.Devices)

	devices := make([]DeviceDeployment, 0, len(ctor.Devices))
	for _, deviceID := range ctor.Devices {
		dd := DeviceDeployment{
			ID:        uuid.New(),
			DeviceID:  deviceID,
			Status:    StatusPending,
			CreatedAt: now,
		}
		// Device type is best effort here; the device corrects it on poll.
		if d.inventory != nil {
			if dt, err := d.inventory.DeviceType(ctx, tenantID, deviceID); err == nil {
				dd.DeviceType = dt
			}
		}
		devices = append(devices, dd)
	}

	if err := d.store.InsertDeployment(ctx, tenantID, dep, devices); err != nil {
		return nil, err
	}

	d.publish(ctx, bus.SubjectDeploymentCreated, map[string]any{
		"tenant_id":     tenantID,
		"deployment_id": dep.ID,
		"artifact_name": dep.ArtifactName,
		"max_devices":   dep.MaxDevices,
	})
	return dep, nil
}

// CreateConfigurationDeployment opens a single-device configuration push.
// The caller supplies the deployment identity, which makes retries
// idempotent in the unhappy path: a replay of the same identity conflicts
// instead of double-deploying.
func (d *Deployments) CreateConfigurationDeployment(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, ctor *ConfigurationDeploymentConstructor) (*Deployment, error) {
	if err := ctor.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if deploymentID == uuid.Nil {
		return nil, fmt.Errorf("%w: deployment id is required", ErrInvalidInput)
	}
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidInput)
	}
	if !json.Valid(ctor.Configuration) {
		return nil, fmt.Errorf("%w: configuration must be valid JSON", ErrInvalidInput)
	}

	now := d.now()
	dep := &Deployment{
		ID:            deploymentID,
		Name:          ctor.Name,
		ArtifactName:  ctor.Name,
		Kind:          KindConfiguration,
		Configuration: bytes.TrimSpace(ctor.Configuration),
		Status:        DeploymentPending,
		Stats:         NewStats(),
		MaxDevices:    1,
		DeviceCount:   1,
		CreatedAt:     now,
	}
	dep.Stats[StatusPending] = 1

	devices := []DeviceDeployment{{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		Status:    StatusPending,
		CreatedAt: now,
	}}

	if err := d.store.InsertDeployment(ctx, tenantID, dep, devices); err != nil {
		return nil, err
	}

	d.publish(ctx, bus.SubjectDeploymentCreated, map[string]any{
		"tenant_id":     tenantID,
		"deployment_id": dep.ID,
		"device_id":     deviceID,
		"type":          string(KindConfiguration),
	})
	return dep, nil
}

func (d *Deployments) GetDeployment(ctx context.Context, tenantID string, id uuid.UUID) (*Deployment, error) {
	dep, err := d.store.GetDeployment(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if n, err := d.store.DeviceDeploymentCount(ctx, tenantID, dep.ID); err == nil {
		dep.DeviceCount = n
	}
	return dep, nil
}

func (d *Deployments) FindDeployments(ctx context.Context, tenantID string, q Query) ([]Deployment, int, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	return d.store.FindDeployments(ctx, tenantID, q)
}

func (d *Deployments) GetDeploymentStats(ctx context.Context, tenantID string, id uuid.UUID) (Stats, error) {
	dep, err := d.store.GetDeployment(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return dep.Stats, nil
}

func (d *Deployments) ListDeviceDeployments(ctx context.Context, tenantID string, id uuid.UUID, skip, limit int) ([]DeviceDeployment, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if _, err := d.store.GetDeployment(ctx, tenantID, id); err != nil {
		return nil, 0, err
	}
	return d.store.ListDeviceDeployments(ctx, tenantID, id, skip, limit)
}

func (d *Deployments) DeviceDeploymentHistory(ctx context.Context, tenantID, deviceID string) ([]DeviceDeployment, error) {
	return d.store.DeviceDeploymentsForDevice(ctx, tenantID, deviceID)
}

// AbortDeployment forces every unfinished device in the deployment to the
// aborted status. Aborting an already finished deployment is a conflict.
func (d *Deployments) AbortDeployment(ctx context.Context, tenantID string, id uuid.UUID) error {
	dep, err := d.store.GetDeployment(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if dep.Status == DeploymentFinished {
		return ErrAlreadyFinished
	}

	if _, err := d.store.AbortDeviceDeployments(ctx, tenantID, id); err != nil {
		return err
	}

	d.publish(ctx, bus.SubjectDeploymentFinished, map[string]any{
		"tenant_id":     tenantID,
		"deployment_id": id,
		"reason":        "aborted",
	})
	return nil
}

// DecommissionDevice terminates the device's participation in every
// unfinished deployment. Removing an unknown device is a no-op.
func (d *Deployments) DecommissionDevice(ctx context.Context, tenantID, deviceID string) error {
	n, err := d.store.DecommissionDeviceDeployments(ctx, tenantID, deviceID)
	if err != nil {
		return err
	}
	if n > 0 {
		d.publish(ctx, bus.SubjectDeviceStatus, map[string]any{
			"tenant_id": tenantID,
			"device_id": deviceID,
			"status":    string(StatusDecommissioned),
		})
	}
	return nil
}

// SaveDeviceDeploymentLog stores the device's log for a deployment,
// replacing any previous upload. Logs are compressed at rest.
func (d *Deployments) SaveDeviceDeploymentLog(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, dl *DeploymentLog) error {
	if err := dl.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	raw, err := json.Marshal(dl.Messages)
	if err != nil {
		return err
	}
	compressed, err := compress(raw)
	if err != nil {
		return err
	}
	return d.store.SaveDeviceDeploymentLog(ctx, tenantID, deploymentID, deviceID, compressed)
}

func (d *Deployments) GetDeviceDeploymentLog(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string) (*DeploymentLog, error) {
	compressed, err := d.store.GetDeviceDeploymentLog(ctx, tenantID, deploymentID, deviceID)
	if err != nil {
		return nil, err
	}
	raw, err := decompress(compressed)
	if err != nil {
		return nil, err
	}

	dl := &DeploymentLog{DeviceID: deviceID, DeploymentID: deploymentID}
	if err := json.Unmarshal(raw, &dl.Messages); err != nil {
		return nil, err
	}
	return dl, nil
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
