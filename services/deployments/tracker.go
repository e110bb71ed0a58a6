package deployments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mendersoftware/deployments/pkg/bus"
)

// ReportDeviceStatus applies a device-reported status transition. The
// transition and its statistics delta commit atomically; a retried report
// losing the race surfaces as a conflict, except that repeating the current
// terminal status is accepted as a no-op.
func (d *Deployments) ReportDeviceStatus(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, report *StatusReport) error {
	if report == nil {
		return fmt.Errorf("%w: status report is required", ErrInvalidInput)
	}
	if err := report.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	dd, err := d.store.GetDeviceDeployment(ctx, tenantID, deploymentID, deviceID)
	if err != nil {
		return err
	}

	if dd.Status.Terminal() {
		// A duplicate of the terminal status already recorded is a benign
		// retry; anything else is a late report and gets rejected.
		if report.Status == dd.Status {
			return nil
		}
		return ErrAlreadyFinished
	}

	if !CanTransition(dd.Status, report.Status) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrConflict, dd.Status, report.Status)
	}

	var finishedAt *time.Time
	if report.Status.Terminal() {
		now := d.now()
		finishedAt = &now
	}

	subState := report.SubState
	updated, err := d.store.SetDeviceDeploymentStatus(ctx, tenantID, deploymentID, deviceID, dd.Status, report.Status, &subState, nil, finishedAt)
	if err != nil {
		return err
	}

	d.notifyStatus(ctx, tenantID, deploymentID, deviceID, report.Status, updated)
	return nil
}

// notifyStatus publishes the device transition and, when it was the one
// that completed the deployment, the finish event.
func (d *Deployments) notifyStatus(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, status DeviceStatus, dep *Deployment) {
	d.publish(ctx, bus.SubjectDeviceStatus, map[string]any{
		"tenant_id":     tenantID,
		"deployment_id": deploymentID,
		"device_id":     deviceID,
		"status":        string(status),
	})

	if dep != nil && dep.Status == DeploymentFinished {
		d.publish(ctx, bus.SubjectDeploymentFinished, map[string]any{
			"tenant_id":     tenantID,
			"deployment_id": deploymentID,
		})
	}
}
