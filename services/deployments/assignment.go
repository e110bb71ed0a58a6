package deployments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mendersoftware/deployments/pkg/link"
)

// NextDeployment decides what a polling device should do next. A nil
// assignment with a nil error means no update is available.
//
// The decision is evaluated fresh on every poll: the oldest deployment in
// which the device is still active wins, pending devices get resolved
// against the catalog (possibly short-circuiting into a terminal status),
// and in-flight devices get the same assignment re-signed so retries are
// idempotent.
func (d *Deployments) NextDeployment(ctx context.Context, tenantID, deviceID string, installed *InstalledArtifact) (*Assignment, error) {
	if installed == nil {
		return nil, fmt.Errorf("%w: installed artifact report is required", ErrInvalidInput)
	}
	if err := installed.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	dd, dep, err := d.store.OldestActiveDeviceDeployment(ctx, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	if dd == nil {
		return nil, nil
	}

	// Devices must poll with a consistent type for an outstanding
	// deployment. An empty recorded type means the directory had no answer
	// at creation time; the first poll fills it in.
	switch dd.DeviceType {
	case "":
		if err := d.store.SetDeviceDeploymentType(ctx, tenantID, dd.DeploymentID, deviceID, installed.DeviceType); err != nil {
			return nil, err
		}
		dd.DeviceType = installed.DeviceType
	case installed.DeviceType:
	default:
		return nil, fmt.Errorf("%w: device type changed mid-deployment", ErrConflict)
	}

	if dd.Status.InFlight() {
		return d.reissueAssignment(ctx, tenantID, dep, dd)
	}

	// Still pending: resolve what, if anything, this device should install.
	if dep.Kind == KindConfiguration {
		return d.signConfiguration(tenantID, dep, dd)
	}

	artifact, err := d.resolveArtifact(ctx, tenantID, dep.ArtifactName, dd.DeviceType)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		if err := d.finishEarly(ctx, tenantID, dep.ID, deviceID, StatusNoArtifact); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if installed.ArtifactName == artifact.Name {
		if err := d.finishEarly(ctx, tenantID, dep.ID, deviceID, StatusAlreadyInstalled); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// Pin the resolved artifact so retries serve the same bytes. The
	// status itself changes only on explicit device reports.
	if _, err := d.store.SetDeviceDeploymentStatus(ctx, tenantID, dep.ID, deviceID, StatusPending, StatusPending, nil, &artifact.ID, nil); err != nil {
		// A concurrent poll pinned it first; the assignment is the same.
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
	}

	return d.signAssignment(tenantID, dep, dd, artifact)
}

// finishEarly moves a pending device straight into a side-entry terminal
// status (no compatible artifact, or target already installed).
func (d *Deployments) finishEarly(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, to DeviceStatus) error {
	now := d.now()
	updated, err := d.store.SetDeviceDeploymentStatus(ctx, tenantID, deploymentID, deviceID, StatusPending, to, nil, nil, &now)
	if err != nil {
		// A concurrent poll already recorded the same outcome.
		if errors.Is(err, ErrConflict) {
			return nil
		}
		return err
	}
	d.notifyStatus(ctx, tenantID, deploymentID, deviceID, to, updated)
	return nil
}

// reissueAssignment re-signs the instructions for a device that already
// started, pointing at the artifact pinned when the work was first handed
// out.
func (d *Deployments) reissueAssignment(ctx context.Context, tenantID string, dep *Deployment, dd *DeviceDeployment) (*Assignment, error) {
	if dep.Kind == KindConfiguration {
		return d.signConfiguration(tenantID, dep, dd)
	}

	var artifact *Artifact
	if dd.ArtifactID != nil {
		a, err := d.store.GetArtifact(ctx, tenantID, *dd.ArtifactID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		artifact = a
	}
	if artifact == nil {
		a, err := d.resolveArtifact(ctx, tenantID, dep.ArtifactName, dd.DeviceType)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, fmt.Errorf("%w: assigned artifact no longer resolvable", ErrConflict)
		}
		artifact = a
	}
	return d.signAssignment(tenantID, dep, dd, artifact)
}

func (d *Deployments) signAssignment(tenantID string, dep *Deployment, dd *DeviceDeployment, artifact *Artifact) (*Assignment, error) {
	uri, expire, err := d.signer.Sign(d.cfg.DownloadBase, link.Claims{
		TenantID:     tenantID,
		DeploymentID: dep.ID.String(),
		DeviceID:     dd.DeviceID,
		DeviceType:   dd.DeviceType,
		ArtifactID:   artifact.ID.String(),
	}, d.cfg.LinkTTL)
	if err != nil {
		return nil, err
	}

	return &Assignment{
		ID:   dep.ID,
		Kind: dep.Kind,
		Artifact: AssignmentArtifact{
			Name:        artifact.Name,
			Source:      Link{URI: uri, Expire: expire},
			DeviceTypes: artifact.DeviceTypes,
		},
	}, nil
}

// signConfiguration signs a link with no artifact claim; the download
// endpoint serves the deployment's configuration payload directly.
func (d *Deployments) signConfiguration(tenantID string, dep *Deployment, dd *DeviceDeployment) (*Assignment, error) {
	uri, expire, err := d.signer.Sign(d.cfg.DownloadBase, link.Claims{
		TenantID:     tenantID,
		DeploymentID: dep.ID.String(),
		DeviceID:     dd.DeviceID,
		DeviceType:   dd.DeviceType,
	}, d.cfg.LinkTTL)
	if err != nil {
		return nil, err
	}

	return &Assignment{
		ID:   dep.ID,
		Kind: dep.Kind,
		Artifact: AssignmentArtifact{
			Name:        dep.ArtifactName,
			Source:      Link{URI: uri, Expire: expire},
			DeviceTypes: []string{dd.DeviceType},
		},
	}, nil
}

// ResolveConfiguration serves a configuration deployment's payload for
// verified link claims.
func (d *Deployments) ResolveConfiguration(ctx context.Context, claims link.Claims) ([]byte, error) {
	deploymentID, err := uuid.Parse(claims.DeploymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad deployment id", ErrInvalidInput)
	}

	dep, err := d.store.GetDeployment(ctx, claims.TenantID, deploymentID)
	if err != nil {
		return nil, err
	}
	if dep.Kind != KindConfiguration {
		return nil, ErrNotFound
	}
	dd, err := d.store.GetDeviceDeployment(ctx, claims.TenantID, deploymentID, claims.DeviceID)
	if err != nil {
		return nil, err
	}
	if dd.Status.Terminal() {
		return nil, ErrConflict
	}
	return dep.Configuration, nil
}
