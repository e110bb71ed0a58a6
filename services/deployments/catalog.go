package deployments

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mendersoftware/deployments/pkg/bus"
	"github.com/mendersoftware/deployments/pkg/link"
)

func (d *Deployments) GetArtifact(ctx context.Context, tenantID string, id uuid.UUID) (*Artifact, error) {
	return d.store.GetArtifact(ctx, tenantID, id)
}

func (d *Deployments) ListArtifacts(ctx context.Context, tenantID string, skip, limit int) ([]Artifact, error) {
	if limit <= 0 {
		limit = 20
	}
	return d.store.ListArtifacts(ctx, tenantID, skip, limit)
}

// UpdateArtifactDescription is the only mutation artifacts admit; everything
// else about them is immutable once ingested.
func (d *Deployments) UpdateArtifactDescription(ctx context.Context, tenantID string, id uuid.UUID, description string) error {
	return d.store.UpdateArtifactDescription(ctx, tenantID, id, description)
}

// DeleteArtifact removes the artifact and its stored object unless an
// unfinished deployment still references its name.
func (d *Deployments) DeleteArtifact(ctx context.Context, tenantID string, id uuid.UUID) error {
	artifact, err := d.store.GetArtifact(ctx, tenantID, id)
	if err != nil {
		return err
	}

	referenced, err := d.store.ArtifactReferenced(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if referenced {
		return ErrArtifactInUse
	}

	if err := d.store.DeleteArtifact(ctx, tenantID, id); err != nil {
		return err
	}

	objects, err := d.objects.ForTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := objects.DeleteObject(ctx, artifact.ObjectKey); err != nil {
		// The row is gone; losing the object is an operational concern,
		// not a caller error.
		d.logf("delete artifact object %s: %v", artifact.ObjectKey, err)
	}
	return nil
}

// ArtifactDownloadLink signs a management-side download link for an artifact.
// Management links carry no device identity.
func (d *Deployments) ArtifactDownloadLink(ctx context.Context, tenantID string, id uuid.UUID) (*Link, error) {
	artifact, err := d.store.GetArtifact(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	uri, expire, err := d.signer.Sign(d.cfg.DownloadBase, link.Claims{
		TenantID:   tenantID,
		ArtifactID: artifact.ID.String(),
	}, d.cfg.LinkTTL)
	if err != nil {
		return nil, err
	}
	return &Link{URI: uri, Expire: expire}, nil
}

// ListReleases groups artifacts by name, newest first, folding in release
// notes and the distinct update types the artifacts carry.
func (d *Deployments) ListReleases(ctx context.Context, tenantID, nameFilter string) ([]Release, error) {
	// Releases are a view; pull the full artifact set and group in memory.
	artifacts, err := d.store.ListArtifacts(ctx, tenantID, 0, 10000)
	if err != nil {
		return nil, err
	}

	byName := map[string][]Artifact{}
	for _, a := range artifacts {
		if nameFilter != "" && a.Name != nameFilter {
			continue
		}
		byName[a.Name] = append(byName[a.Name], a)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}

	notes, err := d.store.GetReleaseNotes(ctx, tenantID, names)
	if err != nil {
		return nil, err
	}

	releases := make([]Release, 0, len(byName))
	for name, group := range byName {
		r := Release{
			Name:      name,
			Notes:     notes[name],
			Artifacts: group,
		}
		types := map[string]struct{}{}
		for _, a := range group {
			if a.CreatedAt.After(r.Modified) {
				r.Modified = a.CreatedAt
			}
			for _, u := range a.Updates {
				if u.Type != "" {
					types[u.Type] = struct{}{}
				}
			}
		}
		for t := range types {
			r.UpdateTypes = append(r.UpdateTypes, t)
		}
		sort.Strings(r.UpdateTypes)
		releases = append(releases, r)
	}

	sort.Slice(releases, func(i, j int) bool {
		return releases[i].Name < releases[j].Name
	})
	return releases, nil
}

func (d *Deployments) PatchReleaseNotes(ctx context.Context, tenantID, name, notes string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: release name is required", ErrInvalidInput)
	}
	if len(notes) > ReleaseNotesMaxLength {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalidInput, ReleaseNotesMaxLength)
	}

	// The release must exist as at least one artifact.
	existing, err := d.store.ArtifactsByName(ctx, tenantID, name)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return ErrNotFound
	}
	return d.store.SetReleaseNotes(ctx, tenantID, name, notes)
}

// resolveArtifact picks the artifact a device should install for a release
// name, or nil when none is compatible with the device type.
func (d *Deployments) resolveArtifact(ctx context.Context, tenantID, name, deviceType string) (*Artifact, error) {
	candidates, err := d.store.ArtifactsByName(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}
	// Newest compatible artifact wins.
	for i := len(candidates) - 1; i >= 0; i-- {
		if candidates[i].Compatible(deviceType) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// ResolveDownload turns verified link claims into a short-lived object
// storage URL. Both artifact and (when scoped) the device's participation
// must still exist; aborted work stops serving bytes even on valid links.
func (d *Deployments) ResolveDownload(ctx context.Context, claims link.Claims) (string, error) {
	artifactID, err := uuid.Parse(claims.ArtifactID)
	if err != nil {
		return "", fmt.Errorf("%w: bad artifact id", ErrInvalidInput)
	}

	artifact, err := d.store.GetArtifact(ctx, claims.TenantID, artifactID)
	if err != nil {
		return "", err
	}

	if claims.DeploymentID != "" {
		deploymentID, err := uuid.Parse(claims.DeploymentID)
		if err != nil {
			return "", fmt.Errorf("%w: bad deployment id", ErrInvalidInput)
		}
		dd, err := d.store.GetDeviceDeployment(ctx, claims.TenantID, deploymentID, claims.DeviceID)
		if err != nil {
			return "", err
		}
		if dd.Status.Terminal() {
			return "", ErrConflict
		}
	}

	objects, err := d.objects.ForTenant(ctx, claims.TenantID)
	if err != nil {
		return "", err
	}
	return objects.PresignGet(ctx, artifact.ObjectKey, d.cfg.PresignExpire)
}

// RegisterArtifact stores freshly ingested artifact metadata and announces
// it. Used by the ingest pipeline, not exposed over HTTP.
func (d *Deployments) RegisterArtifact(ctx context.Context, tenantID string, a *Artifact) error {
	if err := d.store.InsertArtifact(ctx, tenantID, a); err != nil {
		return err
	}
	d.publish(ctx, bus.SubjectArtifactIngested, map[string]any{
		"tenant_id":   tenantID,
		"artifact_id": a.ID,
		"name":        a.Name,
	})
	return nil
}
