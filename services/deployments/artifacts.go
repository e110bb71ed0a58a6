package deployments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mendersoftware/deployments/pkg/bus"
	"github.com/mendersoftware/deployments/pkg/introspect"
)

// ArtifactUpload is a synchronous artifact upload: the request body carries
// the artifact binary and the declared size bounds the object write.
type ArtifactUpload struct {
	Description string
	Size        int64
	Data        io.Reader
}

func (u *ArtifactUpload) Validate() error {
	if u == nil || u.Data == nil {
		return errors.New("artifact payload is required")
	}
	if u.Size <= 0 {
		return errors.New("artifact size is required")
	}
	return nil
}

// ArtifactGenerate asks for an artifact to be built from raw data. The raw
// payload is stored and a generation job is announced on the bus; the
// catalog entry exists immediately so the artifact id is stable.
type ArtifactGenerate struct {
	Name        string
	Description string
	DeviceTypes []string
	Type        string
	Args        string
	Size        int64
	Data        io.Reader
}

func (g *ArtifactGenerate) Validate() error {
	if g == nil || g.Data == nil {
		return errors.New("raw payload is required")
	}
	if strings.TrimSpace(g.Name) == "" {
		return errors.New("name is required")
	}
	if len(g.DeviceTypes) == 0 {
		return errors.New("at least one compatible device type is required")
	}
	if strings.TrimSpace(g.Type) == "" {
		return errors.New("update type is required")
	}
	if g.Size <= 0 {
		return errors.New("payload size is required")
	}
	return nil
}

// UploadArtifact stores the uploaded binary, runs the introspection tool
// against it and registers the extracted metadata. The artifact is visible
// in the catalog when the call returns; a payload the tool rejects never
// leaves a trace.
func (d *Deployments) UploadArtifact(ctx context.Context, tenantID string, up *ArtifactUpload) (*Artifact, error) {
	if err := up.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if d.inspector == nil {
		return nil, errors.New("artifact introspection is not configured")
	}

	objects, err := d.objects.ForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/artifacts/%s", tenantID, uuid.New())
	if err := objects.PutObject(ctx, key, up.Data, up.Size); err != nil {
		return nil, err
	}

	objectURL, err := objects.PresignGet(ctx, key, d.cfg.PresignExpire)
	if err != nil {
		d.discardObject(ctx, objects, key)
		return nil, err
	}

	meta, err := d.inspector.Inspect(ctx, objectURL)
	if err != nil {
		d.discardObject(ctx, objects, key)
		if errors.Is(err, introspect.ErrInvalidArtifact) {
			return nil, fmt.Errorf("%w: payload is not a valid artifact", ErrInvalidArtifact)
		}
		return nil, err
	}

	artifact := ArtifactFromMeta(meta, key, up.Description)
	if err := d.RegisterArtifact(ctx, tenantID, artifact); err != nil {
		d.discardObject(ctx, objects, key)
		return nil, err
	}
	return artifact, nil
}

// GenerateArtifact stores the raw payload and records a catalog entry for
// the artifact the generation job will produce, then announces the job.
func (d *Deployments) GenerateArtifact(ctx context.Context, tenantID string, gen *ArtifactGenerate) (*Artifact, error) {
	if err := gen.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	objects, err := d.objects.ForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	key := fmt.Sprintf("%s/generate/%s", tenantID, id)
	if err := objects.PutObject(ctx, key, gen.Data, gen.Size); err != nil {
		return nil, err
	}

	artifact := &Artifact{
		ID:          id,
		Name:        gen.Name,
		Description: gen.Description,
		Size:        gen.Size,
		DeviceTypes: gen.DeviceTypes,
		Updates:     []Update{{Type: gen.Type}},
		ObjectKey:   key,
		CreatedAt:   d.now(),
	}
	if err := d.store.InsertArtifact(ctx, tenantID, artifact); err != nil {
		d.discardObject(ctx, objects, key)
		return nil, err
	}

	d.publish(ctx, bus.SubjectArtifactGenerate, map[string]any{
		"tenant_id":   tenantID,
		"artifact_id": id,
		"object_key":  key,
		"type":        gen.Type,
		"args":        gen.Args,
	})
	return artifact, nil
}

// discardObject drops an object a failed call left behind. The failure is
// already on its way to the caller; a stuck object is an operational
// concern, not another error.
func (d *Deployments) discardObject(ctx context.Context, objects ObjectStore, key string) {
	if err := objects.DeleteObject(ctx, key); err != nil {
		d.logf("discard object %s: %v", key, err)
	}
}

// ArtifactFromMeta builds the catalog record for metadata the introspection
// tool extracted from the object at objectKey.
func ArtifactFromMeta(meta *introspect.Meta, objectKey, description string) *Artifact {
	a := &Artifact{
		ID:          uuid.New(),
		Name:        meta.Name,
		Description: description,
		Size:        meta.Size,
		Checksum:    meta.Checksum,
		DeviceTypes: meta.DeviceTypes,
		ObjectKey:   objectKey,
		CreatedAt:   time.Now().UTC(),
	}
	for _, u := range meta.Updates {
		update := Update{
			Type:           u.Type,
			Provides:       u.Provides,
			ClearsProvides: u.ClearsProvides,
		}
		for _, f := range u.Files {
			update.Files = append(update.Files, UpdateFile{
				Name:     f.Name,
				Size:     f.Size,
				Checksum: f.Checksum,
			})
		}
		a.Updates = append(a.Updates, update)
	}
	return a
}
