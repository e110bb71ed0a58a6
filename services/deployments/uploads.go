package deployments

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mendersoftware/deployments/pkg/bus"
)

// RequestUpload opens a direct upload: a presigned PUT the client writes the
// artifact to, plus an intent record the completion call refers back to.
func (d *Deployments) RequestUpload(ctx context.Context, tenantID string, meta map[string]any) (*UploadDraft, error) {
	objects, err := d.objects.ForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	key := fmt.Sprintf("%s/uploads/%s", tenantID, id)

	uri, err := objects.PresignPut(ctx, key, d.cfg.UploadTTL)
	if err != nil {
		return nil, err
	}

	intent := &UploadIntent{
		ID:        id,
		Status:    UploadPending,
		ObjectKey: key,
		Meta:      meta,
		CreatedAt: d.now(),
	}
	if err := d.store.InsertUploadIntent(ctx, tenantID, intent); err != nil {
		return nil, err
	}

	return &UploadDraft{
		ID:     id,
		URI:    uri,
		Expire: d.now().Add(d.cfg.UploadTTL),
	}, nil
}

// CompleteUpload acknowledges that the client finished writing the object
// and hands the intent to the ingest pipeline. The artifact itself appears
// asynchronously; callers poll the intent or the artifact listing.
func (d *Deployments) CompleteUpload(ctx context.Context, tenantID string, id uuid.UUID) error {
	intent, err := d.store.GetUploadIntent(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if intent.Status != UploadPending {
		return ErrConflict
	}

	objects, err := d.objects.ForTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	exists, err := objects.ObjectExists(ctx, intent.ObjectKey)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: no object was uploaded", ErrUnprocessable)
	}

	if err := d.store.SetUploadIntentStatus(ctx, tenantID, id, UploadPending, UploadProcessing); err != nil {
		return err
	}

	d.publish(ctx, bus.SubjectUploadCompleted, map[string]any{
		"tenant_id":  tenantID,
		"intent_id":  id,
		"object_key": intent.ObjectKey,
	})
	return nil
}

func (d *Deployments) GetUploadIntent(ctx context.Context, tenantID string, id uuid.UUID) (*UploadIntent, error) {
	return d.store.GetUploadIntent(ctx, tenantID, id)
}
