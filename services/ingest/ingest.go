package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mendersoftware/deployments/pkg/bus"
	"github.com/mendersoftware/deployments/pkg/introspect"
	"github.com/mendersoftware/deployments/services/deployments"
)

// Inspector extracts artifact metadata from an uploaded object. The real
// implementation is the external introspection tool behind pkg/introspect.
type Inspector interface {
	Inspect(ctx context.Context, objectURL string) (*introspect.Meta, error)
}

// Catalog is the slice of the deployments engine ingestion writes to.
type Catalog interface {
	RegisterArtifact(ctx context.Context, tenantID string, a *deployments.Artifact) error
}

// Subscriber hands messages to a handler; pkg/bus provides the NATS one.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// uploadCompleted mirrors the payload uploads.CompleteUpload publishes.
type uploadCompleted struct {
	TenantID  string    `json:"tenant_id"`
	IntentID  uuid.UUID `json:"intent_id"`
	ObjectKey string    `json:"object_key"`
}

// Consumer turns completed direct uploads into catalog artifacts. It runs
// the introspection tool against each uploaded object and records the
// extracted metadata; the object itself stays where the client wrote it.
type Consumer struct {
	store     deployments.DataStore
	objects   deployments.ObjectStores
	catalog   Catalog
	inspector Inspector
	logger    *log.Logger

	// inspectTTL bounds the presigned URL the introspection tool reads
	// the object through.
	inspectTTL time.Duration
}

func NewConsumer(store deployments.DataStore, objects deployments.ObjectStores, catalog Catalog, inspector Inspector, logger *log.Logger) (*Consumer, error) {
	if store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if objects == nil {
		return nil, errors.New("ingest: object stores are required")
	}
	if catalog == nil {
		return nil, errors.New("ingest: catalog is required")
	}
	if inspector == nil {
		return nil, errors.New("ingest: inspector is required")
	}
	return &Consumer{
		store:      store,
		objects:    objects,
		catalog:    catalog,
		inspector:  inspector,
		logger:     logger,
		inspectTTL: 15 * time.Minute,
	}, nil
}

// Run subscribes to upload completions and blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, sub Subscriber) error {
	closer, err := sub.Subscribe(ctx, bus.SubjectUploadCompleted, "deployments-ingest", c.Handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectUploadCompleted, err)
	}
	defer closer.Close()

	<-ctx.Done()
	return nil
}

// Handle processes one upload-completed event. A nil return acknowledges
// the message; an error asks the bus to redeliver. Permanently bad inputs
// (undecodable events, artifacts the tool rejects) are acknowledged so they
// do not poison the consumer.
func (c *Consumer) Handle(ctx context.Context, data []byte) error {
	var ev uploadCompleted
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logf("discarding undecodable upload event: %v", err)
		return nil
	}
	if ev.TenantID == "" || ev.IntentID == uuid.Nil {
		c.logf("discarding upload event with missing identifiers")
		return nil
	}

	intent, err := c.store.GetUploadIntent(ctx, ev.TenantID, ev.IntentID)
	if err != nil {
		if errors.Is(err, deployments.ErrNotFound) {
			c.logf("discarding event for unknown intent %s", ev.IntentID)
			return nil
		}
		return err
	}
	switch intent.Status {
	case deployments.UploadProcessing:
	case deployments.UploadDone:
		// Redelivery after a processed message; nothing left to do.
		return nil
	default:
		c.logf("intent %s not yet completed, leaving for redelivery", ev.IntentID)
		return fmt.Errorf("intent %s in status %d", ev.IntentID, intent.Status)
	}

	objects, err := c.objects.ForTenant(ctx, ev.TenantID)
	if err != nil {
		return err
	}

	objectURL, err := objects.PresignGet(ctx, intent.ObjectKey, c.inspectTTL)
	if err != nil {
		return err
	}

	meta, err := c.inspector.Inspect(ctx, objectURL)
	if err != nil {
		if errors.Is(err, introspect.ErrInvalidArtifact) {
			c.logf("intent %s rejected by introspection: %v", ev.IntentID, err)
			return nil
		}
		return err
	}

	description, _ := intent.Meta["description"].(string)
	artifact := deployments.ArtifactFromMeta(meta, intent.ObjectKey, description)
	if err := c.catalog.RegisterArtifact(ctx, ev.TenantID, artifact); err != nil {
		if errors.Is(err, deployments.ErrConflict) {
			c.logf("intent %s duplicates an existing artifact, dropping", ev.IntentID)
			return nil
		}
		return err
	}

	if err := c.store.SetUploadIntentStatus(ctx, ev.TenantID, ev.IntentID, deployments.UploadProcessing, deployments.UploadDone); err != nil {
		if errors.Is(err, deployments.ErrConflict) {
			return nil
		}
		return err
	}

	c.logf("ingested artifact %q (%s) for tenant %s", artifact.Name, artifact.ID, ev.TenantID)
	return nil
}

func (c *Consumer) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
