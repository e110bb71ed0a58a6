package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendersoftware/deployments/pkg/introspect"
	"github.com/mendersoftware/deployments/services/deployments"
)

type fakeStore struct {
	deployments.DataStore

	intents map[uuid.UUID]*deployments.UploadIntent
}

func (f *fakeStore) GetUploadIntent(ctx context.Context, tenantID string, id uuid.UUID) (*deployments.UploadIntent, error) {
	intent, ok := f.intents[id]
	if !ok {
		return nil, deployments.ErrNotFound
	}
	cp := *intent
	return &cp, nil
}

func (f *fakeStore) SetUploadIntentStatus(ctx context.Context, tenantID string, id uuid.UUID, from, to deployments.UploadStatus) error {
	intent, ok := f.intents[id]
	if !ok {
		return deployments.ErrNotFound
	}
	if intent.Status != from {
		return deployments.ErrConflict
	}
	intent.Status = to
	return nil
}

type fakeObjects struct{}

func (fakeObjects) ForTenant(ctx context.Context, tenantID string) (deployments.ObjectStore, error) {
	return fakeObjects{}, nil
}

func (fakeObjects) PresignGet(ctx context.Context, key string, expire time.Duration) (string, error) {
	return "https://storage.example.com/get/" + key, nil
}

func (fakeObjects) PresignPut(ctx context.Context, key string, expire time.Duration) (string, error) {
	return "https://storage.example.com/put/" + key, nil
}

func (fakeObjects) PutObject(ctx context.Context, key string, r io.Reader, size int64) error {
	return nil
}

func (fakeObjects) ObjectExists(ctx context.Context, key string) (bool, error) { return true, nil }
func (fakeObjects) DeleteObject(ctx context.Context, key string) error         { return nil }

type fakeCatalog struct {
	registered []*deployments.Artifact
	err        error
}

func (f *fakeCatalog) RegisterArtifact(ctx context.Context, tenantID string, a *deployments.Artifact) error {
	if f.err != nil {
		return f.err
	}
	f.registered = append(f.registered, a)
	return nil
}

type fakeInspector struct {
	meta      *introspect.Meta
	err       error
	inspected []string
}

func (f *fakeInspector) Inspect(ctx context.Context, objectURL string) (*introspect.Meta, error) {
	f.inspected = append(f.inspected, objectURL)
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}

func validMeta() *introspect.Meta {
	return &introspect.Meta{
		Name:        "release-v7",
		Size:        4096,
		Checksum:    "6e340b9cffb37a989ca544e6bb780a2c78901d3fb33738768511a30617afa01d",
		DeviceTypes: []string{"raspberrypi4", "raspberrypi5"},
		Updates: []introspect.Update{{
			Type:     "rootfs-image",
			Files:    []introspect.File{{Name: "rootfs.ext4", Size: 4096, Checksum: "abc"}},
			Provides: map[string]string{"rootfs-image.version": "v7"},
		}},
	}
}

func newTestConsumer(t *testing.T, store *fakeStore, catalog *fakeCatalog, inspector *fakeInspector) *Consumer {
	t.Helper()
	c, err := NewConsumer(store, fakeObjects{}, catalog, inspector, nil)
	require.NoError(t, err)
	return c
}

func eventFor(t *testing.T, tenant string, intentID uuid.UUID, key string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"tenant_id":  tenant,
		"intent_id":  intentID,
		"object_key": key,
	})
	require.NoError(t, err)
	return data
}

func processingIntent(key string) (*fakeStore, uuid.UUID) {
	id := uuid.New()
	return &fakeStore{intents: map[uuid.UUID]*deployments.UploadIntent{
		id: {
			ID:        id,
			Status:    deployments.UploadProcessing,
			ObjectKey: key,
			Meta:      map[string]any{"description": "rollout build"},
			CreatedAt: time.Now().UTC(),
		},
	}}, id
}

func TestIngestHappyPath(t *testing.T) {
	store, intentID := processingIntent("acme/uploads/" + uuid.NewString())
	catalog := &fakeCatalog{}
	inspector := &fakeInspector{meta: validMeta()}
	c := newTestConsumer(t, store, catalog, inspector)

	err := c.Handle(context.Background(), eventFor(t, "acme", intentID, store.intents[intentID].ObjectKey))
	require.NoError(t, err)

	require.Len(t, catalog.registered, 1)
	artifact := catalog.registered[0]
	assert.Equal(t, "release-v7", artifact.Name)
	assert.Equal(t, "rollout build", artifact.Description)
	assert.Equal(t, int64(4096), artifact.Size)
	assert.Equal(t, []string{"raspberrypi4", "raspberrypi5"}, artifact.DeviceTypes)
	assert.Equal(t, store.intents[intentID].ObjectKey, artifact.ObjectKey)
	require.Len(t, artifact.Updates, 1)
	assert.Equal(t, "rootfs-image", artifact.Updates[0].Type)
	assert.Equal(t, "v7", artifact.Updates[0].Provides["rootfs-image.version"])

	assert.Equal(t, deployments.UploadDone, store.intents[intentID].Status)

	// The tool reads through a presigned URL for the uploaded object.
	require.Len(t, inspector.inspected, 1)
	assert.Contains(t, inspector.inspected[0], store.intents[intentID].ObjectKey)
}

func TestIngestRejectedArtifactIsAcked(t *testing.T) {
	store, intentID := processingIntent("acme/uploads/" + uuid.NewString())
	catalog := &fakeCatalog{}
	c := newTestConsumer(t, store, catalog, &fakeInspector{err: introspect.ErrInvalidArtifact})

	err := c.Handle(context.Background(), eventFor(t, "acme", intentID, store.intents[intentID].ObjectKey))
	require.NoError(t, err)

	assert.Empty(t, catalog.registered)
	assert.Equal(t, deployments.UploadProcessing, store.intents[intentID].Status)
}

func TestIngestTransientFailureRedelivers(t *testing.T) {
	store, intentID := processingIntent("acme/uploads/" + uuid.NewString())
	catalog := &fakeCatalog{}
	c := newTestConsumer(t, store, catalog, &fakeInspector{err: errors.New("tool unavailable")})

	err := c.Handle(context.Background(), eventFor(t, "acme", intentID, store.intents[intentID].ObjectKey))
	require.Error(t, err)

	assert.Empty(t, catalog.registered)
	assert.Equal(t, deployments.UploadProcessing, store.intents[intentID].Status)
}

func TestIngestRedeliveryAfterDoneIsNoOp(t *testing.T) {
	store, intentID := processingIntent("acme/uploads/" + uuid.NewString())
	store.intents[intentID].Status = deployments.UploadDone
	catalog := &fakeCatalog{}
	inspector := &fakeInspector{meta: validMeta()}
	c := newTestConsumer(t, store, catalog, inspector)

	err := c.Handle(context.Background(), eventFor(t, "acme", intentID, store.intents[intentID].ObjectKey))
	require.NoError(t, err)

	assert.Empty(t, catalog.registered)
	assert.Empty(t, inspector.inspected)
}

func TestIngestDuplicateArtifactIsAcked(t *testing.T) {
	store, intentID := processingIntent("acme/uploads/" + uuid.NewString())
	catalog := &fakeCatalog{err: deployments.ErrConflict}
	c := newTestConsumer(t, store, catalog, &fakeInspector{meta: validMeta()})

	err := c.Handle(context.Background(), eventFor(t, "acme", intentID, store.intents[intentID].ObjectKey))
	require.NoError(t, err)

	assert.Equal(t, deployments.UploadProcessing, store.intents[intentID].Status)
}

func TestIngestBadEventsAcked(t *testing.T) {
	store := &fakeStore{intents: map[uuid.UUID]*deployments.UploadIntent{}}
	catalog := &fakeCatalog{}
	c := newTestConsumer(t, store, catalog, &fakeInspector{meta: validMeta()})

	// Undecodable payload.
	require.NoError(t, c.Handle(context.Background(), []byte("not json")))

	// Missing identifiers.
	require.NoError(t, c.Handle(context.Background(), []byte(`{"tenant_id":""}`)))

	// Unknown intent.
	require.NoError(t, c.Handle(context.Background(), eventFor(t, "acme", uuid.New(), "acme/uploads/missing")))

	assert.Empty(t, catalog.registered)
}
