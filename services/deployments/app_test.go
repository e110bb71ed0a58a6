package deployments

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mendersoftware/deployments/pkg/introspect"
	"github.com/mendersoftware/deployments/pkg/link"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string]bool
	deleted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string]bool{}}
}

func (f *fakeObjects) ForTenant(context.Context, string) (ObjectStore, error) {
	return f, nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.example.com/get/" + key, nil
}

func (f *fakeObjects) PresignPut(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.example.com/put/" + key, nil
}

func (f *fakeObjects) PutObject(_ context.Context, key string, r io.Reader, _ int64) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = true
	return nil
}

func (f *fakeObjects) ObjectExists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key], nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjects) put(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = true
}

type fakeBus struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeBus) Publish(_ context.Context, subject string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, subject)
	return nil
}

func (f *fakeBus) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.events {
		if s == subject {
			n++
		}
	}
	return n
}

type fakeDirectory struct {
	types map[string]string
}

func (f *fakeDirectory) DeviceType(_ context.Context, _, deviceID string) (string, error) {
	if dt, ok := f.types[deviceID]; ok {
		return dt, nil
	}
	return "", fmt.Errorf("device %s not found", deviceID)
}

type fakeInspector struct {
	meta *introspect.Meta
	err  error
}

func (f *fakeInspector) Inspect(context.Context, string) (*introspect.Meta, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}

type testEnv struct {
	app       *Deployments
	store     *memStore
	objects   *fakeObjects
	bus       *fakeBus
	dir       *fakeDirectory
	inspector *fakeInspector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	signer, err := link.NewSigner([]byte("test-signing-secret"))
	require.NoError(t, err)

	store := newMemStore()
	objects := newFakeObjects()
	bus := &fakeBus{}
	dir := &fakeDirectory{types: map[string]string{}}
	inspector := &fakeInspector{meta: &introspect.Meta{
		Name:        "release-v1",
		Size:        1024,
		Checksum:    "c0ffee",
		DeviceTypes: []string{"raspberrypi4"},
		Updates:     []introspect.Update{{Type: "rootfs-image"}},
	}}

	app := NewDeployments(store, objects, bus, dir, inspector, signer, nil, Config{
		DownloadBase: "https://deployments.example.com/api/devices/v1/deployments/download",
	}, nil)

	return &testEnv{app: app, store: store, objects: objects, bus: bus, dir: dir, inspector: inspector}
}

// seedArtifact inserts an artifact directly into the store.
func (e *testEnv) seedArtifact(t *testing.T, tenantID, name string, deviceTypes ...string) *Artifact {
	t.Helper()
	a := &Artifact{
		ID:          uuid.New(),
		Name:        name,
		Size:        1024,
		Checksum:    "c0ffee",
		DeviceTypes: deviceTypes,
		Updates:     []Update{{Type: "rootfs-image"}},
		ObjectKey:   "default/artifacts/" + name,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, e.store.InsertArtifact(context.Background(), tenantID, a))
	e.objects.put(a.ObjectKey)
	return a
}

func (e *testEnv) createDeployment(t *testing.T, tenantID, artifactName string, devices ...string) *Deployment {
	t.Helper()
	dep, err := e.app.CreateDeployment(context.Background(), tenantID, &DeploymentConstructor{
		Name:         artifactName + "-rollout",
		ArtifactName: artifactName,
		Devices:      devices,
	})
	require.NoError(t, err)
	return dep
}
