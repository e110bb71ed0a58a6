package deployments

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory DataStore with the same atomicity guarantees the
// SQL implementation provides: status transitions and their stats deltas
// apply under one lock, and a lost compare-and-swap returns ErrConflict.
type memStore struct {
	mu sync.Mutex

	tenants   map[string]bool
	storage   map[string]storageEntry
	artifacts map[string]map[uuid.UUID]*Artifact
	notes     map[string]map[string]string
	deps      map[string]map[uuid.UUID]*Deployment
	devDeps   map[string][]*DeviceDeployment
	logs      map[string][]byte
	intents   map[string]map[uuid.UUID]*UploadIntent
}

type storageEntry struct {
	settings StorageSettings
	sealed   string
}

func newMemStore() *memStore {
	return &memStore{
		tenants:   map[string]bool{},
		storage:   map[string]storageEntry{},
		artifacts: map[string]map[uuid.UUID]*Artifact{},
		notes:     map[string]map[string]string{},
		deps:      map[string]map[uuid.UUID]*Deployment{},
		devDeps:   map[string][]*DeviceDeployment{},
		logs:      map[string][]byte{},
		intents:   map[string]map[uuid.UUID]*UploadIntent{},
	}
}

func logKey(tenantID string, deploymentID uuid.UUID, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, deploymentID, deviceID)
}

func (m *memStore) ProvisionTenant(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenantID] = true
	return nil
}

func (m *memStore) TenantExists(_ context.Context, tenantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenants[tenantID], nil
}

func (m *memStore) SetStorageSettings(_ context.Context, tenantID string, s *StorageSettings, sealed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.SecretKey = ""
	m.storage[tenantID] = storageEntry{settings: cp, sealed: sealed}
	return nil
}

func (m *memStore) GetStorageSettings(_ context.Context, tenantID string) (*StorageSettings, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.storage[tenantID]
	if !ok {
		return nil, "", ErrNotFound
	}
	cp := entry.settings
	return &cp, entry.sealed, nil
}

func (m *memStore) DeleteStorageSettings(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.storage, tenantID)
	return nil
}

func (m *memStore) InsertArtifact(_ context.Context, tenantID string, a *Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.artifacts[tenantID] == nil {
		m.artifacts[tenantID] = map[uuid.UUID]*Artifact{}
	}
	if _, exists := m.artifacts[tenantID][a.ID]; exists {
		return ErrConflict
	}
	cp := *a
	m.artifacts[tenantID][a.ID] = &cp
	return nil
}

func (m *memStore) GetArtifact(_ context.Context, tenantID string, id uuid.UUID) (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[tenantID][id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ArtifactsByName(_ context.Context, tenantID, name string) ([]Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Artifact
	for _, a := range m.artifacts[tenantID] {
		if a.Name == name {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ListArtifacts(_ context.Context, tenantID string, skip, limit int) ([]Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Artifact
	for _, a := range m.artifacts[tenantID] {
		all = append(all, *a)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if skip >= len(all) {
		return nil, nil
	}
	all = all[skip:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memStore) UpdateArtifactDescription(_ context.Context, tenantID string, id uuid.UUID, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[tenantID][id]
	if !ok {
		return ErrNotFound
	}
	a.Description = description
	return nil
}

func (m *memStore) DeleteArtifact(_ context.Context, tenantID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[tenantID][id]; !ok {
		return ErrNotFound
	}
	delete(m.artifacts[tenantID], id)
	return nil
}

func (m *memStore) ArtifactReferenced(_ context.Context, tenantID string, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[tenantID][id]
	if !ok {
		return false, nil
	}
	for _, dep := range m.deps[tenantID] {
		if dep.ArtifactName == a.Name && dep.Status != DeploymentFinished {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) SetReleaseNotes(_ context.Context, tenantID, name, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notes[tenantID] == nil {
		m.notes[tenantID] = map[string]string{}
	}
	m.notes[tenantID][name] = notes
	return nil
}

func (m *memStore) GetReleaseNotes(_ context.Context, tenantID string, names []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for _, name := range names {
		if notes, ok := m.notes[tenantID][name]; ok {
			out[name] = notes
		}
	}
	return out, nil
}

func (m *memStore) InsertDeployment(_ context.Context, tenantID string, d *Deployment, devices []DeviceDeployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deps[tenantID] == nil {
		m.deps[tenantID] = map[uuid.UUID]*Deployment{}
	}
	if _, exists := m.deps[tenantID][d.ID]; exists {
		return ErrConflict
	}
	cp := *d
	cp.Stats = cloneStats(d.Stats)
	m.deps[tenantID][d.ID] = &cp
	for i := range devices {
		dd := devices[i]
		dd.DeploymentID = d.ID
		m.devDeps[tenantID] = append(m.devDeps[tenantID], &dd)
	}
	return nil
}

func cloneStats(s Stats) Stats {
	out := NewStats()
	for k, v := range s {
		out[k] = v
	}
	return out
}

func (m *memStore) GetDeployment(_ context.Context, tenantID string, id uuid.UUID) (*Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getDeploymentLocked(tenantID, id)
}

func (m *memStore) getDeploymentLocked(tenantID string, id uuid.UUID) (*Deployment, error) {
	dep, ok := m.deps[tenantID][id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *dep
	cp.Stats = cloneStats(dep.Stats)
	return &cp, nil
}

func (m *memStore) FindDeployments(_ context.Context, tenantID string, q Query) ([]Deployment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Deployment
	for _, dep := range m.deps[tenantID] {
		if q.Search != "" &&
			!strings.Contains(dep.Name, q.Search) &&
			!strings.Contains(dep.ArtifactName, q.Search) {
			continue
		}
		switch q.Status {
		case StatusQueryPending:
			if dep.Status != DeploymentPending {
				continue
			}
		case StatusQueryInProgress:
			if dep.Status != DeploymentInProgress {
				continue
			}
		case StatusQueryFinished:
			if dep.Status != DeploymentFinished {
				continue
			}
		}
		if q.CreatedAfter != nil && dep.CreatedAt.Before(*q.CreatedAfter) {
			continue
		}
		if q.CreatedBefore != nil && dep.CreatedAt.After(*q.CreatedBefore) {
			continue
		}
		cp := *dep
		cp.Stats = cloneStats(dep.Stats)
		all = append(all, cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if q.Skip >= len(all) {
		return nil, total, nil
	}
	all = all[q.Skip:]
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *memStore) DeviceDeploymentCount(_ context.Context, tenantID string, deploymentID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, dd := range m.devDeps[tenantID] {
		if dd.DeploymentID == deploymentID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) findDeviceDeploymentLocked(tenantID string, deploymentID uuid.UUID, deviceID string) *DeviceDeployment {
	for _, dd := range m.devDeps[tenantID] {
		if dd.DeploymentID == deploymentID && dd.DeviceID == deviceID {
			return dd
		}
	}
	return nil
}

func (m *memStore) GetDeviceDeployment(_ context.Context, tenantID string, deploymentID uuid.UUID, deviceID string) (*DeviceDeployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dd := m.findDeviceDeploymentLocked(tenantID, deploymentID, deviceID)
	if dd == nil {
		return nil, ErrNotFound
	}
	cp := *dd
	return &cp, nil
}

func (m *memStore) ListDeviceDeployments(_ context.Context, tenantID string, deploymentID uuid.UUID, skip, limit int) ([]DeviceDeployment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []DeviceDeployment
	for _, dd := range m.devDeps[tenantID] {
		if dd.DeploymentID == deploymentID {
			all = append(all, *dd)
		}
	}
	total := len(all)
	if skip >= len(all) {
		return nil, total, nil
	}
	all = all[skip:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *memStore) DeviceDeploymentsForDevice(_ context.Context, tenantID, deviceID string) ([]DeviceDeployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DeviceDeployment
	for _, dd := range m.devDeps[tenantID] {
		if dd.DeviceID == deviceID {
			out = append(out, *dd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) SetDeviceDeploymentType(_ context.Context, tenantID string, deploymentID uuid.UUID, deviceID, deviceType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dd := m.findDeviceDeploymentLocked(tenantID, deploymentID, deviceID)
	if dd == nil {
		return ErrNotFound
	}
	dd.DeviceType = deviceType
	return nil
}

func (m *memStore) OldestActiveDeviceDeployment(_ context.Context, tenantID, deviceID string) (*DeviceDeployment, *Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *DeviceDeployment
	for _, dd := range m.devDeps[tenantID] {
		if dd.DeviceID != deviceID || dd.Status.Terminal() {
			continue
		}
		if oldest == nil || dd.CreatedAt.Before(oldest.CreatedAt) {
			oldest = dd
		}
	}
	if oldest == nil {
		return nil, nil, nil
	}
	dep, err := m.getDeploymentLocked(tenantID, oldest.DeploymentID)
	if err != nil {
		return nil, nil, err
	}
	cp := *oldest
	return &cp, dep, nil
}

func (m *memStore) SetDeviceDeploymentStatus(_ context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, from, to DeviceStatus, subState *string, artifactID *uuid.UUID, finishedAt *time.Time) (*Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dep, ok := m.deps[tenantID][deploymentID]
	if !ok {
		return nil, ErrNotFound
	}
	dd := m.findDeviceDeploymentLocked(tenantID, deploymentID, deviceID)
	if dd == nil {
		return nil, ErrNotFound
	}
	if dd.Status != from {
		return nil, ErrConflict
	}

	dd.Status = to
	if subState != nil {
		dd.SubState = *subState
	}
	if artifactID != nil {
		dd.ArtifactID = artifactID
	}
	if finishedAt != nil {
		dd.FinishedAt = finishedAt
	}

	dep.Stats.Apply(from, to)
	m.reaggregateLocked(dep)
	cp := *dep
	cp.Stats = cloneStats(dep.Stats)
	return &cp, nil
}

func (m *memStore) reaggregateLocked(dep *Deployment) {
	next := dep.Stats.Aggregate(dep.MaxDevices)
	if next == DeploymentFinished && dep.FinishedAt == nil {
		now := time.Now().UTC()
		dep.FinishedAt = &now
	}
	dep.Status = next
}

func (m *memStore) AbortDeviceDeployments(_ context.Context, tenantID string, deploymentID uuid.UUID) (int, error) {
	return m.force(tenantID, deploymentID, "", StatusAborted)
}

func (m *memStore) DecommissionDeviceDeployments(_ context.Context, tenantID, deviceID string) (int, error) {
	m.mu.Lock()
	seen := map[uuid.UUID]bool{}
	for _, dd := range m.devDeps[tenantID] {
		if dd.DeviceID == deviceID && !dd.Status.Terminal() {
			seen[dd.DeploymentID] = true
		}
	}
	m.mu.Unlock()

	total := 0
	for depID := range seen {
		n, err := m.force(tenantID, depID, deviceID, StatusDecommissioned)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (m *memStore) force(tenantID string, deploymentID uuid.UUID, deviceID string, to DeviceStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dep, ok := m.deps[tenantID][deploymentID]
	if !ok {
		return 0, ErrNotFound
	}

	moved := 0
	now := time.Now().UTC()
	for _, dd := range m.devDeps[tenantID] {
		if dd.DeploymentID != deploymentID || dd.Status.Terminal() {
			continue
		}
		if deviceID != "" && dd.DeviceID != deviceID {
			continue
		}
		dep.Stats.Apply(dd.Status, to)
		dd.Status = to
		dd.FinishedAt = &now
		moved++
	}
	if moved > 0 {
		m.reaggregateLocked(dep)
	}
	return moved, nil
}

func (m *memStore) SaveDeviceDeploymentLog(_ context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, compressed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dd := m.findDeviceDeploymentLocked(tenantID, deploymentID, deviceID)
	if dd == nil {
		return ErrNotFound
	}
	dd.LogAvailable = true
	m.logs[logKey(tenantID, deploymentID, deviceID)] = compressed
	return nil
}

func (m *memStore) GetDeviceDeploymentLog(_ context.Context, tenantID string, deploymentID uuid.UUID, deviceID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.logs[logKey(tenantID, deploymentID, deviceID)]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *memStore) InsertUploadIntent(_ context.Context, tenantID string, in *UploadIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.intents[tenantID] == nil {
		m.intents[tenantID] = map[uuid.UUID]*UploadIntent{}
	}
	cp := *in
	m.intents[tenantID][in.ID] = &cp
	return nil
}

func (m *memStore) GetUploadIntent(_ context.Context, tenantID string, id uuid.UUID) (*UploadIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[tenantID][id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *memStore) SetUploadIntentStatus(_ context.Context, tenantID string, id uuid.UUID, from, to UploadStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[tenantID][id]
	if !ok {
		return ErrConflict
	}
	if in.Status != from {
		return ErrConflict
	}
	in.Status = to
	return nil
}
