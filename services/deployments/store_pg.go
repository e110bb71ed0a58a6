package deployments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mendersoftware/deployments/pkg/db"
)

// uniqueViolation is the Postgres error code raised on duplicate keys.
const uniqueViolation = "23505"

// PgStore implements DataStore on top of a pgx connection pool.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) (*PgStore, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	return &PgStore{pool: pool}, nil
}

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PgStore) ProvisionTenant(ctx context.Context, tenantID string) error {
	_, err := db.Exec(ctx, s.pool, `
INSERT INTO tenants (id) VALUES ($1)
ON CONFLICT (id) DO NOTHING
`, tenantID)
	return err
}

func (s *PgStore) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	var exists bool
	err := db.Get(ctx, s.pool, &exists, `
SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)
`, tenantID)
	return exists, err
}

func (s *PgStore) SetStorageSettings(ctx context.Context, tenantID string, cfg *StorageSettings, sealedSecret string) error {
	_, err := db.Exec(ctx, s.pool, `
INSERT INTO storage_settings (tenant_id, region, bucket, endpoint, access_key, sealed_secret, force_path, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (tenant_id) DO UPDATE SET
	region = EXCLUDED.region,
	bucket = EXCLUDED.bucket,
	endpoint = EXCLUDED.endpoint,
	access_key = EXCLUDED.access_key,
	sealed_secret = EXCLUDED.sealed_secret,
	force_path = EXCLUDED.force_path,
	updated_at = now()
`, tenantID, cfg.Region, cfg.Bucket, cfg.Endpoint, cfg.AccessKey, sealedSecret, cfg.ForcePath)
	return err
}

func (s *PgStore) GetStorageSettings(ctx context.Context, tenantID string) (*StorageSettings, string, error) {
	var row storageSettingRow
	err := db.Get(ctx, s.pool, &row, `
SELECT tenant_id, region, bucket, endpoint, access_key, sealed_secret, force_path, updated_at
FROM storage_settings
WHERE tenant_id = $1
`, tenantID)
	if pgxscan.NotFound(err) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return &StorageSettings{
		Region:    row.Region,
		Bucket:    row.Bucket,
		Endpoint:  row.Endpoint,
		AccessKey: row.AccessKey,
		ForcePath: row.ForcePath,
	}, row.SealedSecret, nil
}

func (s *PgStore) DeleteStorageSettings(ctx context.Context, tenantID string) error {
	_, err := db.Exec(ctx, s.pool, `
DELETE FROM storage_settings WHERE tenant_id = $1
`, tenantID)
	return err
}

func (s *PgStore) InsertArtifact(ctx context.Context, tenantID string, a *Artifact) error {
	deviceTypes, err := json.Marshal(a.DeviceTypes)
	if err != nil {
		return err
	}
	updates, err := json.Marshal(a.Updates)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, s.pool, `
INSERT INTO artifacts (id, tenant_id, name, description, size, checksum, device_types, updates, object_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, a.ID, tenantID, a.Name, a.Description, a.Size, a.Checksum, deviceTypes, updates, a.ObjectKey, a.CreatedAt)
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

const artifactColumns = `id, tenant_id, name, description, size, checksum, device_types, updates, object_key, created_at`

func (s *PgStore) GetArtifact(ctx context.Context, tenantID string, id uuid.UUID) (*Artifact, error) {
	var row artifactRow
	err := db.Get(ctx, s.pool, &row, `
SELECT `+artifactColumns+`
FROM artifacts
WHERE tenant_id = $1 AND id = $2
`, tenantID, id)
	if pgxscan.NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (s *PgStore) ArtifactsByName(ctx context.Context, tenantID, name string) ([]Artifact, error) {
	var rows []artifactRow
	err := db.Select(ctx, s.pool, &rows, `
SELECT `+artifactColumns+`
FROM artifacts
WHERE tenant_id = $1 AND name = $2
ORDER BY created_at ASC
`, tenantID, name)
	if err != nil {
		return nil, err
	}
	return artifactsFromRows(rows)
}

func (s *PgStore) ListArtifacts(ctx context.Context, tenantID string, skip, limit int) ([]Artifact, error) {
	var rows []artifactRow
	err := db.Select(ctx, s.pool, &rows, `
SELECT `+artifactColumns+`
FROM artifacts
WHERE tenant_id = $1
ORDER BY name ASC, created_at ASC
OFFSET $2 LIMIT $3
`, tenantID, skip, limit)
	if err != nil {
		return nil, err
	}
	return artifactsFromRows(rows)
}

func artifactsFromRows(rows []artifactRow) ([]Artifact, error) {
	out := make([]Artifact, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *PgStore) UpdateArtifactDescription(ctx context.Context, tenantID string, id uuid.UUID, description string) error {
	tag, err := db.Exec(ctx, s.pool, `
UPDATE artifacts SET description = $3
WHERE tenant_id = $1 AND id = $2
`, tenantID, id, description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) DeleteArtifact(ctx context.Context, tenantID string, id uuid.UUID) error {
	tag, err := db.Exec(ctx, s.pool, `
DELETE FROM artifacts WHERE tenant_id = $1 AND id = $2
`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ArtifactReferenced reports whether any non-finished deployment still points
// at the artifact's name.
func (s *PgStore) ArtifactReferenced(ctx context.Context, tenantID string, id uuid.UUID) (bool, error) {
	var referenced bool
	err := db.Get(ctx, s.pool, &referenced, `
SELECT EXISTS (
	SELECT 1
	FROM deployments d
	JOIN artifacts a ON a.tenant_id = d.tenant_id AND a.name = d.artifact_name
	WHERE a.tenant_id = $1 AND a.id = $2 AND d.status <> 'finished'
)
`, tenantID, id)
	return referenced, err
}

func (s *PgStore) SetReleaseNotes(ctx context.Context, tenantID, name, notes string) error {
	_, err := db.Exec(ctx, s.pool, `
INSERT INTO release_notes (tenant_id, name, notes, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (tenant_id, name) DO UPDATE SET notes = EXCLUDED.notes, updated_at = now()
`, tenantID, name, notes)
	return err
}

func (s *PgStore) GetReleaseNotes(ctx context.Context, tenantID string, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	if len(names) == 0 {
		return out, nil
	}
	var rows []struct {
		Name  string
		Notes string
	}
	err := db.Select(ctx, s.pool, &rows, `
SELECT name, notes FROM release_notes
WHERE tenant_id = $1 AND name = ANY($2)
`, tenantID, names)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.Name] = r.Notes
	}
	return out, nil
}

func (s *PgStore) InsertDeployment(ctx context.Context, tenantID string, d *Deployment, devices []DeviceDeployment) error {
	stats, err := json.Marshal(d.Stats)
	if err != nil {
		return err
	}

	err = db.InTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO deployments (id, tenant_id, name, artifact_name, kind, configuration, status, stats, max_devices, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, d.ID, tenantID, d.Name, d.ArtifactName, string(d.Kind), d.Configuration, string(d.Status), stats, d.MaxDevices, d.CreatedAt)
		if err != nil {
			return err
		}

		for i := range devices {
			dd := &devices[i]
			_, err := tx.Exec(ctx, `
INSERT INTO device_deployments (id, tenant_id, deployment_id, device_id, device_type, status, sub_state, artifact_id, log_available, position, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`, dd.ID, tenantID, d.ID, dd.DeviceID, dd.DeviceType, string(dd.Status), dd.SubState, dd.ArtifactID, dd.LogAvailable, i, dd.CreatedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

const deploymentColumns = `id, tenant_id, name, artifact_name, kind, configuration, status, stats, max_devices, created_at, finished_at`

func (s *PgStore) GetDeployment(ctx context.Context, tenantID string, id uuid.UUID) (*Deployment, error) {
	var row deploymentRow
	err := db.Get(ctx, s.pool, &row, `
SELECT `+deploymentColumns+`
FROM deployments
WHERE tenant_id = $1 AND id = $2
`, tenantID, id)
	if pgxscan.NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (s *PgStore) FindDeployments(ctx context.Context, tenantID string, q Query) ([]Deployment, int, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Search != "" {
		p := next("%" + q.Search + "%")
		conds = append(conds, fmt.Sprintf("(name ILIKE %s OR artifact_name ILIKE %s)", p, p))
	}
	switch q.Status {
	case StatusQueryPending:
		conds = append(conds, "status = "+next(string(DeploymentPending)))
	case StatusQueryInProgress:
		conds = append(conds, "status = "+next(string(DeploymentInProgress)))
	case StatusQueryFinished:
		conds = append(conds, "status = "+next(string(DeploymentFinished)))
	}
	if q.CreatedAfter != nil {
		conds = append(conds, "created_at >= "+next(*q.CreatedAfter))
	}
	if q.CreatedBefore != nil {
		conds = append(conds, "created_at <= "+next(*q.CreatedBefore))
	}

	where := strings.Join(conds, " AND ")

	var total int
	if err := db.Get(ctx, s.pool, &total, `
SELECT count(*) FROM deployments WHERE `+where, args...); err != nil {
		return nil, 0, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `
SELECT ` + deploymentColumns + `
FROM deployments
WHERE ` + where + `
ORDER BY created_at DESC
OFFSET ` + next(q.Skip) + ` LIMIT ` + next(limit)

	var rows []deploymentRow
	if err := db.Select(ctx, s.pool, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	out := make([]Deployment, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *d)
	}
	return out, total, nil
}

func (s *PgStore) DeviceDeploymentCount(ctx context.Context, tenantID string, deploymentID uuid.UUID) (int, error) {
	var n int
	err := db.Get(ctx, s.pool, &n, `
SELECT count(*) FROM device_deployments
WHERE tenant_id = $1 AND deployment_id = $2
`, tenantID, deploymentID)
	return n, err
}

const deviceDeploymentColumns = `id, tenant_id, deployment_id, device_id, device_type, status, sub_state, artifact_id, log_available, position, created_at, finished_at`

func (s *PgStore) GetDeviceDeployment(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string) (*DeviceDeployment, error) {
	var row deviceDeploymentRow
	err := db.Get(ctx, s.pool, &row, `
SELECT `+deviceDeploymentColumns+`
FROM device_deployments
WHERE tenant_id = $1 AND deployment_id = $2 AND device_id = $3
`, tenantID, deploymentID, deviceID)
	if pgxscan.NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (s *PgStore) ListDeviceDeployments(ctx context.Context, tenantID string, deploymentID uuid.UUID, skip, limit int) ([]DeviceDeployment, int, error) {
	var total int
	err := db.Get(ctx, s.pool, &total, `
SELECT count(*) FROM device_deployments
WHERE tenant_id = $1 AND deployment_id = $2
`, tenantID, deploymentID)
	if err != nil {
		return nil, 0, err
	}

	var rows []deviceDeploymentRow
	err = db.Select(ctx, s.pool, &rows, `
SELECT `+deviceDeploymentColumns+`
FROM device_deployments
WHERE tenant_id = $1 AND deployment_id = $2
ORDER BY position ASC
OFFSET $3 LIMIT $4
`, tenantID, deploymentID, skip, limit)
	if err != nil {
		return nil, 0, err
	}

	out := make([]DeviceDeployment, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toModel())
	}
	return out, total, nil
}

func (s *PgStore) DeviceDeploymentsForDevice(ctx context.Context, tenantID, deviceID string) ([]DeviceDeployment, error) {
	var rows []deviceDeploymentRow
	err := db.Select(ctx, s.pool, &rows, `
SELECT `+deviceDeploymentColumns+`
FROM device_deployments
WHERE tenant_id = $1 AND device_id = $2
ORDER BY created_at DESC
`, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	out := make([]DeviceDeployment, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toModel())
	}
	return out, nil
}

func (s *PgStore) SetDeviceDeploymentType(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID, deviceType string) error {
	tag, err := db.Exec(ctx, s.pool, `
UPDATE device_deployments SET device_type = $4
WHERE tenant_id = $1 AND deployment_id = $2 AND device_id = $3
`, tenantID, deploymentID, deviceID, deviceType)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) OldestActiveDeviceDeployment(ctx context.Context, tenantID, deviceID string) (*DeviceDeployment, *Deployment, error) {
	active := make([]string, 0, len(ActiveStatuses()))
	for _, st := range ActiveStatuses() {
		active = append(active, string(st))
	}

	var ddRow deviceDeploymentRow
	err := db.Get(ctx, s.pool, &ddRow, `
SELECT `+deviceDeploymentColumns+`
FROM device_deployments
WHERE tenant_id = $1 AND device_id = $2 AND status = ANY($3)
ORDER BY created_at ASC
LIMIT 1
`, tenantID, deviceID, active)
	if pgxscan.NotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	dep, err := s.GetDeployment(ctx, tenantID, ddRow.DeploymentID)
	if err != nil {
		return nil, nil, err
	}
	return ddRow.toModel(), dep, nil
}

func (s *PgStore) SetDeviceDeploymentStatus(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, from, to DeviceStatus, subState *string, artifactID *uuid.UUID, finishedAt *time.Time) (*Deployment, error) {
	var updated *Deployment
	err := db.InTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		dep, err := lockDeployment(ctx, tx, tenantID, deploymentID)
		if err != nil {
			return err
		}

		sets := []string{"status = $5"}
		args := []any{tenantID, deploymentID, deviceID, string(from), string(to)}
		if subState != nil {
			args = append(args, *subState)
			sets = append(sets, fmt.Sprintf("sub_state = $%d", len(args)))
		}
		if artifactID != nil {
			args = append(args, *artifactID)
			sets = append(sets, fmt.Sprintf("artifact_id = $%d", len(args)))
		}
		if finishedAt != nil {
			args = append(args, *finishedAt)
			sets = append(sets, fmt.Sprintf("finished_at = $%d", len(args)))
		}

		tag, err := tx.Exec(ctx, `
UPDATE device_deployments SET `+strings.Join(sets, ", ")+`
WHERE tenant_id = $1 AND deployment_id = $2 AND device_id = $3 AND status = $4
`, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}

		dep.Stats.Apply(from, to)
		if err := saveDeploymentAggregate(ctx, tx, tenantID, dep); err != nil {
			return err
		}
		updated = dep
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PgStore) AbortDeviceDeployments(ctx context.Context, tenantID string, deploymentID uuid.UUID) (int, error) {
	return s.forceStatuses(ctx, tenantID, deploymentID, "", StatusAborted)
}

func (s *PgStore) DecommissionDeviceDeployments(ctx context.Context, tenantID, deviceID string) (int, error) {
	var ids []uuid.UUID
	err := db.Select(ctx, s.pool, &ids, `
SELECT DISTINCT deployment_id FROM device_deployments
WHERE tenant_id = $1 AND device_id = $2 AND status = ANY($3)
`, tenantID, deviceID, nonTerminalStatuses())
	if err != nil {
		return 0, err
	}

	total := 0
	for _, depID := range ids {
		n, err := s.forceStatuses(ctx, tenantID, depID, deviceID, StatusDecommissioned)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func nonTerminalStatuses() []string {
	out := make([]string, 0, len(DeviceStatuses()))
	for _, st := range DeviceStatuses() {
		if !st.Terminal() {
			out = append(out, string(st))
		}
	}
	return out
}

// forceStatuses terminates every non-terminal device record of a deployment,
// optionally restricted to a single device, and reconciles the stats.
func (s *PgStore) forceStatuses(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, to DeviceStatus) (int, error) {
	moved := 0
	err := db.InTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		dep, err := lockDeployment(ctx, tx, tenantID, deploymentID)
		if err != nil {
			return err
		}

		cond := `tenant_id = $1 AND deployment_id = $2 AND status = ANY($3)`
		args := []any{tenantID, deploymentID, nonTerminalStatuses()}
		if deviceID != "" {
			args = append(args, deviceID)
			cond += fmt.Sprintf(" AND device_id = $%d", len(args))
		}

		var current []string
		if err := pgxscan.Select(ctx, tx, &current, `
SELECT status FROM device_deployments WHERE `+cond+` FOR UPDATE`, args...); err != nil {
			return err
		}
		if len(current) == 0 {
			return nil
		}

		args = append(args, string(to))
		_, err = tx.Exec(ctx, `
UPDATE device_deployments SET status = $`+fmt.Sprint(len(args))+`, finished_at = now()
WHERE `+cond, args...)
		if err != nil {
			return err
		}

		for _, st := range current {
			dep.Stats.Apply(DeviceStatus(st), to)
		}
		moved = len(current)
		return saveDeploymentAggregate(ctx, tx, tenantID, dep)
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

func lockDeployment(ctx context.Context, tx pgx.Tx, tenantID string, id uuid.UUID) (*Deployment, error) {
	var row deploymentRow
	err := pgxscan.Get(ctx, tx, &row, `
SELECT `+deploymentColumns+`
FROM deployments
WHERE tenant_id = $1 AND id = $2
FOR UPDATE
`, tenantID, id)
	if pgxscan.NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// saveDeploymentAggregate recomputes the aggregate status from the stats and
// persists both, stamping the finish time exactly once.
func saveDeploymentAggregate(ctx context.Context, tx pgx.Tx, tenantID string, dep *Deployment) error {
	next := dep.Stats.Aggregate(dep.MaxDevices)
	if next == DeploymentFinished && dep.FinishedAt == nil {
		now := time.Now().UTC()
		dep.FinishedAt = &now
	}
	dep.Status = next

	stats, err := json.Marshal(dep.Stats)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
UPDATE deployments SET status = $3, stats = $4, finished_at = $5
WHERE tenant_id = $1 AND id = $2
`, tenantID, dep.ID, string(dep.Status), stats, dep.FinishedAt)
	return err
}

func (s *PgStore) SaveDeviceDeploymentLog(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string, compressed []byte) error {
	err := db.InTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE device_deployments SET log_available = true
WHERE tenant_id = $1 AND deployment_id = $2 AND device_id = $3
`, tenantID, deploymentID, deviceID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		_, err = tx.Exec(ctx, `
INSERT INTO deployment_logs (tenant_id, deployment_id, device_id, messages, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (tenant_id, deployment_id, device_id) DO UPDATE SET messages = EXCLUDED.messages, updated_at = now()
`, tenantID, deploymentID, deviceID, compressed)
		return err
	})
	return err
}

func (s *PgStore) GetDeviceDeploymentLog(ctx context.Context, tenantID string, deploymentID uuid.UUID, deviceID string) ([]byte, error) {
	var messages []byte
	err := db.Get(ctx, s.pool, &messages, `
SELECT messages FROM deployment_logs
WHERE tenant_id = $1 AND deployment_id = $2 AND device_id = $3
`, tenantID, deploymentID, deviceID)
	if pgxscan.NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *PgStore) InsertUploadIntent(ctx context.Context, tenantID string, in *UploadIntent) error {
	meta, err := json.Marshal(in.Meta)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, s.pool, `
INSERT INTO upload_intents (id, tenant_id, status, object_key, meta, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
`, in.ID, tenantID, int(in.Status), in.ObjectKey, meta, in.CreatedAt)
	return err
}

func (s *PgStore) GetUploadIntent(ctx context.Context, tenantID string, id uuid.UUID) (*UploadIntent, error) {
	var row uploadIntentRow
	err := db.Get(ctx, s.pool, &row, `
SELECT id, tenant_id, status, object_key, meta, created_at, updated_at
FROM upload_intents
WHERE tenant_id = $1 AND id = $2
`, tenantID, id)
	if pgxscan.NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (s *PgStore) SetUploadIntentStatus(ctx context.Context, tenantID string, id uuid.UUID, from, to UploadStatus) error {
	tag, err := db.Exec(ctx, s.pool, `
UPDATE upload_intents SET status = $4, updated_at = now()
WHERE tenant_id = $1 AND id = $2 AND status = $3
`, tenantID, id, int(from), int(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}
