package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Tenant struct {
	ID        string    `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type StorageSetting struct {
	TenantID     string    `gorm:"type:text;primaryKey"`
	Region       string    `gorm:"type:text"`
	Bucket       string    `gorm:"type:text;not null"`
	Endpoint     string    `gorm:"type:text"`
	AccessKey    string    `gorm:"type:text"`
	SealedSecret string    `gorm:"type:text"`
	ForcePath    bool      `gorm:"type:boolean;not null;default:true"`
	UpdatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Artifact struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	TenantID    string            `gorm:"type:text;not null;index:idx_artifacts_tenant_name,priority:1"`
	Name        string            `gorm:"type:text;not null;index:idx_artifacts_tenant_name,priority:2"`
	Description string            `gorm:"type:text"`
	Size        int64             `gorm:"type:bigint;not null"`
	Checksum    string            `gorm:"type:text;not null"`
	DeviceTypes datatypes.JSON    `gorm:"type:jsonb;not null"`
	Updates     datatypes.JSON    `gorm:"type:jsonb"`
	Meta        datatypes.JSONMap `gorm:"type:jsonb"`
	ObjectKey   string            `gorm:"type:text;not null"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type ReleaseNote struct {
	TenantID  string    `gorm:"type:text;primaryKey"`
	Name      string    `gorm:"type:text;primaryKey"`
	Notes     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

// Deployment identity is (tenant_id, id): configuration deployments take a
// caller-supplied uuid, so the same id may legitimately appear under
// different tenants.
type Deployment struct {
	TenantID      string         `gorm:"type:text;primaryKey;index:idx_deployments_tenant_created,priority:1"`
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Name          string         `gorm:"type:text;not null"`
	ArtifactName  string         `gorm:"type:text;not null;index"`
	Kind          string         `gorm:"type:text;not null;default:'software'"`
	Configuration []byte         `gorm:"type:bytea"`
	Status        string         `gorm:"type:text;not null;index"`
	Stats         datatypes.JSON `gorm:"type:jsonb;not null"`
	MaxDevices    int            `gorm:"type:integer;not null"`
	CreatedAt     time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime;index:idx_deployments_tenant_created,priority:2"`
	FinishedAt    *time.Time     `gorm:"type:timestamptz"`
}

type DeviceDeployment struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID     string     `gorm:"type:text;not null;uniqueIndex:idx_device_deployments_identity,priority:1;index:idx_device_deployments_scan,priority:1"`
	DeploymentID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_device_deployments_identity,priority:2"`
	DeviceID     string     `gorm:"type:text;not null;uniqueIndex:idx_device_deployments_identity,priority:3;index:idx_device_deployments_scan,priority:2"`
	DeviceType   string     `gorm:"type:text"`
	Status       string     `gorm:"type:text;not null;index:idx_device_deployments_scan,priority:3"`
	SubState     string     `gorm:"type:text"`
	ArtifactID   *uuid.UUID `gorm:"type:uuid"`
	LogAvailable bool       `gorm:"type:boolean;not null;default:false"`
	Position     int        `gorm:"type:integer;not null"`
	CreatedAt    time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime;index:idx_device_deployments_scan,priority:4"`
	FinishedAt   *time.Time `gorm:"type:timestamptz"`
	Deployment   Deployment `gorm:"foreignKey:TenantID,DeploymentID;references:TenantID,ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type DeploymentLog struct {
	TenantID     string    `gorm:"type:text;primaryKey"`
	DeploymentID uuid.UUID `gorm:"type:uuid;primaryKey"`
	DeviceID     string    `gorm:"type:text;primaryKey"`
	Messages     []byte    `gorm:"type:bytea;not null"`
	UpdatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type UploadIntent struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	TenantID  string            `gorm:"type:text;not null;index"`
	Status    int               `gorm:"type:integer;not null;default:0"`
	ObjectKey string            `gorm:"type:text;not null"`
	Meta      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Tenant{},
		&StorageSetting{},
		&Artifact{},
		&ReleaseNote{},
		&Deployment{},
		&DeviceDeployment{},
		&DeploymentLog{},
		&UploadIntent{},
	); err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().CreateConstraint(&DeviceDeployment{}, "Deployment")
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&UploadIntent{},
		&DeploymentLog{},
		&DeviceDeployment{},
		&Deployment{},
		&ReleaseNote{},
		&Artifact{},
		&StorageSetting{},
		&Tenant{},
	)
}
