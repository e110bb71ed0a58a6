package deployments

import (
	"context"
	"fmt"
	"strings"
)

func (d *Deployments) ProvisionTenant(ctx context.Context, tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	return d.store.ProvisionTenant(ctx, tenantID)
}

// SetStorageSettings stores a tenant's object storage backend, sealing the
// secret key before it is persisted. The plaintext secret never leaves this
// call.
func (d *Deployments) SetStorageSettings(ctx context.Context, tenantID string, settings *StorageSettings) error {
	if settings == nil {
		return fmt.Errorf("%w: settings are required", ErrInvalidInput)
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	sealed := ""
	if settings.SecretKey != "" {
		if d.keyring == nil {
			return fmt.Errorf("%w: no keyring configured for sealing storage secrets", ErrInvalidInput)
		}
		var err error
		sealed, err = d.keyring.Seal(settings.SecretKey)
		if err != nil {
			return err
		}
	}

	if err := d.store.SetStorageSettings(ctx, tenantID, settings, sealed); err != nil {
		return err
	}
	d.invalidateStorage(tenantID)
	return nil
}

// GetStorageSettings returns the settings with the secret redacted.
func (d *Deployments) GetStorageSettings(ctx context.Context, tenantID string) (*StorageSettings, error) {
	settings, _, err := d.store.GetStorageSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	settings.SecretKey = ""
	return settings, nil
}

func (d *Deployments) DeleteStorageSettings(ctx context.Context, tenantID string) error {
	if err := d.store.DeleteStorageSettings(ctx, tenantID); err != nil {
		return err
	}
	d.invalidateStorage(tenantID)
	return nil
}

func (d *Deployments) invalidateStorage(tenantID string) {
	if inv, ok := d.objects.(interface{ Invalidate(string) }); ok {
		inv.Invalidate(tenantID)
	}
}
