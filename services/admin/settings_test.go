package admin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadStorageSettings(t *testing.T) {
	path := writeSettingsFile(t, `
region: eu-west-1
bucket: acme-artifacts
uri: https://minio.acme.internal:9000
key: AKIAEXAMPLE
secret: swordfish
force_path_style: true
`)

	settings, err := LoadStorageSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", settings.Region)
	assert.Equal(t, "acme-artifacts", settings.Bucket)
	assert.Equal(t, "https://minio.acme.internal:9000", settings.Endpoint)
	assert.Equal(t, "AKIAEXAMPLE", settings.AccessKey)
	assert.Equal(t, "swordfish", settings.SecretKey)
	assert.True(t, settings.ForcePath)
}

func TestLoadStorageSettingsRejectsUnknownFields(t *testing.T) {
	path := writeSettingsFile(t, `
bucket: acme-artifacts
bucet_typo: oops
`)

	_, err := LoadStorageSettings(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse settings file")
}

func TestLoadStorageSettingsRequiresBucket(t *testing.T) {
	path := writeSettingsFile(t, `
region: eu-west-1
`)

	_, err := LoadStorageSettings(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestLoadStorageSettingsMissingFile(t *testing.T) {
	_, err := LoadStorageSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
