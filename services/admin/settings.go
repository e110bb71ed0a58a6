package admin

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mendersoftware/deployments/services/deployments"
)

// storageFile is the on-disk shape `deployctl storage set` accepts. Field
// names follow the API's storage settings payload.
type storageFile struct {
	Region         string `yaml:"region"`
	Bucket         string `yaml:"bucket"`
	URI            string `yaml:"uri"`
	Key            string `yaml:"key"`
	Secret         string `yaml:"secret"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// LoadStorageSettings reads tenant storage settings from a YAML file. The
// secret stays plaintext here; sealing happens when the settings are stored.
func LoadStorageSettings(path string) (*deployments.StorageSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	var f storageFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}

	settings := &deployments.StorageSettings{
		Region:    f.Region,
		Bucket:    f.Bucket,
		Endpoint:  f.URI,
		AccessKey: f.Key,
		SecretKey: f.Secret,
		ForcePath: f.ForcePathStyle,
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}
