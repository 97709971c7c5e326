package outputs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// NetworksFile is the name of the controller file kept in a show directory.
const NetworksFile = "networks.yaml"

type networksDocument struct {
	Version     int      `yaml:"version"`
	Controllers []Record `yaml:"controllers"`
}

// ReadNetworksFile reads the controllers stored in showDir. A missing file
// yields no records and no error.
func ReadNetworksFile(showDir string) ([]Record, error) {
	data, err := os.ReadFile(filepath.Join(showDir, NetworksFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read networks file: %w", err)
	}
	var doc networksDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse networks file: %w", err)
	}
	return doc.Controllers, nil
}

// WriteNetworksFile replaces the controller file in showDir. The file is
// written to a temporary name first so a failed write leaves the old one.
func WriteNetworksFile(showDir string, recs []Record) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(networksDocument{Version: CurrentSchemaVersion, Controllers: recs}); err != nil {
		return fmt.Errorf("failed to encode networks file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode networks file: %w", err)
	}

	path := filepath.Join(showDir, NetworksFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write networks file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write networks file: %w", err)
	}
	return nil
}
