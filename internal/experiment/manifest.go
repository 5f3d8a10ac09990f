// SPDX-License-Identifier: MPL-2.0

package experiment

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ManifestName is the run manifest file written into every seed dir.
const ManifestName = "run.toml"

// Manifest records how a run was produced, enough to reproduce or audit it
// without the shell history.
type Manifest struct {
	Task      string    `toml:"task"`
	Model     string    `toml:"model"`
	Config    string    `toml:"config"`
	Seed      int64     `toml:"seed"`
	Overrides []string  `toml:"overrides,omitempty"`
	Version   string    `toml:"version,omitempty"`
	Started   time.Time `toml:"started"`
	Finished  time.Time `toml:"finished"`
}

// Write serializes the manifest into dir.
func (m *Manifest) Write(dir string) error {
	buf, err := toml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestName), buf, 0o644)
}

// ReadManifest loads the manifest from a run dir.
func ReadManifest(dir string) (*Manifest, error) {
	buf, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := toml.Unmarshal(buf, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
