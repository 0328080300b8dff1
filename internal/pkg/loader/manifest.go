package loader

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/endorses/filterkit/pkg/filters"
)

// DefaultManifestName is the manifest file looked up in the filter
// directory.
const DefaultManifestName = "filters.yaml"

// Manifest overrides the initial settings of filters as they are loaded.
//
//	filters:
//	  - description: "uppercase greeting"
//	    contract: "example.com/greet.Greeter"
//	    priority: 10
//	    active: false
type Manifest struct {
	Filters []ManifestEntry `yaml:"filters"`
}

// ManifestEntry matches filters by description and, when set, contract key.
type ManifestEntry struct {
	Description string `yaml:"description"`
	Contract    string `yaml:"contract,omitempty"`
	Priority    *int   `yaml:"priority,omitempty"`
	Active      *bool  `yaml:"active,omitempty"`
}

// LoadManifest reads the manifest at path. A missing file yields an empty
// manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	for i, e := range m.Filters {
		if e.Description == "" {
			return nil, fmt.Errorf("manifest %s: entry %d has no description", path, i)
		}
	}
	return &m, nil
}

// Lookup returns the entry for f. Entries naming a contract win over
// entries matching by description only.
func (m *Manifest) Lookup(f *filters.Filter) (ManifestEntry, bool) {
	if m == nil {
		return ManifestEntry{}, false
	}
	var loose *ManifestEntry
	for i := range m.Filters {
		e := &m.Filters[i]
		if e.Description != f.Description() {
			continue
		}
		if e.Contract == f.ContractKey() {
			return *e, true
		}
		if e.Contract == "" && loose == nil {
			loose = e
		}
	}
	if loose != nil {
		return *loose, true
	}
	return ManifestEntry{}, false
}

// apply returns the settings f should be configured with.
func (e ManifestEntry) apply(f *filters.Filter) (priority int, active bool) {
	priority, active = f.Priority(), f.Active()
	if e.Priority != nil {
		priority = *e.Priority
	}
	if e.Active != nil {
		active = *e.Active
	}
	return priority, active
}
