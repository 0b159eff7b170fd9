package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the top-level on-disk run description, loaded the way
// the teacher loads its own YAML cluster manifests (plain
// yaml.Unmarshal into typed structs, no schema validation library).
type Manifest struct {
	Workload Workload `yaml:"workload"`
	Targets  []Target `yaml:"targets"`
	Workers  int      `yaml:"workers"`

	Monitor ManifestMonitor `yaml:"monitor"`
}

// ManifestMonitor configures the statistics monitor/aggregator.
type ManifestMonitor struct {
	IntervalSeconds uint64 `yaml:"interval_seconds"`
	PrometheusAddr  string `yaml:"prometheus_addr,omitempty"`
	OutputFormats   []string `yaml:"output_formats,omitempty"`
	OutputPath      string `yaml:"output_path,omitempty"`
}

// LoadManifest reads and parses a YAML run manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: parsing manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate validates the whole manifest: workload bounds, each
// target's own bounds, and the cross-cutting write-conflict gate.
func (m *Manifest) Validate() error {
	if err := m.Workload.Validate(); err != nil {
		return err
	}
	if m.Workers < 1 {
		return fmt.Errorf("config: workers must be >= 1")
	}
	if len(m.Targets) == 0 {
		return fmt.Errorf("config: at least one target is required")
	}
	for _, tgt := range m.Targets {
		if err := tgt.Validate(m.Workload.ReadPercent); err != nil {
			return err
		}
	}
	if err := ValidateWriteConflicts(m.Workload, m.Targets, m.Workers); err != nil {
		return err
	}
	return nil
}
