package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClusterNode is one node's connection and worker-range entry in a
// ClusterManifest, mirroring the NodeSpec the coordinator dials.
type ClusterNode struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`

	// Workers is this node's share of the cluster-wide worker pool;
	// the coordinator assigns consecutive global worker ids across
	// nodes in manifest order.
	Workers int `yaml:"workers"`
}

// ClusterManifest is the on-disk description the coordinator loads: a
// shared workload/target pair plus the node list it dials out to, one
// level up from Manifest's single-process workers count.
type ClusterManifest struct {
	Workload Workload      `yaml:"workload"`
	Targets  []Target      `yaml:"targets"`
	Nodes    []ClusterNode `yaml:"nodes"`

	PrepareFiles            bool `yaml:"prepare_files"`
	FillFiles               bool `yaml:"fill_files"`
	SkipPreallocation       bool `yaml:"skip_preallocation"`
	ContinueOnWorkerFailure bool `yaml:"continue_on_worker_failure"`

	Monitor ManifestMonitor `yaml:"monitor"`
}

// LoadClusterManifest reads and parses a YAML cluster manifest from
// path.
func LoadClusterManifest(path string) (*ClusterManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading cluster manifest %s: %w", path, err)
	}

	var m ClusterManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: parsing cluster manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the workload, each target, the node list, and the
// cross-cutting write-conflict gate against the cluster-wide worker
// count.
func (m *ClusterManifest) Validate() error {
	if err := m.Workload.Validate(); err != nil {
		return err
	}
	if len(m.Targets) == 0 {
		return fmt.Errorf("config: at least one target is required")
	}
	for _, tgt := range m.Targets {
		if err := tgt.Validate(m.Workload.ReadPercent); err != nil {
			return err
		}
	}
	if len(m.Nodes) == 0 {
		return fmt.Errorf("config: at least one node is required")
	}

	total := 0
	seen := make(map[string]bool, len(m.Nodes))
	for _, n := range m.Nodes {
		if n.ID == "" {
			return fmt.Errorf("config: node entry missing id")
		}
		if seen[n.ID] {
			return fmt.Errorf("config: duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if n.Addr == "" {
			return fmt.Errorf("config: node %q missing addr", n.ID)
		}
		if n.Workers < 1 {
			return fmt.Errorf("config: node %q workers must be >= 1", n.ID)
		}
		total += n.Workers
	}

	if err := ValidateWriteConflicts(m.Workload, m.Targets, total); err != nil {
		return err
	}
	return nil
}

// TotalWorkers sums every node's worker count.
func (m *ClusterManifest) TotalWorkers() int {
	total := 0
	for _, n := range m.Nodes {
		total += n.Workers
	}
	return total
}
