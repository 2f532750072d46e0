package datapipe

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TopologyMeta describes one named dataset topology: where its link
// manifest lives and how many partitioned readings files to fetch.
type TopologyMeta struct {
	RemoteURL string `yaml:"remote_url"`
	// ReadingsLimit overrides the configured partition budget when set.
	ReadingsLimit int `yaml:"readings_limit,omitempty"`
}

// Registry maps topology names to their source metadata, loaded from
// the source_urls.yml file.
type Registry struct {
	topologies map[string]TopologyMeta
}

// LoadRegistry reads the topology metadata file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology metadata %s: %w", path, err)
	}

	topologies := map[string]TopologyMeta{}
	if err := yaml.Unmarshal(data, &topologies); err != nil {
		return nil, fmt.Errorf("failed to parse topology metadata %s: %w", path, err)
	}

	for name, meta := range topologies {
		if meta.RemoteURL == "" {
			return nil, fmt.Errorf("topology %s has no remote_url", name)
		}
	}
	return &Registry{topologies: topologies}, nil
}

// Get resolves one topology.
func (r *Registry) Get(name string) (TopologyMeta, error) {
	meta, ok := r.topologies[name]
	if !ok {
		return TopologyMeta{}, fmt.Errorf("unknown topology %s (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return meta, nil
}

// Names lists the known topologies in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.topologies))
	for name := range r.topologies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
