package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UpstreamServer is one configured UniSet server entry.
type UpstreamServer struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ServersFile is the root of the YAML server list.
type ServersFile struct {
	Servers []UpstreamServer `yaml:"servers"`
}

// LoadServers reads the upstream server list from a YAML file.
func LoadServers(path string) ([]UpstreamServer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}
	return ParseServers(data)
}

// ParseServers parses a YAML server list and validates entries.
func ParseServers(data []byte) ([]UpstreamServer, error) {
	var f ServersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse servers file: %w", err)
	}

	seen := make(map[string]bool, len(f.Servers))
	for i, s := range f.Servers {
		if s.ID == "" {
			return nil, fmt.Errorf("server entry %d: missing id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate server id: %s", s.ID)
		}
		seen[s.ID] = true
		if f.Servers[i].Name == "" {
			f.Servers[i].Name = s.ID
		}
	}

	return f.Servers, nil
}
