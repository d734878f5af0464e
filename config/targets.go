package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Target is one vendor endpoint the sample command captures: a REST URL
// fetched once or a WebSocket URL read for a bounded number of messages.
type Target struct {
	Vendor    string            `yaml:"vendor"`
	DataType  string            `yaml:"data_type"`
	Source    string            `yaml:"source"`
	URL       string            `yaml:"url"`
	Subscribe string            `yaml:"subscribe"`
	Vars      map[string]string `yaml:"vars"`
}

// Targets is the full sample target file.
type Targets struct {
	Targets []Target `yaml:"targets"`
}

// ForVendor returns the targets of vendor in file order.
func (t *Targets) ForVendor(vendor string) []Target {
	var out []Target
	for _, tg := range t.Targets {
		if tg.Vendor == vendor {
			out = append(out, tg)
		}
	}
	return out
}

// LoadTargets loads sample targets from the given path.
func LoadTargets(path string) (*Targets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}
	var cfg Targets
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse targets file: %w", err)
	}
	for i := range cfg.Targets {
		tg := &cfg.Targets[i]
		tg.Vendor = strings.TrimSpace(tg.Vendor)
		tg.Source = strings.ToLower(strings.TrimSpace(tg.Source))
		if tg.Vendor == "" || tg.URL == "" {
			return nil, fmt.Errorf("target %d: vendor and url are required", i)
		}
		if tg.Source == "" {
			if strings.HasPrefix(tg.URL, "ws://") || strings.HasPrefix(tg.URL, "wss://") {
				tg.Source = "websocket"
			} else {
				tg.Source = "rest"
			}
		}
	}
	return &cfg, nil
}
