package pinoq

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config drives a mount invocation.
type Config struct {
	// Volume is the path of the formatted volume file.
	Volume string `yaml:"volume"`
	// Mount is the directory to mount on; it must already exist.
	Mount string `yaml:"mount"`

	Options MountOptions `yaml:"options"`
}

type MountOptions struct {
	AllowOther bool `yaml:"allow_other"`
	ReadOnly   bool `yaml:"read_only"`
}

// LoadConfig parses the YAML mount config at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config %s: %v", ErrInvalidArg, path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", ErrInvalidArg, err)
	}
	if cfg.Volume == "" || cfg.Mount == "" {
		return nil, fmt.Errorf("%w: config must name a volume and a mount point", ErrInvalidArg)
	}
	return cfg, nil
}
