// Package config loads a node's static configuration from a YAML file,
// the way the teacher's cluster-config loader does it, using
// gopkg.in/yaml.v3 rather than hand-rolled flag parsing.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is everything needed to bring a Node up: its own name and
// cookie, the epmd it should register with, and the peers to dial on
// startup.
type Config struct {
	Name       string        `yaml:"name"`
	Cookie     string        `yaml:"cookie"`
	ListenAddr string        `yaml:"listen_addr"`
	EPMDHost   string        `yaml:"epmd_host"`
	EPMDPort   int           `yaml:"epmd_port"`
	TickTime   time.Duration `yaml:"tick_time"`
	Peers      []string      `yaml:"peers"`
}

// defaults applied to zero-valued fields after parsing.
const (
	defaultListenAddr = ":0"
	defaultEPMDHost   = "localhost"
	defaultTickTime   = 15 * time.Second
)

// Load reads and parses a Config from path, filling unset fields with
// defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: read %s", path)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrapf(err, "config: parse %s", path)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.EPMDHost == "" {
		c.EPMDHost = defaultEPMDHost
	}
	if c.TickTime == 0 {
		c.TickTime = defaultTickTime
	}
}

func (c *Config) validate() error {
	if c.Name == "" {
		return errors.New("config: name is required")
	}
	return nil
}
