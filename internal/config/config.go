// Package config handles configuration loading and management for corefuzz.
package config

import (
	"os"
	"time"

	"github.com/corefuzz/corefuzz/internal/errs"
	"gopkg.in/yaml.v3"
)

// Config is the global configuration for a corefuzz run.
type Config struct {
	Target    TargetConfig    `yaml:"target"`
	Engine    EngineConfig    `yaml:"engine"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Output    OutputConfig    `yaml:"output"`
}

// TargetConfig names the harness binary and its static seed/dictionary
// inputs.
type TargetConfig struct {
	Harness    string   `yaml:"harness"`
	InputDirs  []string `yaml:"input_dirs"`
	OutputDir  string   `yaml:"output_dir"`
	Dictionary []string `yaml:"dictionary"`
}

// EngineConfig controls the in-process executor and mutator.
type EngineConfig struct {
	Cores        string        `yaml:"cores"` // "all" or an AFL-style core list, e.g. "0-3,5"
	Timeout      time.Duration `yaml:"timeout"`
	MaxInputSize int           `yaml:"max_input_size"`
	MapSize      int           `yaml:"map_size"`
	HavocStack   int           `yaml:"havoc_stack"`
}

// ScheduleConfig selects the corpus scheduling strategy.
type ScheduleConfig struct {
	Strategy string `yaml:"strategy"` // explore, exploit, fast, coe, lin, quad
	Minimize bool   `yaml:"minimize"` // wrap with the favored-set minimizer
}

// ClusterConfig configures the multi-machine event bus topology.
type ClusterConfig struct {
	BrokerPort       int    `yaml:"broker_port"`
	RemoteBroker     string `yaml:"remote_broker"`
	ParentAddr       string `yaml:"parent_addr"`
	NodeListeningPort int   `yaml:"node_listening_port"`
}

// OutputConfig controls logging/monitor verbosity and presentation.
type OutputConfig struct {
	Verbose   bool `yaml:"verbose"`
	EnableTUI bool `yaml:"enable_tui"`
	EnableWeb bool `yaml:"enable_web"`
	WebPort   int  `yaml:"web_port"`
}

// DefaultConfig returns the configuration a bare `corefuzz` invocation
// starts from before flags/file overrides apply.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Cores:        "all",
			Timeout:      10 * time.Second,
			MaxInputSize: 1 << 20,
			MapSize:      65536,
			HavocStack:   4,
		},
		Schedule: ScheduleConfig{
			Strategy: "fast",
			Minimize: true,
		},
		Cluster: ClusterConfig{
			BrokerPort: 1337,
		},
		Output: OutputConfig{
			EnableTUI: true,
		},
	}
}

// Load reads and merges a YAML config file over DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "read config file", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(errs.Serialize, "parse config file", err)
	}
	return cfg, nil
}
