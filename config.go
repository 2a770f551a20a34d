package mapreduce

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v2"
)

// Config holds the settings a master or worker needs that are not tied
// to one run: network addresses, shared-storage location, and the
// liveness policy. It generalizes the teacher's path-only Config map
// into the full ambient settings surface.
type Config struct {
	// Shared is the directory on shared storage where all datasets'
	// outdirs live (the --shared flag / §6.3).
	Shared string `yaml:"shared"`
	// Port is the master's RPC listen port.
	Port int `yaml:"port"`
	// MetricsPort serves Prometheus metrics, separate from the RPC port.
	MetricsPort int `yaml:"metrics_port"`
	// MapTasks/ReduceTasks are the -M/-R defaults.
	MapTasks    int `yaml:"map_tasks"`
	ReduceTasks int `yaml:"reduce_tasks"`
	// PingInterval is how often the master pings each worker, given in
	// the config file as a duration string ("2s"); yaml.v2 has no
	// built-in time.Duration support, so LoadConfig parses it from
	// PingIntervalRaw after unmarshaling.
	PingInterval    time.Duration `yaml:"-"`
	PingIntervalRaw string        `yaml:"ping_interval"`
	// PingStrikes is how many consecutive ping failures mark a worker
	// dead (open question 2; default is one strike).
	PingStrikes int `yaml:"ping_strikes"`
	// LogLevel controls the hclog level ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the settings used when no config file is given.
func DefaultConfig() *Config {
	return &Config{
		Shared:          "./assets",
		Port:            7707,
		MetricsPort:     9107,
		MapTasks:        0,
		ReduceTasks:     0,
		PingInterval:    2 * time.Second,
		PingIntervalRaw: "2s",
		PingStrikes:     1,
		LogLevel:        "info",
	}
}

// LoadConfig reads a YAML config file, falling back to DefaultConfig
// for any field not present, and returns DefaultConfig unchanged if
// path does not exist.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.PingIntervalRaw != "" {
		d, err := time.ParseDuration(cfg.PingIntervalRaw)
		if err != nil {
			return nil, fmt.Errorf("mapreduce: invalid ping_interval %q: %w", cfg.PingIntervalRaw, err)
		}
		cfg.PingInterval = d
	}
	if cfg.PingStrikes < 1 {
		cfg.PingStrikes = 1
	}
	return cfg, nil
}

// NewLogger builds the root hclog.Logger for a named component (e.g.
// "master", "worker"), at the level configured in cfg.
func NewLogger(name string, cfg *Config) hclog.Logger {
	level := hclog.Info
	if cfg != nil && cfg.LogLevel != "" {
		level = hclog.LevelFromString(cfg.LogLevel)
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  name,
		Level: level,
	})
}
