// Package config loads and validates iotaudit configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/iotaudit/internal/db"
	"github.com/anstrom/iotaudit/internal/logging"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600

	defaultTickInterval   = 3 * time.Second
	defaultProbeTimeout   = 5 * time.Minute
	defaultMaxOutputBytes = 10 * 1024 * 1024
	defaultAvailabilityTT = time.Minute
	defaultAPIPort        = 8080
	maxPort               = 65535
)

// Config represents the complete application configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine" json:"engine" mapstructure:"engine"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery" mapstructure:"discovery"`
	Store     StoreConfig     `yaml:"store" json:"store" mapstructure:"store"`
	Database  db.Config       `yaml:"database" json:"database" mapstructure:"database"`
	API       APIConfig       `yaml:"api" json:"api" mapstructure:"api"`
	Logging   logging.Config  `yaml:"logging" json:"logging" mapstructure:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler" mapstructure:"scheduler"`
}

// EngineConfig controls scan job execution.
type EngineConfig struct {
	// Delay between simulated phase completions
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval" mapstructure:"tick_interval"`

	// Wall-clock budget for a single probe process
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout" mapstructure:"probe_timeout"`

	// Cap on captured stdout/stderr per probe; excess output is discarded
	MaxOutputBytes int `yaml:"max_output_bytes" json:"max_output_bytes" mapstructure:"max_output_bytes"`

	NmapPath  string   `yaml:"nmap_path" json:"nmap_path" mapstructure:"nmap_path"`
	UseSudo   bool     `yaml:"use_sudo" json:"use_sudo" mapstructure:"use_sudo"`
	ExtraArgs []string `yaml:"extra_args" json:"extra_args" mapstructure:"extra_args"`

	// How long a tool availability check result is reused
	AvailabilityTTL time.Duration `yaml:"availability_ttl" json:"availability_ttl" mapstructure:"availability_ttl"`

	// Upper bound on real scans probing at the same time
	MaxConcurrentProbes int `yaml:"max_concurrent_probes" json:"max_concurrent_probes" mapstructure:"max_concurrent_probes"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DiscoveryConfig controls subnet sweeps.
type DiscoveryConfig struct {
	Concurrency   int           `yaml:"concurrency" json:"concurrency" mapstructure:"concurrency"`
	ProbesPerSec  float64       `yaml:"probes_per_second" json:"probes_per_second" mapstructure:"probes_per_second"`
	SweepTimeout  time.Duration `yaml:"sweep_timeout" json:"sweep_timeout" mapstructure:"sweep_timeout"`
	PortTimeout   time.Duration `yaml:"port_timeout" json:"port_timeout" mapstructure:"port_timeout"`
	QuickScanPort []int         `yaml:"quick_scan_ports" json:"quick_scan_ports" mapstructure:"quick_scan_ports"`

	// Reverse DNS lookups of live hosts; DNSServer defaults to resolv.conf
	ResolveNames bool   `yaml:"resolve_names" json:"resolve_names" mapstructure:"resolve_names"`
	DNSServer    string `yaml:"dns_server" json:"dns_server" mapstructure:"dns_server"`

	// SNMP v2c community to try on live hosts; empty disables SNMP
	SNMPCommunity string        `yaml:"snmp_community" json:"snmp_community" mapstructure:"snmp_community"`
	LookupTimeout time.Duration `yaml:"lookup_timeout" json:"lookup_timeout" mapstructure:"lookup_timeout"`
}

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend  string `yaml:"backend" json:"backend" mapstructure:"backend"`
	BoltPath string `yaml:"bolt_path" json:"bolt_path" mapstructure:"bolt_path"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	ListenAddr     string        `yaml:"listen_addr" json:"listen_addr" mapstructure:"listen_addr"`
	Port           int           `yaml:"port" json:"port" mapstructure:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" json:"allowed_origins" mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" mapstructure:"write_timeout"`
	MaxRequestSize int64         `yaml:"max_request_size" json:"max_request_size" mapstructure:"max_request_size"`
	RateLimit      float64       `yaml:"rate_limit" json:"rate_limit" mapstructure:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst" json:"rate_burst" mapstructure:"rate_burst"`
}

// SchedulerConfig lists recurring scans and sweeps.
type SchedulerConfig struct {
	Enabled bool            `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Entries []ScheduleEntry `yaml:"entries" json:"entries" mapstructure:"entries"`
}

// Schedule entry kinds.
const (
	KindScan      = "scan"
	KindDiscovery = "discovery"
)

// ScheduleEntry is a single cron-driven task.
type ScheduleEntry struct {
	Name      string   `yaml:"name" json:"name" mapstructure:"name"`
	Cron      string   `yaml:"cron" json:"cron" mapstructure:"cron"`
	Kind      string   `yaml:"kind" json:"kind" mapstructure:"kind"`
	DeviceIDs []string `yaml:"device_ids" json:"device_ids" mapstructure:"device_ids"`
	Subnet    string   `yaml:"subnet" json:"subnet" mapstructure:"subnet"`
	Mode      string   `yaml:"mode" json:"mode" mapstructure:"mode"`
}

// DefaultQuickScanPorts are the ports checked on every discovered host.
var DefaultQuickScanPorts = []int{21, 22, 23, 25, 80, 443, 554, 1883, 8000, 8080, 8883, 9999}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			TickInterval:        defaultTickInterval,
			ProbeTimeout:        defaultProbeTimeout,
			MaxOutputBytes:      defaultMaxOutputBytes,
			NmapPath:            "nmap",
			AvailabilityTTL:     defaultAvailabilityTT,
			MaxConcurrentProbes: 4,
			ShutdownTimeout:     30 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Concurrency:   8,
			ProbesPerSec:  20,
			SweepTimeout:  2 * time.Minute,
			PortTimeout:   30 * time.Second,
			QuickScanPort: append([]int(nil), DefaultQuickScanPorts...),
			LookupTimeout: 2 * time.Second,
		},
		Store: StoreConfig{
			Backend:  BackendMemory,
			BoltPath: "iotaudit.db",
		},
		Database: db.DefaultConfig(),
		API: APIConfig{
			Enabled:        true,
			ListenAddr:     "127.0.0.1",
			Port:           defaultAPIPort,
			AllowedOrigins: []string{"*"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			MaxRequestSize: 1024 * 1024,
			RateLimit:      20,
			RateBurst:      40,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads configuration from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML is a superset of JSON, so .json files go through the same decoder.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(path), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine tick interval must be positive")
	}
	if c.Engine.ProbeTimeout <= 0 {
		return fmt.Errorf("engine probe timeout must be positive")
	}
	if c.Engine.MaxOutputBytes <= 0 {
		return fmt.Errorf("engine max output bytes must be positive")
	}
	if strings.TrimSpace(c.Engine.NmapPath) == "" {
		return fmt.Errorf("engine nmap path is required")
	}
	if c.Engine.MaxConcurrentProbes <= 0 {
		return fmt.Errorf("engine max concurrent probes must be positive")
	}

	if c.Discovery.Concurrency <= 0 {
		return fmt.Errorf("discovery concurrency must be positive")
	}
	if c.Discovery.ProbesPerSec < 0 {
		return fmt.Errorf("discovery probes per second cannot be negative")
	}
	for _, p := range c.Discovery.QuickScanPort {
		if p <= 0 || p > maxPort {
			return fmt.Errorf("invalid quick scan port: %d", p)
		}
	}

	validBackends := map[string]bool{
		BackendMemory:   true,
		BackendPostgres: true,
		BackendBolt:     true,
	}
	if !validBackends[c.Store.Backend] {
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}
	if c.Store.Backend == BackendBolt && c.Store.BoltPath == "" {
		return fmt.Errorf("bolt path is required for the bolt backend")
	}
	if c.Store.Backend == BackendPostgres {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > maxPort {
			return fmt.Errorf("API port must be between 1 and 65535")
		}
		if c.API.ListenAddr == "" {
			return fmt.Errorf("API listen address is required when API is enabled")
		}
	}

	validLogLevels := map[logging.LogLevel]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validLogFormats := map[logging.LogFormat]bool{
		logging.FormatText: true,
		logging.FormatJSON: true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return c.validateSchedule()
}

func (c *Config) validateSchedule() error {
	names := make(map[string]bool)
	for i, entry := range c.Scheduler.Entries {
		if entry.Name == "" {
			return fmt.Errorf("schedule entry %d: name is required", i)
		}
		if names[entry.Name] {
			return fmt.Errorf("schedule entry %q: duplicate name", entry.Name)
		}
		names[entry.Name] = true

		if entry.Cron == "" {
			return fmt.Errorf("schedule entry %q: cron expression is required", entry.Name)
		}
		switch entry.Kind {
		case KindScan:
			if len(entry.DeviceIDs) == 0 {
				return fmt.Errorf("schedule entry %q: scan entries need device_ids", entry.Name)
			}
			if entry.Mode != "" && entry.Mode != "real" && entry.Mode != "simulated" {
				return fmt.Errorf("schedule entry %q: invalid mode %q", entry.Name, entry.Mode)
			}
		case KindDiscovery:
			if entry.Subnet == "" {
				return fmt.Errorf("schedule entry %q: discovery entries need a subnet", entry.Name)
			}
		default:
			return fmt.Errorf("schedule entry %q: invalid kind %q", entry.Name, entry.Kind)
		}
	}
	return nil
}

// GetAPIAddress returns the full API listen address.
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}
