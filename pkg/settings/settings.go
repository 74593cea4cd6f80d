// Package settings loads the netsyncd daemon configuration.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/newtron-network/netsyncd/pkg/util"
)

// DefaultPath is where the daemon looks for its configuration file.
const DefaultPath = "/etc/sonic/netsyncd.yaml"

// Settings holds the daemon configuration. Every field has a default; a
// file only needs to name what it changes.
type Settings struct {
	// Batching
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	MaxPending   int           `yaml:"max_pending"`

	// Warm restart
	ReconciliationTimeout time.Duration `yaml:"reconciliation_timeout"`
	StateFile             string        `yaml:"state_file"`
	StateSaveInterval     time.Duration `yaml:"state_save_interval"`
	ColdStartSweep        bool          `yaml:"cold_start_sweep"`

	// Kernel events
	EventSocketBufferSize int      `yaml:"event_socket_buffer_size"`
	SentinelInterface     string   `yaml:"sentinel_interface"`
	InterfacePrefixes     []string `yaml:"interface_prefixes"`

	// APPL_DB
	RedisAddr            string        `yaml:"redis_addr"`
	RedisDB              int           `yaml:"redis_db"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval"`

	// Health
	StallThreshold     time.Duration `yaml:"stall_threshold"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	HealthInterval     time.Duration `yaml:"health_interval"`
	MetricsAddr        string        `yaml:"metrics_addr"`

	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
}

// Defaults returns the built-in configuration.
func Defaults() *Settings {
	return &Settings{
		BatchSize:             100,
		BatchTimeout:          100 * time.Millisecond,
		MaxPending:            65536,
		ReconciliationTimeout: 5 * time.Second,
		StateFile:             "/var/lib/netsyncd/state.json",
		StateSaveInterval:     60 * time.Second,
		EventSocketBufferSize: 4 << 20,
		SentinelInterface:     "lo",
		InterfacePrefixes:     []string{"Ethernet", "PortChannel", "Vlan", "Loopback"},
		RedisAddr:             "127.0.0.1:6379",
		RedisDB:               0,
		RetryInitialInterval:  100 * time.Millisecond,
		RetryMaxInterval:      5 * time.Second,
		StallThreshold:        30 * time.Second,
		ErrorRateThreshold:    0.05,
		HealthInterval:        5 * time.Second,
		MetricsAddr:           "127.0.0.1:9474",
		ShutdownGrace:         2 * time.Second,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultPath)
}

// LoadFrom reads settings from a specific path. A missing file yields the
// defaults. Unknown keys are rejected.
func LoadFrom(path string) (*Settings, error) {
	s := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %v", util.ErrInvalidConfig, path, err)
	}
	return s, nil
}

// Validate checks every field and reports all problems at once.
func (s *Settings) Validate() error {
	v := &util.ValidationBuilder{}

	v.Add(s.BatchSize > 0, "batch_size must be positive")
	v.Add(s.BatchTimeout > 0, "batch_timeout must be positive")
	v.Add(s.MaxPending >= s.BatchSize, "max_pending must be at least batch_size")
	v.Add(s.ReconciliationTimeout > 0, "reconciliation_timeout must be positive")
	v.Add(s.StateFile != "", "state_file is required")
	v.Add(s.StateSaveInterval > 0, "state_save_interval must be positive")
	v.Add(s.EventSocketBufferSize > 0, "event_socket_buffer_size must be positive")
	v.Add(s.SentinelInterface != "", "sentinel_interface is required")
	if strings.Contains(s.SentinelInterface, ":") {
		v.AddErrorf("sentinel_interface %q must not contain ':'", s.SentinelInterface)
	}
	for _, p := range s.InterfacePrefixes {
		if p == "" {
			v.AddError("interface_prefixes must not contain empty entries")
			break
		}
	}
	v.Add(s.RedisAddr != "", "redis_addr is required")
	v.Add(s.RedisDB >= 0 && s.RedisDB <= 15, "redis_db must be between 0 and 15")
	v.Add(s.RetryInitialInterval > 0, "retry_initial_interval must be positive")
	v.Add(s.RetryMaxInterval >= s.RetryInitialInterval, "retry_max_interval must be at least retry_initial_interval")
	v.Add(s.StallThreshold > 0, "stall_threshold must be positive")
	v.Add(s.ErrorRateThreshold > 0 && s.ErrorRateThreshold < 1, "error_rate_threshold must be between 0 and 1")
	v.Add(s.HealthInterval > 0, "health_interval must be positive")
	v.Add(s.ShutdownGrace > 0, "shutdown_grace must be positive")
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		v.AddErrorf("log_level: %v", err)
	}
	switch s.LogFormat {
	case "", "text", "json":
	default:
		v.AddErrorf("log_format %q must be text or json", s.LogFormat)
	}

	return v.Build()
}

// YAML renders the settings as a configuration file.
func (s *Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}
