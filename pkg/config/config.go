package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BrokerConfig is the top-level broker configuration.
type BrokerConfig struct {
	NodeID   string
	BindAddr string
	BindPort int
	DataDir  string

	// MetricsAddr exposes the Prometheus endpoint; empty disables it.
	MetricsAddr string

	Log       LogConfig
	Storage   StorageConfig
	Group     GroupConfig
	Retention RetentionConfig
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level         string
	Format        string
	OutputFile    string
	EnableConsole bool
}

// StorageConfig tunes segment files.
type StorageConfig struct {
	MaxSegmentSize int64
	MaxSegmentAge  time.Duration
}

// GroupConfig tunes the consumer group coordinator.
type GroupConfig struct {
	JoinWindow          time.Duration
	SessionTimeout      time.Duration
	SweepInterval       time.Duration
	EmptyGroupRetention time.Duration
}

// RetentionConfig tunes log retention.
type RetentionConfig struct {
	Time          time.Duration
	Size          int64
	CheckInterval time.Duration
}

// brokerConfigYAML is the on-disk shape of the config file. Durations are
// time.ParseDuration strings ("30s", "168h").
type brokerConfigYAML struct {
	NodeID      string `yaml:"node_id"`
	BindAddr    string `yaml:"bind_addr"`
	BindPort    int    `yaml:"bind_port"`
	DataDir     string `yaml:"data_dir"`
	MetricsAddr string `yaml:"metrics_addr"`

	Log struct {
		Level         string `yaml:"level"`
		Format        string `yaml:"format"`
		OutputFile    string `yaml:"output_file"`
		EnableConsole *bool  `yaml:"enable_console"`
	} `yaml:"log"`

	Storage struct {
		MaxSegmentSize int64  `yaml:"max_segment_size"`
		MaxSegmentAge  string `yaml:"max_segment_age"`
	} `yaml:"storage"`

	Group struct {
		JoinWindow          string `yaml:"join_window"`
		SessionTimeout      string `yaml:"session_timeout"`
		SweepInterval       string `yaml:"sweep_interval"`
		EmptyGroupRetention string `yaml:"empty_group_retention"`
	} `yaml:"group"`

	Retention struct {
		Time          string `yaml:"time"`
		Size          int64  `yaml:"size"`
		CheckInterval string `yaml:"check_interval"`
	} `yaml:"retention"`
}

// DefaultBrokerConfig returns the broker defaults.
func DefaultBrokerConfig() *BrokerConfig {
	return &BrokerConfig{
		NodeID:      "broker-1",
		BindAddr:    "0.0.0.0",
		BindPort:    9092,
		DataDir:     "./data",
		MetricsAddr: "",
		Log: LogConfig{
			Level:         "info",
			Format:        "json",
			EnableConsole: true,
		},
		Storage: StorageConfig{
			MaxSegmentSize: 64 << 20,
			MaxSegmentAge:  time.Hour,
		},
		Group: GroupConfig{
			JoinWindow:          3 * time.Second,
			SessionTimeout:      30 * time.Second,
			SweepInterval:       time.Second,
			EmptyGroupRetention: time.Hour,
		},
		Retention: RetentionConfig{
			Time:          7 * 24 * time.Hour,
			Size:          1 << 30,
			CheckInterval: 5 * time.Minute,
		},
	}
}

// LoadBrokerConfig reads a YAML config file and merges it over the defaults.
// A missing file is not an error; the defaults are returned.
func LoadBrokerConfig(filename string) (*BrokerConfig, error) {
	config := DefaultBrokerConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	var raw brokerConfigYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %v", filename, err)
	}
	if err := config.apply(&raw); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %v", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// apply merges the file's explicitly set values over the defaults.
func (c *BrokerConfig) apply(raw *brokerConfigYAML) error {
	if raw.NodeID != "" {
		c.NodeID = raw.NodeID
	}
	if raw.BindAddr != "" {
		c.BindAddr = raw.BindAddr
	}
	if raw.BindPort != 0 {
		c.BindPort = raw.BindPort
	}
	if raw.DataDir != "" {
		c.DataDir = raw.DataDir
	}
	if raw.MetricsAddr != "" {
		c.MetricsAddr = raw.MetricsAddr
	}

	if raw.Log.Level != "" {
		c.Log.Level = raw.Log.Level
	}
	if raw.Log.Format != "" {
		c.Log.Format = raw.Log.Format
	}
	if raw.Log.OutputFile != "" {
		c.Log.OutputFile = raw.Log.OutputFile
	}
	if raw.Log.EnableConsole != nil {
		c.Log.EnableConsole = *raw.Log.EnableConsole
	}

	if raw.Storage.MaxSegmentSize != 0 {
		c.Storage.MaxSegmentSize = raw.Storage.MaxSegmentSize
	}
	if raw.Retention.Size != 0 {
		c.Retention.Size = raw.Retention.Size
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"storage.max_segment_age", raw.Storage.MaxSegmentAge, &c.Storage.MaxSegmentAge},
		{"group.join_window", raw.Group.JoinWindow, &c.Group.JoinWindow},
		{"group.session_timeout", raw.Group.SessionTimeout, &c.Group.SessionTimeout},
		{"group.sweep_interval", raw.Group.SweepInterval, &c.Group.SweepInterval},
		{"group.empty_group_retention", raw.Group.EmptyGroupRetention, &c.Group.EmptyGroupRetention},
		{"retention.time", raw.Retention.Time, &c.Retention.Time},
		{"retention.check_interval", raw.Retention.CheckInterval, &c.Retention.CheckInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %v", d.name, err)
		}
		*d.dst = parsed
	}

	return nil
}

// Validate rejects configurations the broker cannot run with.
func (c *BrokerConfig) Validate() error {
	if c.BindPort <= 0 || c.BindPort > 65535 {
		return fmt.Errorf("invalid bind_port %d", c.BindPort)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Storage.MaxSegmentSize <= 0 {
		return fmt.Errorf("max_segment_size must be positive")
	}
	if c.Group.JoinWindow <= 0 {
		return fmt.Errorf("join_window must be positive")
	}
	if c.Group.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive")
	}
	return nil
}
