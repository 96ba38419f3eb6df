package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadBrokerConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadBrokerConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.BindPort != 9092 {
		t.Errorf("expected default port 9092, got %d", cfg.BindPort)
	}
	if cfg.Group.JoinWindow != 3*time.Second {
		t.Errorf("expected default join window, got %v", cfg.Group.JoinWindow)
	}
}

func TestLoadBrokerConfigMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	content := `
node_id: broker-7
bind_port: 19092
data_dir: /tmp/kestrel-test
group:
  join_window: 5s
retention:
  size: 1048576
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg, err := LoadBrokerConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.NodeID != "broker-7" || cfg.BindPort != 19092 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Group.JoinWindow != 5*time.Second {
		t.Errorf("expected join window 5s, got %v", cfg.Group.JoinWindow)
	}
	if cfg.Retention.Size != 1<<20 {
		t.Errorf("expected retention size 1MiB, got %d", cfg.Retention.Size)
	}
	// Untouched fields keep their defaults.
	if cfg.Group.SessionTimeout != 30*time.Second {
		t.Errorf("expected default session timeout, got %v", cfg.Group.SessionTimeout)
	}
	if cfg.Storage.MaxSegmentSize != 64<<20 {
		t.Errorf("expected default segment size, got %d", cfg.Storage.MaxSegmentSize)
	}
}

func TestLoadBrokerConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	if err := os.WriteFile(path, []byte("bind_port: [not a port"), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := LoadBrokerConfig(path); err == nil {
		t.Fatal("malformed yaml should fail to load")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*BrokerConfig)
		ok     bool
	}{
		{"defaults are valid", func(c *BrokerConfig) {}, true},
		{"zero port", func(c *BrokerConfig) { c.BindPort = 0 }, false},
		{"port too large", func(c *BrokerConfig) { c.BindPort = 70000 }, false},
		{"empty data dir", func(c *BrokerConfig) { c.DataDir = "" }, false},
		{"zero segment size", func(c *BrokerConfig) { c.Storage.MaxSegmentSize = 0 }, false},
		{"zero join window", func(c *BrokerConfig) { c.Group.JoinWindow = 0 }, false},
		{"zero session timeout", func(c *BrokerConfig) { c.Group.SessionTimeout = 0 }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultBrokerConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}
