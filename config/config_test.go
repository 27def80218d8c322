package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"calibervault/native/custody"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress == "" || cfg.GatewayAddress == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Env != "dev" {
		t.Fatalf("default env = %q, want dev", cfg.Env)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if got := cfg.TransferWindow(); got != custody.DefaultTransferWindow {
		t.Fatalf("window = %v, want %v", got, custody.DefaultTransferWindow)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
RPCAddress = "0.0.0.0:9000"
GatewayAddress = "0.0.0.0:9001"
DataDir = "/var/lib/vault"
NetworkName = "caliber-test"
Env = "staging"
TransferWindowSeconds = 20
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("RPCAddress = %q", cfg.RPCAddress)
	}
	if got := cfg.TransferWindow(); got != 20*time.Second {
		t.Fatalf("window = %v, want 20s", got)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("Bogus = true\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("unknown key must be rejected")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	t.Run("env", func(t *testing.T) {
		cfg := base()
		cfg.Env = "production"
		if err := cfg.Validate(); err == nil {
			t.Fatalf("unknown env must be rejected")
		}
		cfg.Env = " Prod "
		if err := cfg.Validate(); err != nil {
			t.Fatalf("validate: %v", err)
		}
		if cfg.Env != "prod" {
			t.Fatalf("env not normalized: %q", cfg.Env)
		}
	})

	t.Run("addresses", func(t *testing.T) {
		cfg := base()
		cfg.RPCAddress = "no-port"
		if err := cfg.Validate(); err == nil {
			t.Fatalf("bad address must be rejected")
		}
		cfg = base()
		cfg.GatewayAddress = cfg.RPCAddress
		if err := cfg.Validate(); err == nil {
			t.Fatalf("colliding addresses must be rejected")
		}
	})

	t.Run("telemetry", func(t *testing.T) {
		cfg := base()
		cfg.Telemetry.Traces = true
		if err := cfg.Validate(); err == nil {
			t.Fatalf("telemetry without endpoint must be rejected")
		}
		cfg.Telemetry.Endpoint = "otel-collector:4318"
		if err := cfg.Validate(); err != nil {
			t.Fatalf("validate: %v", err)
		}
	})
}
