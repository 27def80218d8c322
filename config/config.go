package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"calibervault/native/custody"
)

// Telemetry captures the OTLP exporter knobs.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

type Config struct {
	RPCAddress            string    `toml:"RPCAddress"`
	GatewayAddress        string    `toml:"GatewayAddress"`
	DataDir               string    `toml:"DataDir"`
	NetworkName           string    `toml:"NetworkName"`
	Env                   string    `toml:"Env"`
	TransferWindowSeconds uint64    `toml:"TransferWindowSeconds"`
	LogFile               string    `toml:"LogFile"`
	Telemetry             Telemetry `toml:"Telemetry"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown key %q", path, undecoded[0].String())
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TransferWindow converts the configured window into a duration. Zero selects
// the production default.
func (c *Config) TransferWindow() time.Duration {
	if c.TransferWindowSeconds == 0 {
		return custody.DefaultTransferWindow
	}
	return time.Duration(c.TransferWindowSeconds) * time.Second
}

func applyDefaults(cfg *Config) {
	if cfg.RPCAddress == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if cfg.GatewayAddress == "" {
		cfg.GatewayAddress = "127.0.0.1:8646"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./vault-data"
	}
	if cfg.NetworkName == "" {
		cfg.NetworkName = "caliber-local"
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
