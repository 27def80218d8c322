package config

import (
	"fmt"
	"net"
	"strings"
)

var validEnvs = map[string]struct{}{
	"dev":     {},
	"staging": {},
	"prod":    {},
}

// Validate rejects configurations that would start an unusable service.
func (c *Config) Validate() error {
	if err := validateListenAddr("RPCAddress", c.RPCAddress); err != nil {
		return err
	}
	if err := validateListenAddr("GatewayAddress", c.GatewayAddress); err != nil {
		return err
	}
	if c.RPCAddress == c.GatewayAddress {
		return fmt.Errorf("config: RPCAddress and GatewayAddress must differ")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	env := strings.ToLower(strings.TrimSpace(c.Env))
	if _, ok := validEnvs[env]; !ok {
		return fmt.Errorf("config: Env must be one of dev, staging, prod; got %q", c.Env)
	}
	c.Env = env
	if c.Telemetry.Traces || c.Telemetry.Metrics {
		if strings.TrimSpace(c.Telemetry.Endpoint) == "" {
			return fmt.Errorf("config: Telemetry.Endpoint required when telemetry is enabled")
		}
	}
	return nil
}

func validateListenAddr(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("config: %s required", field)
	}
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("config: %s must be host:port: %w", field, err)
	}
	return nil
}
