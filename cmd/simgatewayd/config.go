package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the gatewayd.toml configuration file, per spec.md's
// configurability additions in §9: retry limit, retry timeout, and
// liveness timeout are no longer hard-coded.
type Config struct {
	Listen struct {
		UDPAddr string `toml:"udp_addr"`
		WSAddr  string `toml:"ws_addr"`
		WSPath  string `toml:"ws_path"`
	} `toml:"listen"`

	Circuit struct {
		MaxCircuits        int `toml:"max_circuits"`
		RetryLimit         int `toml:"retry_limit"`
		RetryTimeoutMS     int `toml:"retry_timeout_ms"`
		LivenessTimeoutSec int `toml:"liveness_timeout_sec"`
	} `toml:"circuit"`

	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

// defaultConfig mirrors circuit package's own defaults so a missing or
// partial config file still produces a usable gateway.
func defaultConfig() Config {
	var c Config
	c.Listen.UDPAddr = ":9000"
	c.Listen.WSPath = "/ws"
	c.Circuit.MaxCircuits = 256
	c.Circuit.RetryLimit = 3
	c.Circuit.RetryTimeoutMS = 5000
	c.Circuit.LivenessTimeoutSec = 60
	c.Log.Level = "info"
	return c
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("simgatewayd: read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("simgatewayd: parse config %s: %w", path, err)
	}
	return cfg, nil
}
