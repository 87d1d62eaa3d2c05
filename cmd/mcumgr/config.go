package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transfer"
)

// Transport names.
const (
	transportSim = "sim"
	transportUDP = "udp"
)

// Config is the CLI configuration file. Command-line flags override it.
type Config struct {
	Transport      string    `yaml:"transport" toml:"transport"`
	Address        string    `yaml:"address" toml:"address"`
	Scheme         string    `yaml:"scheme" toml:"scheme"`
	Mtu            int       `yaml:"mtu" toml:"mtu"`
	Timeout        string    `yaml:"timeout" toml:"timeout"`
	MaxMtuRestarts *int      `yaml:"max_mtu_restarts" toml:"max_mtu_restarts"`
	Log            LogConfig `yaml:"log" toml:"log"`
}

// LogConfig selects the diagnostic log output.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

func defaultCLIConfig() Config {
	return Config{
		Transport: transportSim,
		Scheme:    protocol.SchemeBLE.String(),
		Timeout:   "5s",
		Log:       LogConfig{Level: "warn", Format: "console"},
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} with environment values.
// Unset variables without a default expand to the empty string.
func expandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		return groups[2]
	})
}

// loadConfig reads a YAML or, for .toml files, TOML configuration on top of
// the defaults. An empty path returns the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultCLIConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("config file not found: %s", path)
		}
		return cfg, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	expanded := expandEnv(string(data))

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return cfg, fmt.Errorf("invalid TOML in %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Transport {
	case transportSim, transportUDP:
	default:
		return fmt.Errorf("unknown transport %q (must be sim or udp)", c.Transport)
	}
	if c.Transport == transportUDP && c.Address == "" {
		return fmt.Errorf("udp transport requires an address")
	}
	if _, err := protocol.ParseScheme(c.Scheme); err != nil {
		return err
	}
	if c.Mtu != 0 && (c.Mtu < protocol.MinMtu || c.Mtu > protocol.MaxMtu) {
		return fmt.Errorf("mtu %d out of range %d-%d", c.Mtu, protocol.MinMtu, protocol.MaxMtu)
	}
	if _, err := c.timeout(); err != nil {
		return err
	}
	return nil
}

func (c Config) timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parse timeout: %w", err)
	}
	return d, nil
}

func (c Config) maxMtuRestarts() int {
	if c.MaxMtuRestarts == nil {
		return transfer.DefaultMaxMtuRestarts
	}
	return *c.MaxMtuRestarts
}
