package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config is the CLI configuration. File fields live in
// ~/.citymatch/config.toml; every field can be overridden by a CITYMATCH_*
// environment variable.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
	Runtime ConfigRuntime `toml:"-"`
}

// ConfigDefault holds general SDK settings.
type ConfigDefault struct {
	BaseURL   string `toml:"base_url" env:"BASE_URL"`
	LogLevel  string `toml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `toml:"log_format" env:"LOG_FORMAT"`
}

// ConfigAuth holds the caller's credentials.
type ConfigAuth struct {
	Token  string `toml:"token" env:"TOKEN"`
	UserID string `toml:"user_id" env:"USER_ID"`
}

// ConfigRuntime is read from the environment only and never written to disk.
type ConfigRuntime struct {
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"30s"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
}

const envPrefix = "CITYMATCH_"

// ============================================================================
// Config file
// ============================================================================

// configPath returns the config file location. CITYMATCH_CONFIG names the
// file directly.
func configPath() (string, error) {
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".citymatch", "config.toml"), nil
}

// readConfig decodes the config file without environment overrides. Unknown
// keys are rejected so a typo in a key does not silently fall back to the
// default. A missing file yields an empty Config.
func readConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("cannot parse config %s: unknown key\n%s", path, strict.String())
		}
		return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// loadConfig returns the effective configuration: the file with CITYMATCH_*
// environment variables applied on top.
func loadConfig() (*Config, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	return cfg, nil
}

// saveConfig writes the file fields of cfg. The file is replaced atomically
// so a crash mid-write cannot leave a truncated config with the token lost.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "auth.token").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. auth.token)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "log_level":
			cfg.Default.LogLevel = value
		case "log_format":
			if value != "json" && value != "console" {
				return fmt.Errorf("log_format must be json or console")
			}
			cfg.Default.LogFormat = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user_id":
			cfg.Auth.UserID = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:          "citymatch",
	Short:        "CityMatch CLI",
	Long:         "Command-line client for CityMatch.\nDiscover people in your city, chat, and manage your plan.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
