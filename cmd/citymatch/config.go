package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	citymatch "github.com/citymatch/citymatch-go"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// settings is the effective configuration a command runs with.
type settings struct {
	BaseURL   string
	Token     string
	UserID    citymatch.UserID
	LogLevel  string
	LogFormat string
	Timeout   time.Duration

	WebhookSecret string
}

// resolveSettings fills defaults into an effective config from loadConfig.
func resolveSettings(cfg *Config) (*settings, error) {
	timeout := cfg.Runtime.Timeout
	switch {
	case timeout == 0:
		timeout = citymatch.DefaultTimeout
	case timeout < 0:
		return nil, fmt.Errorf("%sTIMEOUT must be positive", envPrefix)
	}
	if f := cfg.Default.LogFormat; f != "" && f != "json" && f != "console" {
		return nil, fmt.Errorf("log_format must be json or console, got %q", f)
	}

	s := &settings{
		BaseURL:   firstNonEmpty(cfg.Default.BaseURL, citymatch.DefaultBaseURL),
		Token:     cfg.Auth.Token,
		UserID:    citymatch.UserID(cfg.Auth.UserID),
		LogLevel:  firstNonEmpty(cfg.Default.LogLevel, "warn"),
		LogFormat: firstNonEmpty(cfg.Default.LogFormat, "console"),
		Timeout:   timeout,

		WebhookSecret: cfg.Runtime.WebhookSecret,
	}
	return s, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CityMatch configuration",
	Long:  "View or modify the CityMatch CLI configuration stored in ~/.citymatch/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No configuration file found. Run 'citymatch init <token> --user-id <id>' to create one.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: citymatch config set default.log_level debug",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := readConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
