package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initUserID string

func init() {
	initCmd.Flags().StringVar(&initUserID, "user-id", "", "Your CityMatch user id")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store credentials in ~/.citymatch/config.toml",
	Long:  "Initialize the CityMatch CLI by storing your token and user id in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		if initUserID != "" {
			cfg.Auth.UserID = initUserID
		}
		if cfg.Default.LogLevel == "" {
			cfg.Default.LogLevel = "warn"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s\n", path)
		if cfg.Auth.UserID == "" {
			fmt.Println("No user id set. Run 'citymatch config set auth.user_id <id>'.")
		}
		return nil
	},
}
