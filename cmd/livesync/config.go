package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/matheus3301/livesync/internal/config"
	"github.com/matheus3301/livesync/internal/profile"
	"github.com/spf13/cobra"
)

var (
	initAPIURL  string
	initPushURL string
	initUserID  string
	initToken   string
	initForce   bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configCheckCmd)

	f := configInitCmd.Flags()
	f.StringVar(&initAPIURL, "api-url", "", "REST base URL (http or https)")
	f.StringVar(&initPushURL, "push-url", "", "push channel URL (ws or wss)")
	f.StringVar(&initUserID, "user", "", "user id to connect as")
	f.StringVar(&initToken, "token", "", "bearer token")
	f.BoolVar(&initForce, "force", false, "overwrite an existing profile config")
	_ = configInitCmd.MarkFlagRequired("api-url")
	_ = configInitCmd.MarkFlagRequired("push-url")
	_ = configInitCmd.MarkFlagRequired("user")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage livesync configuration",
	Long:  "View or write the configuration in ~/.livesync/config.toml and the active profile's override file.",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the server settings for the active profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := activeProfile()
		if err != nil {
			return err
		}
		path := profile.ConfigOverridePath(name)
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		cfg := config.Default()
		cfg.Server = config.ServerConfig{
			APIURL:  initAPIURL,
			PushURL: initPushURL,
			Token:   initToken,
			UserID:  initUserID,
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := profile.EnsureDir(name); err != nil {
			return err
		}
		if err := config.Save(path, cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration files in effect",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := activeProfile()
		if err != nil {
			return err
		}
		for _, path := range []string{profile.ConfigPath(), profile.ConfigOverridePath(name)} {
			data, err := os.ReadFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				fmt.Printf("# %s (not found)\n\n", path)
				continue
			}
			if err != nil {
				return fmt.Errorf("cannot read config file: %w", err)
			}
			fmt.Printf("# %s\n%s\n", path, data)
		}
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the merged configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := activeProfile()
		if err != nil {
			return err
		}
		cfg, err := config.Load(profile.ConfigPath(), profile.ConfigOverridePath(name))
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Printf("Profile %s: configuration OK\n", name)
		return nil
	},
}
