package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/flockml/flock/pkg/fsdk"
)

type contextKey string

const configContextKey contextKey = "flockconfig"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "flockctl",
		Short: "CLI for interacting with the flock coordinator (auth, jobs)",
		Long: `flockctl is a small command-line tool for interacting with a running
flock coordinator API. Use login to obtain a session token, then the jobs
subcommands to inspect, start, and stop federated training jobs.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fsdk.LoadConfig(cfgFile)
			if err != nil {
				return err
			}

			if err := cfg.Viper().BindPFlags(cmd.Flags()); err != nil {
				return err
			}

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			cmd.SetContext(ctx)

			return nil
		},
	}
)

// GetConfig retrieves the Config from the command context
func GetConfig(cmd *cobra.Command) (*fsdk.Config, error) {
	cfg, ok := cmd.Context().Value(configContextKey).(*fsdk.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

// newClient builds an API client carrying whatever token the keyring holds
// for the configured coordinator.
func newClient(cmd *cobra.Command) (*fsdk.Client, error) {
	cfg, err := GetConfig(cmd)
	if err != nil {
		return nil, err
	}
	token, _ := fsdk.LoadToken(cfg.BaseURL)
	return fsdk.NewClient(cfg.BaseURL, token), nil
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Searches: flock.yaml, .flock/config.yaml")
	rootCmd.PersistentFlags().String("base-url", "", "Base URL for the flock coordinator (overrides config)")
}
