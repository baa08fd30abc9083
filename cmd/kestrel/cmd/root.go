// Package cmd provides the CLI commands for kestrel.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kestrel-social/kestrel/internal/config"
)

var cfgFile string
var devMode bool

var rootCmd = &cobra.Command{
	Use:   "kestrel",
	Short: "kestrel - autonomous social agent",
	Long: `kestrel is an autonomous social-media agent.

It exposes platform tools to MCP clients under named profiles, routes every
mutation through a policy gateway, and can run the agent loops on its own.

Quick start:
  1. Create a config file: kestrel.yaml
  2. Run: kestrel --dev serve --profile write

Configuration:
  Config is loaded from kestrel.yaml in the current directory,
  $HOME/.kestrel/, or /etc/kestrel/.

  Environment variables can override config values with the KESTREL_ prefix.
  Example: KESTREL_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Serve a tool profile over MCP (stdio or HTTP)
  autopilot   Run the discovery, mention, content and thread loops
  manifest    Print or check the tool manifest
  hash-key    Generate an API key and its hash
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./kestrel.yaml)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Enable development mode (mock provider, in-memory storage, debug logging)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// loadConfig loads the config, applies CLI overrides and validates it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
