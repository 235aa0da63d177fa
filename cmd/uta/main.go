package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/uta/internal/config"
	"github.com/fentz26/uta/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "uta",
	Short: "UTA - smartphone task automation agent",
	Long: `UTA carries out natural-language tasks on an Android phone. Each turn it reads the
screen, asks a decision oracle how the screen relates to the task, and acts on the
device until the task is finished or the turn budget runs out.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

var (
	apiAddr    string
	configPath string
	logLevel   string

	cfg *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7467", "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/uta/config.yaml or ~/.uta/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(tuiCmd)
}

// loadConfig reads the config file and applies the logging flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	cfg = c
	logging.Configure(logging.ParseLevel(cfg.Log.Level), os.Stderr)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
