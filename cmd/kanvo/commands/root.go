package commands

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/priyankagnana/Kanvo/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kanvo",
	Short: "Kanvo - kanban boards with optimistic ordering",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the command line. Errors are printed by the commands.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

// SetVersionInfo sets the version reported by --version.
func SetVersionInfo(v, c string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", v, c)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file, overridden by environment variables")
	rootCmd.AddCommand(serveCmd, initStorageCmd, repairCmd, tokenCmd)
}

// loadConfig reads the configuration and applies the log level.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	return cfg, nil
}
