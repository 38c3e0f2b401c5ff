package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evstation/config"
	"github.com/kilianp07/evstation/infra/logger"
)

var (
	cfgPath string
	cfg     *config.Config
	logSink io.Closer
)

var rootCmd = &cobra.Command{
	Use:               "evstation",
	Short:             "EV charging station simulator",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logSink == nil {
			return nil
		}
		return logSink.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logSink, err = logger.Configure(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
