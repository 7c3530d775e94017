// Command dosefind fits dose-response models, runs multiple contrast tests
// and simulates dose-finding studies from YAML problem files.
package main

import (
	"os"

	"github.com/hammal/dosefinding/internal/config"
	"github.com/hammal/dosefinding/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the settings shared by all commands.
type app struct {
	configPath string
	cfg        *config.Config
	log        *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "dosefind",
		Short: "Dose-response modelling and multiple contrast tests",
		Long: `dosefind analyses dose-finding studies.

Every command reads a YAML problem file (or stdin for "-") and prints its
result as YAML. Settings come from --config and DOSEFIND_ environment
variables, e.g. DOSEFIND_FIT__GRID_SIZE_1D=50 or DOSEFIND_LOG__LEVEL=debug.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	root.AddCommand(
		a.fitCmd(),
		a.testCmd(),
		a.powerCmd(),
		a.simulateCmd(),
		a.mcpmodCmd(),
	)
	return root
}
