// Package commands implements the CLI commands for mictl.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/micloud/internal/cli/output"
	"github.com/marmos91/micloud/internal/logger"
	"github.com/marmos91/micloud/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Global flag values synced in PersistentPreRunE.
var (
	flagConfig  string
	flagRegion  string
	flagOutput  string
	flagNoColor bool
	flagVerbose bool
)

// Shared state built once per invocation.
var (
	cfg     *config.Config
	printer *output.Printer
)

// rootCmd runs the interactive Mi Cloud session when called without any
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "mictl",
	Short: "Mi Cloud control - interactive Xiaomi device client",
	Long: `mictl is an interactive terminal client for the Xiaomi Mi Cloud.

Running it without a subcommand starts an interactive session: pick a
region, log in to your Xiaomi account (CAPTCHA and two-factor prompts are
handled inline), then browse your devices and control them or send raw
miIO commands.

Use "mictl [command] --help" for more information about a command.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runSession,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads the configuration, applies flag overrides and configures the
// logger and printer every command uses.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	cfg = loaded

	if flagRegion != "" {
		cfg.Region = flagRegion
	}
	if flagOutput != "" {
		cfg.Output = flagOutput
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if flagVerbose {
		logCfg.Level = "DEBUG"
	}
	if err := logger.Setup(logCfg); err != nil {
		return err
	}

	format, err := output.ParseFormat(cfg.Output)
	if err != nil {
		return err
	}
	printer = output.NewPrinter(os.Stdout, format, !flagNoColor)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/.config/mictl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagRegion, "region", "", "Mi Cloud region tag (cn|ru|us|i2|tw|sg|de)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(regionsCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
