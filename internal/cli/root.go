// Package cli implements the Tessera command-line interface.
//
// This package uses global variables to manage CLI state, which is the standard
// pattern for Cobra-based CLI applications. The globals are initialized in
// PersistentPreRunE and cleaned up in PersistentPostRun.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mrz1836/tessera/internal/config"
	"github.com/mrz1836/tessera/internal/output"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

var (
	// Global flags
	homeDir      string
	outputFormat string
	verbose      bool

	// Global state initialized in PersistentPreRunE
	cfg       *config.Config
	logger    *config.Logger
	formatter *output.Formatter
	cmdCtx    *CommandContext
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tessera",
	Short: "Solana wallet sign-in and signing",
	Long: `Tessera signs you in with an embedded custodial wallet or an external
Solana wallet app, and signs and broadcasts transactions with whichever
wallet is active.`,
	Example: `  tessera login email ada@example.com
  tessera login wallet --wallet phantom
  tessera wallet list
  tessera tx send <base64-transaction> --confirm`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initGlobals()
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cleanup()
	},
}

// Execute runs the root command.
func Execute() error {
	walkCommands(rootCmd, enrichParentLong)

	err := rootCmd.Execute()
	if err != nil {
		format := output.FormatText
		if formatter != nil {
			format = formatter.Format()
		}
		_ = output.FormatError(os.Stderr, err, format)
		cleanup()
		return err
	}
	return nil
}

// ExitCode returns the process exit code for an error. A cancellation by
// the user is not a failure.
func ExitCode(err error) int {
	if tserr.IsCancelled(err) {
		return tserr.ExitSuccess
	}
	return tserr.ExitCode(err)
}

// initGlobals initializes global configuration, logger, and formatter.
func initGlobals() error {
	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}

	var err error
	cfg, err = config.Load(config.Path(config.ExpandHome(home)))
	if err != nil {
		cfg = config.Defaults()
		cfg.Home = home
	}
	config.ApplyEnvironment(cfg)

	if homeDir != "" {
		cfg.Home = homeDir
	}
	if verbose {
		cfg.Output.Verbose = true
		cfg.Logging.Level = "debug"
	}
	if outputFormat != "" && outputFormat != "auto" {
		cfg.Output.DefaultFormat = outputFormat
	}

	logger, err = config.NewLogger(config.ParseLogLevel(cfg.Logging.Level), config.ExpandHome(cfg.Logging.File))
	if err != nil {
		logger = config.NullLogger()
	}
	for _, w := range cfg.Warnings {
		logger.Warn("config: %s", w)
	}

	formatter = output.NewFormatter(output.ParseFormat(cfg.Output.DefaultFormat), os.Stdout)
	cmdCtx = NewCommandContext(cfg, logger, formatter)
	return nil
}

// formatterFor writes in the selected format to the command's stdout.
func formatterFor(cmd *cobra.Command) *output.Formatter {
	format := output.FormatText
	if formatter != nil {
		format = formatter.Format()
	}
	return output.NewFormatter(format, cmd.OutOrStdout())
}

// cleanup releases resources.
func cleanup() {
	if cmdCtx != nil {
		cmdCtx.Close()
		cmdCtx = nil
	}
	if logger != nil {
		_ = logger.Close()
		logger = nil
	}
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for flag registration
func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "tessera data directory (default: ~/.tessera)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "auto", "output format: text, json, auto")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupWallet, Title: "Wallet Operations:"},
		&cobra.Group{ID: groupSecurity, Title: "Security & Access:"},
		&cobra.Group{ID: groupConfig, Title: "Configuration:"},
	)
	rootCmd.SetHelpCommandGroupID(groupConfig)
	rootCmd.SetCompletionCommandGroupID(groupConfig)
}

// Command groups shown in the root help.
const (
	groupWallet   = "wallet"
	groupSecurity = "security"
	groupConfig   = "config"
)
