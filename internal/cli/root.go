// Package cli is the operator command line for the trust subsystem.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-trust/internal/app"
	"github.com/ovaphlow/pitchfork/service-trust/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Build opens the subsystem for commands that touch accounts.
	// Tests replace it with an in-memory App.
	Build func(ctx context.Context, opts *RootOptions) (*app.App, error)
}

// ErrEphemeralStore refuses account commands on the memory backend, which
// starts empty and is discarded when the command exits.
var ErrEphemeralStore = errors.New("account commands need a persistent STORE_BACKEND (postgres, sqlite or redis), memory starts empty and is lost on exit")

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for trustctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Build: buildFromEnv})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trustctl",
		Short: "trustctl - account trust operations",
		Long:  "Inspect accounts, adjust trust classification and price Rocket Credits terms.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewAccountsCommand(opts))
	cmd.AddCommand(NewPlansCommand(opts))
	cmd.AddCommand(NewQuoteCommand(opts))

	return cmd
}

func buildFromEnv(ctx context.Context, opts *RootOptions) (*app.App, error) {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "config", err)
	}
	if err := requirePersistentBackend(cfg); err != nil {
		return nil, err
	}
	logger := zap.NewNop()
	if opts.Verbose {
		// development logger writes to stderr and keeps JSON output clean
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
		}
	}
	a, err := app.Build(ctx, cfg, logger.Sugar())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	return a, nil
}

func requirePersistentBackend(cfg config.Config) error {
	if cfg.Backend == config.BackendMemory {
		return WrapExitError(ExitCommandError, "config", ErrEphemeralStore)
	}
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func formatterFor(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
