package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-trust/internal/admin"
	"github.com/ovaphlow/pitchfork/service-trust/internal/app"
	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
)

// NewAccountsCommand groups the operator's account commands. They act
// with shell-level authority and bypass the admin role check.
func NewAccountsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and reclassify accounts",
	}
	cmd.AddCommand(newAccountsListCommand(rootOpts))
	cmd.AddCommand(newBadListCommand(rootOpts))
	cmd.AddCommand(newMarkBadCommand(rootOpts))
	cmd.AddCommand(newMarkGoodCommand(rootOpts))
	cmd.AddCommand(newIncreaseRiskCommand(rootOpts))
	return cmd
}

// withApp opens the subsystem for the duration of fn.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := opts.Build(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newAccountsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List every account with status and risk score",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatterFor(opts, cmd)
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				accounts, err := a.Engine.Accounts(ctx)
				if err != nil {
					return out.Fail(ExitCommandError, err)
				}
				rows := make([]admin.AccountSummary, 0, len(accounts))
				for _, acc := range accounts {
					rows = append(rows, admin.AccountSummary{View: acc.View(), Key: acc.Key, Version: acc.Version, UpdatedAt: acc.UpdatedAt})
				}
				return out.Success(rows, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "EMAIL\tROLE\tSTATUS\tRISK\tREASON")
					for _, r := range rows {
						reason := ""
						if r.SuspensionReason != nil {
							reason = *r.SuspensionReason
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.Key, r.Role, r.Status, r.RiskScore, reason)
					}
					_ = tw.Flush()
				})
			})
		},
	}
}

func newBadListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "bad-list",
		Short:        "Print the identities currently classified bad",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatterFor(opts, cmd)
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				bad, err := a.Engine.BadList(ctx)
				if err != nil {
					return out.Fail(ExitCommandError, err)
				}
				return out.Success(map[string][]string{"bad_users": bad}, func(w io.Writer) {
					for _, email := range bad {
						fmt.Fprintln(w, email)
					}
				})
			})
		},
	}
}

func newMarkBadCommand(opts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:          "mark-bad <email>",
		Short:        "Suspend an account and end its sessions on their next request",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatterFor(opts, cmd)
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				found, err := a.Engine.MarkBad(ctx, args[0], reason)
				return reportChange(ctx, out, a, args[0], found, err)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", admin.DefaultReason, "suspension reason")
	return cmd
}

func newMarkGoodCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "mark-good <email>",
		Short:        "Reinstate an account and lower its risk score",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatterFor(opts, cmd)
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				found, err := a.Engine.MarkGood(ctx, args[0])
				return reportChange(ctx, out, a, args[0], found, err)
			})
		},
	}
}

func newIncreaseRiskCommand(opts *RootOptions) *cobra.Command {
	var points int
	cmd := &cobra.Command{
		Use:          "increase-risk <email>",
		Short:        "Add risk points; crossing the threshold suspends the account",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatterFor(opts, cmd)
			if points <= 0 {
				return out.Fail(ExitCommandError, fmt.Errorf("--points must be positive: %w", apperr.ErrIncompleteDetails))
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				found, err := a.Engine.IncreaseRisk(ctx, args[0], points)
				return reportChange(ctx, out, a, args[0], found, err)
			})
		},
	}
	cmd.Flags().IntVar(&points, "points", 10, "risk points to add")
	return cmd
}

// reportChange prints the account after a trust change.
func reportChange(ctx context.Context, out *OutputFormatter, a *app.App, email string, found bool, err error) error {
	if err != nil {
		return out.Fail(ExitCommandError, err)
	}
	if !found {
		return out.Fail(ExitFailure, fmt.Errorf("%s: %w", email, apperr.ErrNotFound))
	}
	acc, err := a.Store.Find(ctx, email)
	if err != nil {
		return out.Fail(ExitCommandError, err)
	}
	v := acc.View()
	return out.Success(v, func(w io.Writer) {
		fmt.Fprintf(w, "%s status=%s risk=%d\n", acc.Key, v.Status, v.RiskScore)
	})
}
