package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-trust/internal/payment"
	"github.com/ovaphlow/pitchfork/service-trust/internal/plan"
)

// NewPlansCommand lists the subscription catalog.
func NewPlansCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "plans",
		Short:        "List subscription plans",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			plans := plan.All()
			return formatterFor(rootOpts, cmd).Success(plans, func(w io.Writer) {
				for _, p := range plans {
					fmt.Fprintf(w, "%-9s %-14s %6s  %s\n", p.Slug, p.Name, p.Price, strings.Join(p.Features, ", "))
				}
			})
		},
	}
}

// NewQuoteCommand prices Rocket Credits terms without touching any account.
func NewQuoteCommand(rootOpts *RootOptions) *cobra.Command {
	var planName string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price Rocket Credits terms for a plan",
	}
	cmd.PersistentFlags().StringVar(&planName, "plan", plan.DefaultSlug, "plan slug or name")

	var period int
	installment := &cobra.Command{
		Use:          "installment",
		Short:        "Monthly charge for an installment period",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuote(rootOpts, cmd, planName, payment.CreditTerms{Kind: payment.TermsInstallment, Period: period}, time.Now())
		},
	}
	installment.Flags().IntVar(&period, "period", 3, "installment months (3, 6 or 12)")

	var date, today string
	ret := &cobra.Command{
		Use:          "return",
		Short:        "Amount owed when the credit is repaid on a date",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatterFor(rootOpts, cmd)
			rd, err := time.Parse(time.DateOnly, date)
			if err != nil {
				return out.Fail(ExitCommandError, fmt.Errorf("--date %q: %w", date, payment.ErrInvalidTerms))
			}
			now := time.Now().UTC()
			if today != "" {
				if now, err = time.Parse(time.DateOnly, today); err != nil {
					return out.Fail(ExitCommandError, fmt.Errorf("--today %q: %w", today, payment.ErrInvalidTerms))
				}
			}
			return runQuote(rootOpts, cmd, planName, payment.CreditTerms{Kind: payment.TermsCredit, ReturnDate: rd}, now)
		},
	}
	ret.Flags().StringVar(&date, "date", "", "return date (YYYY-MM-DD)")
	ret.Flags().StringVar(&today, "today", "", "pricing date (YYYY-MM-DD), defaults to now")
	_ = ret.MarkFlagRequired("date")

	cmd.AddCommand(installment, ret)
	return cmd
}

func runQuote(opts *RootOptions, cmd *cobra.Command, planName string, terms payment.CreditTerms, now time.Time) error {
	out := formatterFor(opts, cmd)
	p, err := plan.Lookup(planName)
	if err != nil {
		return out.Fail(ExitFailure, err)
	}
	q, err := payment.Price(p, terms, now)
	if err != nil {
		return out.Fail(ExitFailure, err)
	}
	out.VerboseLog("priced %s as %s", p.Slug, q.Terms)
	return out.Success(q, func(w io.Writer) {
		fmt.Fprintf(w, "%s (%s)\n", q.Plan, q.Price)
		fmt.Fprintf(w, "%-12s%s\n", "terms:", q.Terms)
		if q.Period > 0 {
			fmt.Fprintf(w, "%-12s%d\n", "period:", q.Period)
		}
		if q.Days > 0 {
			fmt.Fprintf(w, "%-12s%d\n", "days:", q.Days)
		}
		fmt.Fprintf(w, "%-12s%s\n", "multiplier:", q.Multiplier)
		fmt.Fprintf(w, "%-12s%s\n", "amount:", q.Amount)
	})
}
