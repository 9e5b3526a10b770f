package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/exception"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

var (
	excAccount       string
	excResource      string
	excRule          string
	excRequestedBy   string
	excJustification string
	excDuration      string
	excBy            string
	excReason        string
	excStatus        string
	excJSON          bool
)

var exceptionsCmd = &cobra.Command{
	Use:     "exceptions",
	Aliases: []string{"exception", "exc"},
	Short:   "Manage whitelist exceptions",
	Long: `Request, decide and inspect whitelist exceptions.

An approved, unexpired exception suppresses every action for its
account, resource and rule. Requests start PENDING and are decided once.`,
}

var excRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request an exception for a resource and rule",
	Example: `  governor exceptions request --account 111111111111 --resource data-lake-raw \
    --rule s3-bucket-logging-enabled --requested-by alice --justification "legacy bucket" --duration 30d`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		duration, err := parseDuration(excDuration)
		if err != nil {
			return err
		}
		return withWorkflow(cmd, func(ctx context.Context, w *exception.Workflow) error {
			rec, err := w.Request(ctx, exception.Request{
				AccountID:     excAccount,
				ResourceID:    excResource,
				RuleName:      excRule,
				RequestedBy:   excRequestedBy,
				Justification: excJustification,
				Duration:      duration,
			})
			if err != nil {
				return err
			}
			return printException(cmd.OutOrStdout(), rec)
		})
	},
}

var excApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending exception",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withException(cmd, args[0], func(ctx context.Context, w *exception.Workflow, key types.ExceptionKey) (*types.ExceptionRecord, error) {
			return w.Approve(ctx, key, excBy)
		})
	},
}

var excRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending exception",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withException(cmd, args[0], func(ctx context.Context, w *exception.Workflow, key types.ExceptionKey) (*types.ExceptionRecord, error) {
			return w.Reject(ctx, key, excBy, excReason)
		})
	},
}

var excExpireCmd = &cobra.Command{
	Use:   "expire [id]",
	Short: "Expire an approved exception, or every lapsed one",
	Long: `Expire marks an approved exception EXPIRED. Without an id it persists
the expiry of every approved exception whose time has passed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return withException(cmd, args[0], func(ctx context.Context, w *exception.Workflow, key types.ExceptionKey) (*types.ExceptionRecord, error) {
				return w.Expire(ctx, key)
			})
		}
		return withWorkflow(cmd, func(ctx context.Context, w *exception.Workflow) error {
			n, err := w.ExpireDue(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d exception(s)\n", n)
			return nil
		})
	},
}

var excListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exceptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withWorkflow(cmd, func(ctx context.Context, w *exception.Workflow) error {
			records, err := w.List(ctx, types.ExceptionStatus(strings.ToUpper(excStatus)))
			if err != nil {
				return err
			}
			if excJSON {
				return printJSON(cmd.OutOrStdout(), records)
			}
			return printExceptionTable(cmd.OutOrStdout(), records, time.Now())
		})
	},
}

var excDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an exception regardless of status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkflow(cmd, func(ctx context.Context, w *exception.Workflow) error {
			rec, err := w.FindByID(ctx, args[0])
			if err != nil {
				return err
			}
			if err := w.Delete(ctx, rec.Key()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted exception %s\n", rec.ID)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(exceptionsCmd)
	exceptionsCmd.AddCommand(excRequestCmd, excApproveCmd, excRejectCmd, excExpireCmd, excListCmd, excDeleteCmd)

	excRequestCmd.Flags().StringVar(&excAccount, "account", "", "Member account id")
	excRequestCmd.Flags().StringVar(&excResource, "resource", "", "Resource id")
	excRequestCmd.Flags().StringVar(&excRule, "rule", "", "Config rule name")
	excRequestCmd.Flags().StringVar(&excRequestedBy, "requested-by", "", "Requester")
	excRequestCmd.Flags().StringVar(&excJustification, "justification", "", "Business justification")
	excRequestCmd.Flags().StringVar(&excDuration, "duration", "", "Exception lifetime, e.g. 72h or 30d (default: never expires)")
	for _, name := range []string{"account", "resource", "rule", "requested-by", "justification"} {
		_ = excRequestCmd.MarkFlagRequired(name)
	}

	excApproveCmd.Flags().StringVar(&excBy, "by", "", "Approver")
	_ = excApproveCmd.MarkFlagRequired("by")

	excRejectCmd.Flags().StringVar(&excBy, "by", "", "Reviewer")
	excRejectCmd.Flags().StringVar(&excReason, "reason", "", "Rejection reason")
	_ = excRejectCmd.MarkFlagRequired("by")

	excListCmd.Flags().StringVar(&excStatus, "status", "", "Filter by status (pending, approved, rejected, expired)")
	excListCmd.Flags().BoolVar(&excJSON, "json", false, "Print JSON")
}

func withWorkflow(cmd *cobra.Command, fn func(ctx context.Context, w *exception.Workflow) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a := newApp(cfg)
	defer func() { _ = a.Close() }()

	_, exceptions, err := a.stores(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, exception.NewWorkflow(exceptions))
}

// withException resolves id and prints the record the transition returns
func withException(cmd *cobra.Command, id string, transition func(ctx context.Context, w *exception.Workflow, key types.ExceptionKey) (*types.ExceptionRecord, error)) error {
	return withWorkflow(cmd, func(ctx context.Context, w *exception.Workflow) error {
		rec, err := w.FindByID(ctx, id)
		if err != nil {
			return err
		}
		updated, err := transition(ctx, w, rec.Key())
		if err != nil {
			return err
		}
		return printException(cmd.OutOrStdout(), updated)
	})
}

func printException(out io.Writer, rec *types.ExceptionRecord) error {
	return printJSON(out, rec)
}

func printExceptionTable(out io.Writer, records []types.ExceptionRecord, now time.Time) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No exceptions found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tACCOUNT\tRESOURCE\tRULE\tREQUESTED BY\tEXPIRES")
	for _, rec := range records {
		expires := "never"
		if rec.ExpiresAt != nil {
			expires = rec.ExpiresAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.EffectiveStatus(now), rec.AccountID, rec.ResourceID, rec.RuleName, rec.RequestedBy, expires)
	}
	return tw.Flush()
}

// parseDuration accepts Go durations plus a whole-day "d" suffix
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
