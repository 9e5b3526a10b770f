package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/storage"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

var (
	ledgerSince string
	ledgerUntil string
	ledgerJSON  bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Query the compliance ledger",
	Long: `Query the compliance ledger, oldest record first.

--since and --until accept RFC 3339 timestamps or a lookback such as 24h or 7d.`,
}

var ledgerResourceCmd = &cobra.Command{
	Use:   "resource <account-id> <resource-id>",
	Short: "History of one resource",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return queryLedger(cmd, func(ctx context.Context, q storage.LedgerQuerier, window types.TimeRange) ([]types.LedgerRecord, error) {
			return q.QueryByResource(ctx, args[0], args[1], window)
		})
	},
}

var ledgerRuleCmd = &cobra.Command{
	Use:   "rule <rule-name>",
	Short: "Records for one Config rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return queryLedger(cmd, func(ctx context.Context, q storage.LedgerQuerier, window types.TimeRange) ([]types.LedgerRecord, error) {
			return q.QueryByRule(ctx, args[0], window)
		})
	},
}

var ledgerComplianceCmd = &cobra.Command{
	Use:   "compliance <COMPLIANT|NON_COMPLIANT|NOT_APPLICABLE>",
	Short: "Records with one compliance type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ct, err := parseComplianceType(args[0])
		if err != nil {
			return err
		}
		return queryLedger(cmd, func(ctx context.Context, q storage.LedgerQuerier, window types.TimeRange) ([]types.LedgerRecord, error) {
			return q.QueryByCompliance(ctx, ct, window)
		})
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerResourceCmd, ledgerRuleCmd, ledgerComplianceCmd)

	ledgerCmd.PersistentFlags().StringVar(&ledgerSince, "since", "", "Earliest occurrence time")
	ledgerCmd.PersistentFlags().StringVar(&ledgerUntil, "until", "", "Latest occurrence time")
	ledgerCmd.PersistentFlags().BoolVar(&ledgerJSON, "json", false, "Print JSON")
}

type ledgerQuery func(ctx context.Context, q storage.LedgerQuerier, window types.TimeRange) ([]types.LedgerRecord, error)

func queryLedger(cmd *cobra.Command, query ledgerQuery) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now()
	window, err := parseWindow(ledgerSince, ledgerUntil, now)
	if err != nil {
		return err
	}

	a := newApp(cfg)
	defer func() { _ = a.Close() }()

	ledger, _, err := a.stores(ctx)
	if err != nil {
		return err
	}

	records, err := query(ctx, ledger, window)
	if err != nil {
		return err
	}
	if ledgerJSON {
		return printJSON(cmd.OutOrStdout(), records)
	}
	return printLedgerTable(cmd.OutOrStdout(), records)
}

func parseWindow(since, until string, now time.Time) (types.TimeRange, error) {
	var window types.TimeRange
	var err error
	if window.From, err = parseTimeArg(since, now); err != nil {
		return window, fmt.Errorf("--since: %w", err)
	}
	if window.To, err = parseTimeArg(until, now); err != nil {
		return window, fmt.Errorf("--until: %w", err)
	}
	if !window.From.IsZero() && !window.To.IsZero() && window.To.Before(window.From) {
		return window, fmt.Errorf("--until is before --since")
	}
	return window, nil
}

// parseTimeArg accepts an RFC 3339 timestamp or a lookback from now
func parseTimeArg(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := types.ParseTimestamp(s); err == nil {
		return t, nil
	}
	lookback, err := parseDuration(s)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-lookback).UTC(), nil
}

func parseComplianceType(s string) (types.ComplianceType, error) {
	switch ct := types.ComplianceType(strings.ToUpper(strings.ReplaceAll(s, "-", "_"))); ct {
	case types.Compliant, types.NonCompliant, types.NotApplicable:
		return ct, nil
	}
	return "", fmt.Errorf("unknown compliance type %q", s)
}

func printLedgerTable(out io.Writer, records []types.LedgerRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No ledger records found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OCCURRED\tACCOUNT\tRESOURCE\tRULE\tCOMPLIANCE\tSEVERITY\tACTION\tDETAIL")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.OccurredAt.UTC().Format(time.RFC3339),
			rec.AccountID, rec.ResourceID, rec.RuleName,
			rec.ComplianceType, rec.Severity, rec.Action, recordDetail(rec))
	}
	return tw.Flush()
}

// recordDetail summarizes what happened beyond the action itself
func recordDetail(rec types.LedgerRecord) string {
	switch {
	case rec.ExceptionID != "":
		return "exception " + rec.ExceptionID
	case rec.Outcome != nil:
		return string(rec.Outcome.Status)
	case rec.Notification != "":
		return "notification " + rec.Notification
	}
	return ""
}
