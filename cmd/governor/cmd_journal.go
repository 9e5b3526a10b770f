package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/executor"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/wal"
)

var (
	journalSince      string
	journalUnfinished bool
	journalJSON       bool
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the remediation journal",
}

var journalReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Print journaled remediation attempts",
	Long: `Replay prints every remediation step written to the journal, in order.

With --unfinished only attempts that started but never finished are shown:
the process stopped while the member account call was in flight, so the
resource must be checked by hand.`,
	Example: `  governor journal replay --since 24h
  governor journal replay --unfinished --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		since, err := parseTimeArg(journalSince, time.Now())
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}

		a := newApp(cfg)
		attempts, err := executor.ReadJournal(cfg.Journal.Dir, a.journalConfig(), since)
		if err != nil {
			return fmt.Errorf("failed to read journal: %w", err)
		}
		if journalUnfinished {
			attempts = executor.Unfinished(attempts)
		}

		if journalJSON {
			return printJSON(cmd.OutOrStdout(), attempts)
		}
		return printAttempts(cmd.OutOrStdout(), attempts)
	},
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show journal statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a := newApp(cfg)
		stats := wal.GetStatsFromDir(cfg.Journal.Dir, a.journalConfig())
		return printJournalStats(cmd.OutOrStdout(), cfg.Journal.Dir, stats)
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalReplayCmd, journalStatsCmd)

	journalReplayCmd.Flags().StringVar(&journalSince, "since", "", "Only entries after this time (RFC 3339 or lookback such as 24h)")
	journalReplayCmd.Flags().BoolVar(&journalUnfinished, "unfinished", false, "Only attempts without a terminal entry")
	journalReplayCmd.Flags().BoolVar(&journalJSON, "json", false, "Print JSON")
}

func printAttempts(out io.Writer, attempts []executor.Attempt) error {
	if len(attempts) == 0 {
		fmt.Fprintln(out, "No journal entries found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tTYPE\tACCOUNT\tRESOURCE\tRULE\tACTION\tDETAIL")
	for _, a := range attempts {
		detail := a.Detail
		if a.Error != "" && detail == "" {
			detail = a.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.Sequence, a.Timestamp.UTC().Format(time.RFC3339), a.Type,
			a.AccountID, a.ResourceID, a.RuleName, a.Action, detail)
	}
	return tw.Flush()
}

func printJournalStats(out io.Writer, dir string, stats wal.Stats) error {
	fmt.Fprintf(out, "Journal: %s\n", dir)
	fmt.Fprintf(out, "  Files:     %d (%d bytes)\n", stats.TotalFiles, stats.TotalSizeBytes)
	if stats.TotalFiles == 0 {
		return nil
	}
	fmt.Fprintf(out, "  Oldest:    %s\n", stats.OldestFile.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "  Newest:    %s\n", stats.NewestFile.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "  Sequences: %d-%d\n", stats.FirstSequence, stats.LastSequence)

	entryTypes := make([]string, 0, len(stats.EntriesByType))
	for t := range stats.EntriesByType {
		entryTypes = append(entryTypes, string(t))
	}
	sort.Strings(entryTypes)
	for _, t := range entryTypes {
		fmt.Fprintf(out, "  %-11s%d\n", t+":", stats.EntriesByType[wal.EntryType(t)])
	}
	return nil
}
