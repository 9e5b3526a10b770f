package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/orchestrator"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "Process compliance notifications from files",
	Long: `Run one or more compliance change notifications through the full
pipeline, exactly as the queue consumer would on their final delivery.
Use "-" to read a single notification from stdin.

A notification already in the ledger is reported as a duplicate and
nothing is done twice.`,
	Example: `  governor process event.json
  aws sqs receive-message ... | jq -r '.Messages[0].Body' | governor process -`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a := newApp(cfg)
	defer func() { _ = a.Close() }()

	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Notify.SendTimeout)
		defer cancel()
		_ = p.dispatcher.Close(drainCtx)
	}()

	failed := 0
	for _, path := range args {
		if err := processFile(ctx, cmd.OutOrStdout(), p.orchestrator, path); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d notification(s) failed", failed, len(args))
	}
	return nil
}

// rawProcessor is the part of the orchestrator process needs
type rawProcessor interface {
	ProcessRaw(ctx context.Context, raw []byte, delivery orchestrator.Delivery) (*orchestrator.Result, error)
}

func processFile(ctx context.Context, out io.Writer, processor rawProcessor, path string) error {
	raw, err := readInput(path)
	if err != nil {
		return err
	}

	result, err := processor.ProcessRaw(ctx, raw, orchestrator.Delivery{ReceiveCount: 1})
	if err != nil {
		return err
	}
	return printJSON(out, processOutput{
		File:      path,
		Key:       result.Key.String(),
		Duplicate: result.Duplicate,
		Duration:  result.Duration.Round(time.Millisecond).String(),
		Record:    result.Record,
	})
}

type processOutput struct {
	File      string              `json:"file"`
	Key       string              `json:"key"`
	Duplicate bool                `json:"duplicate"`
	Duration  string              `json:"duration"`
	Record    *types.LedgerRecord `json:"record,omitempty"`
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read notification: %w", err)
	}
	return data, nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
