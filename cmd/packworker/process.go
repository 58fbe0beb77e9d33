package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chapterbridge/packworker/internal/ledger"
	"github.com/chapterbridge/packworker/internal/pipeline"
)

var (
	processSegmentID string
	processForce     bool
	processDryRun    bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one segment directly, bypassing the queue",
	Long: `Run the NLP pack pipeline for a single segment without claiming a job
from the queue. Useful for debugging a segment or re-generating its
artifacts locally.

Artifacts that already exist are skipped unless --force is given.

Examples:
  packworker process --segment-id seg-abc123
  packworker process --segment-id seg-abc123 --force
  packworker process --segment-id seg-abc123 --dry-run -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		executor, err := app.newExecutor(processDryRun)
		if err != nil {
			return err
		}

		job := &ledger.Job{
			ID:        uuid.NewString(),
			JobType:   ledger.JobTypeSummarize,
			Task:      ledger.TaskNLPPack,
			SegmentID: processSegmentID,
			Input:     ledger.JobInput{Task: ledger.TaskNLPPack, Force: processForce},
			Attempt:   1,
		}

		res := executor.Run(cmd.Context(), job)

		var out map[string]any
		if err := json.Unmarshal(res.Output, &out); err != nil {
			out = map[string]any{}
		}
		out["outcome"] = string(res.Outcome)
		if res.Err != nil {
			out["error"] = res.Err.Error()
		}
		if err := printOutput(out); err != nil {
			return err
		}

		if res.Outcome != pipeline.OutcomeSuccess {
			return fmt.Errorf("segment %s: %s", processSegmentID, res.Outcome)
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processSegmentID, "segment-id", "", "segment to process (required)")
	processCmd.Flags().BoolVar(&processForce, "force", false, "regenerate artifacts even if they exist")
	processCmd.Flags().BoolVar(&processDryRun, "dry-run", false, "run extraction and inference without persisting")
	_ = processCmd.MarkFlagRequired("segment-id")
	rootCmd.AddCommand(processCmd)
}
