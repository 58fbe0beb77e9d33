package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	enqueueSegmentIDs []string
	enqueueMissing    bool
	enqueueForce      bool
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue NLP pack jobs for segments",
	Long: `Create queued jobs on the shared ledger. Either name segments explicitly
or use --missing to enqueue every segment that has no summary or entities
row yet.

Examples:
  packworker enqueue --segment-id seg-abc123
  packworker enqueue --segment-id seg-1 --segment-id seg-2 --force
  packworker enqueue --missing`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(enqueueSegmentIDs) == 0 && !enqueueMissing {
			return errors.New("either --segment-id or --missing is required")
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()
		ctx := cmd.Context()

		segmentIDs := enqueueSegmentIDs
		if enqueueMissing {
			segments, err := app.store.ListSegmentsMissingOutputs(ctx)
			if err != nil {
				return err
			}
			for _, seg := range segments {
				segmentIDs = append(segmentIDs, seg.ID)
			}
		}

		queued := make([]string, 0, len(segmentIDs))
		for _, segID := range segmentIDs {
			job, err := app.store.EnqueueJob(ctx, segID, enqueueForce)
			if err != nil {
				return err
			}
			queued = append(queued, job.ID)
			app.logger.Info("job queued", "job_id", job.ID, "segment_id", segID)
		}

		return printOutput(map[string]any{
			"queued":  len(queued),
			"job_ids": queued,
		})
	},
}

func init() {
	enqueueCmd.Flags().StringArrayVar(&enqueueSegmentIDs, "segment-id", nil, "segment to enqueue (repeatable)")
	enqueueCmd.Flags().BoolVar(&enqueueMissing, "missing", false, "enqueue all segments missing derived outputs")
	enqueueCmd.Flags().BoolVar(&enqueueForce, "force", false, "force artifact regeneration")
	rootCmd.AddCommand(enqueueCmd)
}
