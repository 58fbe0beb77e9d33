package main

import (
	"github.com/spf13/cobra"

	"github.com/chapterbridge/packworker/internal/worker"
)

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Reclaim stale job leases",
	Long: `Sweep running jobs whose lease is older than worker.lease_timeout_minutes.
Jobs with attempts remaining go back to the queue; jobs that have spent
their retry budget are failed.

The worker loop runs this sweep at startup; this command exists for
one-off cleanup while no worker is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		leases := worker.NewLeaseManager(app.store, app.cfg.Worker.MaxRetriesPerJob, app.logger)
		requeued, failed, err := leases.ReclaimStale(cmd.Context(), app.cfg.Worker.LeaseTimeout())
		if err != nil {
			return err
		}
		return printOutput(map[string]int{
			"requeued": requeued,
			"failed":   failed,
		})
	},
}

func init() {
	rootCmd.AddCommand(reclaimCmd)
}
