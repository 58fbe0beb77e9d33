package main

import (
	"github.com/spf13/cobra"

	"github.com/chapterbridge/packworker/internal/config"
	"github.com/chapterbridge/packworker/internal/worker"
)

var workerDryRun bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job-claiming worker loop",
	Long: `Run the worker loop: claim queued segment jobs from the shared ledger,
execute the NLP pack pipeline for each, and record results.

The loop polls the queue when idle and exits cleanly on SIGINT/SIGTERM.
With worker.max_jobs_per_run set, the process exits with status 0 once the
budget is spent so a supervisor can restart it fresh.

Examples:
  packworker worker                # Run until interrupted
  packworker worker --dry-run      # Claim and process, persist nothing`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		executor, err := app.newExecutor(workerDryRun)
		if err != nil {
			return err
		}

		wcfg := app.cfg.Worker
		leases := worker.NewLeaseManager(app.store, wcfg.MaxRetriesPerJob, app.logger)
		runner := worker.NewRunner(worker.RunnerConfig{
			Leases:       leases,
			Executor:     executor,
			Logger:       app.logger,
			NumWorkers:   wcfg.NumWorkers,
			PollInterval: wcfg.PollInterval(),
			JobTimeout:   wcfg.JobTimeout(),
			LeaseTimeout: wcfg.LeaseTimeout(),
			MaxJobs:      wcfg.MaxJobsPerRun,
		})

		app.manager.OnChange(func(cfg *config.Config) {
			app.logger.Info("config file changed; worker settings apply on next start")
		})
		app.manager.WatchConfig()

		app.logger.Info("worker starting",
			"num_workers", wcfg.NumWorkers,
			"poll_interval", wcfg.PollInterval(),
			"max_jobs_per_run", wcfg.MaxJobsPerRun,
			"dry_run", workerDryRun,
		)

		ctx := cmd.Context()
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerDryRun, "dry-run", false, "run jobs without persisting artifacts")
	rootCmd.AddCommand(workerCmd)
}
