package main

import (
	"github.com/spf13/cobra"

	"github.com/chapterbridge/packworker/internal/ledger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job queue counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		counts, err := app.store.CountJobs(cmd.Context(), ledger.JobTypeSummarize)
		if err != nil {
			return err
		}
		out := make(map[string]int, len(counts))
		for status, n := range counts {
			out[string(status)] = n
		}
		return printOutput(out)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
