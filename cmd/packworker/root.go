package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chapterbridge/packworker/version"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "packworker",
	Short: "GPU worker for the story-content NLP pipeline",
	Long: `Packworker claims segment jobs from the shared ledger queue and runs the
NLP pack pipeline against a local vLLM endpoint.

For each claimed segment it:
  - Fetches the raw content (subtitles, chapter HTML, or OCR JSON) from R2
  - Extracts and cleans the story text
  - Generates the structured NLP pack (summary, entities, character updates)
  - Persists each derived artifact that does not already exist

Artifacts already present are skipped, so re-running a segment is safe.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.packworker/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	rootCmd.AddCommand(versionCmd)
}

// printOutput renders command results in the selected output format.
func printOutput(v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		return yaml.NewEncoder(os.Stdout).Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}
}
