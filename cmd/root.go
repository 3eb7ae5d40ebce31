// Package cmd implements the leafcheck command line interface.
//
// Following the pattern used by kubectl, hugo, and other standard Go CLI
// tools, all application logic is contained in the cmd package, leaving
// main.go as a minimal entry point. Commands wire their dependencies
// explicitly in setupApp so the object graph is visible in one place.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leafcheck/leafcheck/internal/log"
)

var (
	flagDebug    bool
	flagJSONLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "leafcheck",
	Short: "Leafcheck - evidence-grounded crop diagnosis",
	Long: `Leafcheck maintains a corpus of agronomy evidence (extension bulletins,
government advisories, research papers), keeps it fresh, and answers crop
problem reports with recommendations grounded in retrieved evidence.

Typical flow:

  leafcheck migrate            apply database migrations
  leafcheck discover           find new sources via search grounding
  leafcheck ingest             fetch, chunk and embed due sources
  leafcheck ask ...            diagnose one crop problem
  leafcheck evaluate ...       score recommendations against scenarios
  leafcheck loop ...           run the evaluate-revise feedback loop
  leafcheck export-training-data  dump reranker training rows as CSV`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "log in JSON format")
}

// newLogger builds the process logger from the persistent flags.
// Logs go to stderr so command output on stdout stays machine readable.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	return log.NewWithWriter(os.Stderr, log.Config{Level: level, JSON: flagJSONLogs})
}
