package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leafcheck/leafcheck/internal/ranker"
)

var flagExportOutput string

var exportCmd = &cobra.Command{
	Use:   "export-training-data",
	Short: "Export retrieval feedback as reranker training data",
	Long: `Export writes one CSV row per retrieval candidate, labeled by whether
the generator cited it and how the recommendation was evaluated:

  0 = not cited
  1 = cited
  2 = cited, positive evaluation

The CSV feeds the offline LambdaRank training job. With --output - the
CSV goes to stdout so it can be piped straight into the trainer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := os.Stdout
		if flagExportOutput != "-" {
			f, err := os.Create(flagExportOutput)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		exporter := ranker.NewExporter(a.pool, a.logger.With("component", "ranker"))
		stats, err := exporter.Export(ctx, out)
		if err != nil {
			return err
		}

		if flagExportOutput != "-" {
			fmt.Printf("Exported %d rows from %d retrievals to %s\n",
				stats.Rows, stats.Audits, flagExportOutput)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&flagExportOutput, "output", "training.csv",
		"output CSV path, or - for stdout")
	rootCmd.AddCommand(exportCmd)
}
