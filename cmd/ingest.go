package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leafcheck/leafcheck/internal/ingest"
)

var flagWatch bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest due sources: fetch, section, chunk, embed",
	Long: `Ingest claims the batch of sources whose freshness window has elapsed,
fetches each document, splits it into sections and chunks, embeds the
chunks, and stores them for retrieval.

With --watch the worker keeps running, re-checking for due sources on a
fixed interval until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		worker := a.newIngestWorker()

		if flagWatch {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sched := ingest.NewScheduler(worker, a.logger.With("component", "scheduler"))
			sched.Run(ctx)
			return nil
		}

		stats, err := worker.Run(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Printf("Ingestion run: %d claimed, %d completed, %d empty, %d failed, %d chunks\n",
			stats.Claimed, stats.Completed, stats.Empty, stats.Failed, stats.Chunks)
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&flagWatch, "watch", false,
		"keep running and re-ingest on a fixed interval")
	rootCmd.AddCommand(ingestCmd)
}
