package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leafcheck/leafcheck/internal/discovery"
)

// Default discovery matrix. Topics cross regions; every pair becomes one
// discovery cell.
var (
	defaultTopics = []string{
		"soil-acidity", "nitrogen-deficiency", "phosphorus-deficiency",
		"potassium-deficiency", "leaf-blight", "leaf-spot", "pests",
		"irrigation", "post-harvest",
	}
	defaultRegions = []string{
		"rift-valley", "central", "western", "nyanza", "eastern", "coast",
	}
)

var (
	flagTopics  []string
	flagRegions []string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover new evidence sources via search grounding",
	Long: `Discover seeds the (topic x region) discovery matrix, claims a batch of
pending cells, and queries the search-grounded model for authoritative
sources per cell. Discovered URLs are registered as pending sources and
picked up by the next ingestion run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		grounder := discovery.NewGenAIGrounder(a.client, a.cfg.GenerationModel,
			a.logger.With("component", "grounder"))
		worker := discovery.NewWorker(
			discovery.NewStore(a.pool, a.logger.With("component", "discovery")),
			a.sources, grounder, flagTopics, flagRegions, a.cfg.DiscoveryBatch,
			a.logger.With("component", "discovery"))

		stats, err := worker.Run(ctx, time.Now().UTC())
		if err != nil {
			return err
		}

		fmt.Printf("Discovery run: %d seeded, %d reset, %d claimed, %d completed, %d failed, %d sources found\n",
			stats.Seeded, stats.Reset, stats.Claimed, stats.Completed, stats.Failed, stats.SourcesFound)
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringSliceVar(&flagTopics, "topics", defaultTopics,
		"discovery topics (comma separated)")
	discoverCmd.Flags().StringSliceVar(&flagRegions, "regions", defaultRegions,
		"discovery regions (comma separated)")
	rootCmd.AddCommand(discoverCmd)
}
