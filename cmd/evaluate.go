package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leafcheck/leafcheck/internal/audit"
	"github.com/leafcheck/leafcheck/internal/eval"
	"github.com/leafcheck/leafcheck/internal/recommend"
)

var (
	flagEvalScenarios string
	flagEvalMissedTop int
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score recommendations against a scenario file",
	Long: `Evaluate runs every scenario through the recommendation pipeline, scores
each result with the rule-based checks plus the LLM faithfulness judge,
persists the evaluations, and writes a timestamped report (JSON + Markdown)
into the results directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scenarios, err := eval.LoadScenarios(flagEvalScenarios)
		if err != nil {
			return err
		}

		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		pipeline := a.newPipeline(a.newGenerator())
		engine := a.newEngine()

		report := eval.Report{GeneratedAt: time.Now().UTC()}
		for _, sc := range scenarios {
			result, err := pipeline.Diagnose(ctx, recommend.Request{Input: sc.Input()})
			if err != nil {
				a.logger.Warn("scenario diagnosis failed, skipped",
					"scenario", sc.ID, "error", err)
				continue
			}

			// Audit writes are fire and forget; drain them so the
			// evaluation sees this recommendation's entry.
			a.auditLogger.Wait()
			auditEntry, err := latestAudit(ctx, a, result.Recommendation.ID)
			if err != nil {
				a.logger.Warn("loading audit entry failed",
					"scenario", sc.ID, "error", err)
			}

			evaluation, err := engine.Evaluate(ctx, result.Recommendation,
				&sc, auditEntry, result.Context.Chunks)
			if err != nil {
				a.logger.Warn("scenario evaluation failed, skipped",
					"scenario", sc.ID, "error", err)
				continue
			}

			report.Items = append(report.Items, eval.ReportItem{
				ScenarioID:       sc.ID,
				Crop:             sc.Crop,
				Region:           sc.Region,
				RecommendationID: result.Recommendation.ID,
				Scores:           evaluation.Scores,
				Overall:          evaluation.Overall,
				Issues:           evaluation.Issues,
			})
		}
		if len(report.Items) == 0 {
			return fmt.Errorf("no scenario produced an evaluation")
		}
		report.Aggregate()

		missed, err := a.auditStore.MostMissed(ctx, flagEvalMissedTop)
		if err != nil {
			a.logger.Warn("loading most-missed sources failed", "error", err)
		}
		report.MissedSources = missed

		jsonPath, mdPath, err := eval.WriteReports(a.cfg.ResultsDir, report)
		if err != nil {
			return err
		}
		fmt.Printf("Evaluated %d scenarios (accuracy %.2f, helpfulness %.2f)\n",
			len(report.Items), report.Aggregates.Accuracy, report.Aggregates.Helpfulness)
		fmt.Printf("Reports: %s, %s\n", jsonPath, mdPath)
		return nil
	},
}

// latestAudit returns the newest audit entry for a recommendation, or nil
// when none exists yet.
func latestAudit(ctx context.Context, a *app, recommendationID string) (*audit.Entry, error) {
	entries, err := a.auditStore.GetByRecommendation(ctx, recommendationID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func init() {
	evaluateCmd.Flags().StringVar(&flagEvalScenarios, "scenarios", "scenarios.json",
		"path to the JSON scenario file")
	evaluateCmd.Flags().IntVar(&flagEvalMissedTop, "missed-top", 10,
		"how many most-missed sources to include in the report")
	rootCmd.AddCommand(evaluateCmd)
}
