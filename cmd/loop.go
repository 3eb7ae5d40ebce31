package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leafcheck/leafcheck/internal/eval"
	"github.com/leafcheck/leafcheck/internal/feedback"
)

var (
	flagLoopScenarios  string
	flagLoopIterations int
)

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Run the evaluate-revise feedback loop",
	Long: `Loop generates a recommendation per scenario, evaluates the batch, and
revises the worst-scoring recommendations whose gap is missed retrieval:
the unretrieved-but-relevant sources are forced into a regeneration, and
sources that measurably improve a revision earn a persistent ranking boost.

The loop stops when aggregate targets are met, when revisions stop
helping (hard plateau), or after the iteration budget.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scenarios, err := eval.LoadScenarios(flagLoopScenarios)
		if err != nil {
			return err
		}

		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		loop := feedback.NewLoop(
			a.newPipeline(a.newGenerator()),
			a.newEngine(),
			a.auditStore,
			a.auditLogger,
			feedback.NewRevisionStore(a.pool),
			a.boosts,
			feedback.NewTokenGate(a.cfg.JudgeTokensPerMin),
			feedback.Config{MaxIterations: flagLoopIterations},
			a.logger.With("component", "loop"))

		res, err := loop.Run(ctx, scenarios)
		if err != nil {
			return err
		}

		a.auditLogger.Wait()
		if missed, err := a.auditStore.MostMissed(ctx, 10); err != nil {
			a.logger.Warn("loading most-missed sources failed", "error", err)
		} else {
			res.Report.MissedSources = missed
		}

		jsonPath, mdPath, err := eval.WriteReports(a.cfg.ResultsDir, res.Report)
		if err != nil {
			return err
		}

		last := res.Iterations[len(res.Iterations)-1]
		fmt.Printf("Loop finished after %d iterations: %s (accuracy %.2f, helpfulness %.2f)\n",
			len(res.Iterations), res.Outcome, last.Accuracy, last.Helpfulness)
		if res.Outcome == feedback.OutcomeHardPlateau {
			fmt.Println("Revisions stopped helping; the corpus or prompts need human attention.")
		}
		fmt.Printf("Reports: %s, %s\n", jsonPath, mdPath)
		return nil
	},
}

func init() {
	loopCmd.Flags().StringVar(&flagLoopScenarios, "scenarios", "scenarios.json",
		"path to the JSON scenario file")
	loopCmd.Flags().IntVar(&flagLoopIterations, "iterations", feedback.DefaultMaxIterations,
		"maximum loop iterations")
	rootCmd.AddCommand(loopCmd)
}
