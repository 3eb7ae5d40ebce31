package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leafcheck/leafcheck/internal/recommend"
	"github.com/leafcheck/leafcheck/internal/retrieval"
)

var (
	flagAskCrop      string
	flagAskLocation  string
	flagAskStage     string
	flagAskInputType string
	flagAskLab       []string
	flagAskJSON      bool
)

var askCmd = &cobra.Command{
	Use:   "ask <description>",
	Short: "Diagnose one crop problem from retrieved evidence",
	Example: `  leafcheck ask "yellowing between the veins on older leaves" --crop tomato --location nakuru
  leafcheck ask "poor tillering" --crop maize --input-type lab-report --lab ph=5.1 --lab nitrogen=12`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		lab, err := parseLabValues(flagAskLab)
		if err != nil {
			return err
		}

		a, err := setupApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		pipeline := a.newPipeline(a.newGenerator())
		result, err := pipeline.Diagnose(ctx, recommend.Request{
			Input: retrieval.Input{
				Description: args[0],
				Crop:        flagAskCrop,
				Location:    flagAskLocation,
				GrowthStage: flagAskStage,
				InputType:   flagAskInputType,
				LabValues:   lab,
			},
		})
		if err != nil {
			return err
		}

		if flagAskJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result.Recommendation)
		}
		printRecommendation(result)
		return nil
	},
}

func printRecommendation(result recommend.Result) {
	rec := result.Recommendation
	fmt.Printf("Diagnosis: %s (%s, confidence %.0f%%)\n\n",
		rec.Diagnosis, rec.ConditionType, rec.Confidence*100)

	fmt.Println("Actions:")
	for i, a := range rec.Actions {
		fmt.Printf("  %d. %s", i+1, a.Text)
		if a.Timing != "" {
			fmt.Printf(" - %s", a.Timing)
		}
		fmt.Println()
	}

	if len(rec.Sources) > 0 {
		cited := make(map[string]bool, len(rec.Sources))
		for _, s := range rec.Sources {
			cited[s.ChunkID] = true
		}
		fmt.Println("\nEvidence:")
		for _, sc := range result.Context.Chunks {
			if !cited[sc.Chunk.ID] {
				continue
			}
			fmt.Printf("  - %s", sc.Source.Title)
			if sc.Source.URL != "" {
				fmt.Printf(" (%s)", sc.Source.URL)
			}
			fmt.Println()
		}
	}
}

// parseLabValues parses repeated key=value flags, e.g. --lab ph=5.1.
func parseLabValues(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		key, val, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid lab value %q, want key=value", p)
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid lab value %q: %w", p, err)
		}
		out[strings.ToLower(strings.TrimSpace(key))] = f
	}
	return out, nil
}

func init() {
	askCmd.Flags().StringVar(&flagAskCrop, "crop", "", "crop name")
	askCmd.Flags().StringVar(&flagAskLocation, "location", "", "farm location or region")
	askCmd.Flags().StringVar(&flagAskStage, "stage", "", "growth stage")
	askCmd.Flags().StringVar(&flagAskInputType, "input-type", "text", "input type: text, image or lab-report")
	askCmd.Flags().StringArrayVar(&flagAskLab, "lab", nil, "lab value as key=value (repeatable)")
	askCmd.Flags().BoolVar(&flagAskJSON, "json", false, "print the recommendation as JSON")
	rootCmd.AddCommand(askCmd)
}
