package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/leafcheck/leafcheck/internal/retrieval"
)

// GenAIGenerator implements Generator with a Gemini model. The model only
// sees the assembled evidence chunks and must cite them by id; uncited or
// invented chunk ids are dropped downstream by the audit containment check.
type GenAIGenerator struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGenAIGenerator creates a generator using the given model.
func NewGenAIGenerator(client *genai.Client, model string, logger *slog.Logger) *GenAIGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenAIGenerator{client: client, model: model, logger: logger}
}

type generatorPayload struct {
	Diagnosis     string  `json:"diagnosis"`
	ConditionType string  `json:"conditionType"`
	Confidence    float64 `json:"confidence"`
	Actions       []struct {
		Text   string `json:"text"`
		Timing string `json:"timing"`
	} `json:"actions"`
	Citations []struct {
		ChunkID   string  `json:"chunkId"`
		Relevance float64 `json:"relevance"`
	} `json:"citations"`
}

// Generate implements Generator.
func (g *GenAIGenerator) Generate(ctx context.Context, in retrieval.Input, evidence retrieval.Context) (Recommendation, error) {
	prompt := buildGeneratorPrompt(in, evidence)

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"})
	if err != nil {
		return Recommendation{}, fmt.Errorf("recommendation generation call: %w", err)
	}

	raw := strings.TrimSpace(resp.Text())
	var payload generatorPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Recommendation{}, fmt.Errorf("parsing generator output: %w", err)
	}

	rec := Recommendation{
		InputID:       in.ID,
		Diagnosis:     payload.Diagnosis,
		ConditionType: payload.ConditionType,
		Confidence:    clampConfidence(payload.Confidence),
	}
	for _, a := range payload.Actions {
		rec.Actions = append(rec.Actions, Action{Text: a.Text, Timing: a.Timing})
	}
	for _, c := range payload.Citations {
		rec.Sources = append(rec.Sources, CitedChunk{ChunkID: c.ChunkID, Relevance: c.Relevance})
	}
	return rec, nil
}

func buildGeneratorPrompt(in retrieval.Input, evidence retrieval.Context) string {
	var sb strings.Builder
	sb.WriteString("You are an agronomy advisor. Diagnose the crop problem below ")
	sb.WriteString("using ONLY the numbered evidence chunks, and cite every chunk you rely on by its id.\n\n")

	sb.WriteString("Problem:\n")
	if in.Crop != "" {
		fmt.Fprintf(&sb, "Crop: %s\n", in.Crop)
	}
	if in.GrowthStage != "" {
		fmt.Fprintf(&sb, "Growth stage: %s\n", in.GrowthStage)
	}
	if in.Location != "" {
		fmt.Fprintf(&sb, "Location: %s\n", in.Location)
	}
	if in.Description != "" {
		fmt.Fprintf(&sb, "Observed: %s\n", in.Description)
	}
	if len(in.LabValues) > 0 {
		sb.WriteString("Lab values:\n")
		for _, k := range sortedLabKeys(in.LabValues) {
			fmt.Fprintf(&sb, "  %s = %.2f\n", k, in.LabValues[k])
		}
	}

	sb.WriteString("\nEvidence:\n")
	for _, sc := range evidence.Chunks {
		fmt.Fprintf(&sb, "[%s] (%s, %s) %s\n", sc.Chunk.ID, sc.Source.Title, sc.Chunk.Kind, sc.Chunk.Content)
	}

	sb.WriteString("\nRespond with JSON only: ")
	sb.WriteString(`{"diagnosis": "...", "conditionType": "nutrient-deficiency|disease|pest|water-stress|other", `)
	sb.WriteString(`"confidence": <0-1>, "actions": [{"text": "...", "timing": "..."}], `)
	sb.WriteString(`"citations": [{"chunkId": "...", "relevance": <0-1>}]}`)
	return sb.String()
}

func sortedLabKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
