package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/leafcheck/leafcheck/internal/recommend"
	"github.com/leafcheck/leafcheck/internal/retrieval"
)

// ActionJudgment is the judge's verdict on one recommended action.
type ActionJudgment struct {
	Action    string `json:"action"`
	Supported bool   `json:"supported"`
	Reason    string `json:"reason"`
}

// FaithfulnessResult is one faithfulness judgment: a 1–5 score, per-action
// verdicts, and the raw judge payload for the evaluation row.
type FaithfulnessResult struct {
	Score     int
	PerAction []ActionJudgment
	Raw       json.RawMessage
}

// Judge compares recommended actions against the cited evidence.
type Judge interface {
	JudgeFaithfulness(ctx context.Context, rec recommend.Recommendation, evidence []retrieval.ScoredChunk) (FaithfulnessResult, error)
}

// GenAIJudge implements Judge with a Gemini model. Every call waits on a
// per-minute token budget before going out, so batch evaluation stays under
// small-tier provider limits.
type GenAIJudge struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewGenAIJudge creates a judge limited to tokensPerMin estimated tokens.
func NewGenAIJudge(client *genai.Client, model string, tokensPerMin int, logger *slog.Logger) *GenAIJudge {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenAIJudge{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(tokensPerMin)/60, tokensPerMin),
		logger:  logger,
	}
}

type judgePayload struct {
	Faithfulness int              `json:"faithfulness"`
	PerAction    []ActionJudgment `json:"perAction"`
}

// JudgeFaithfulness implements Judge.
func (j *GenAIJudge) JudgeFaithfulness(ctx context.Context, rec recommend.Recommendation, evidence []retrieval.ScoredChunk) (FaithfulnessResult, error) {
	prompt := buildJudgePrompt(rec, evidence)

	if err := j.limiter.WaitN(ctx, estimatePromptTokens(prompt)); err != nil {
		return FaithfulnessResult{}, fmt.Errorf("waiting for judge token budget: %w", err)
	}

	resp, err := j.client.Models.GenerateContent(ctx, j.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"})
	if err != nil {
		return FaithfulnessResult{}, fmt.Errorf("faithfulness judge call: %w", err)
	}

	raw := strings.TrimSpace(resp.Text())
	var payload judgePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return FaithfulnessResult{}, fmt.Errorf("parsing judge output %q: %w", truncate(raw, 200), err)
	}

	return FaithfulnessResult{
		Score:     clampScore(payload.Faithfulness),
		PerAction: payload.PerAction,
		Raw:       json.RawMessage(raw),
	}, nil
}

func buildJudgePrompt(rec recommend.Recommendation, evidence []retrieval.ScoredChunk) string {
	cited := make(map[string]bool, len(rec.Sources))
	for _, s := range rec.Sources {
		cited[s.ChunkID] = true
	}

	var sb strings.Builder
	sb.WriteString("You are judging whether an agronomy recommendation is supported by its cited evidence.\n")
	sb.WriteString("Diagnosis: ")
	sb.WriteString(rec.Diagnosis)
	sb.WriteString("\n\nRecommended actions:\n")
	for i, a := range rec.Actions {
		fmt.Fprintf(&sb, "%d. %s", i+1, a.Text)
		if a.Timing != "" {
			fmt.Fprintf(&sb, " (timing: %s)", a.Timing)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nCited evidence:\n")
	for _, sc := range evidence {
		if !cited[sc.Chunk.ID] {
			continue
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", sc.Source.Title, sc.Chunk.Content)
	}

	sb.WriteString("\nScore faithfulness 1-5 (5 = every claim supported by the evidence). ")
	sb.WriteString(`Respond with JSON only: {"faithfulness": <1-5>, "perAction": [{"action": "...", "supported": true, "reason": "..."}]}`)
	return sb.String()
}

func estimatePromptTokens(prompt string) int {
	n := len(prompt) / 4
	if n < 1 {
		return 1
	}
	return n
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
