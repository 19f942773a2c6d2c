package cascade

import (
	"context"
	"fmt"
	"strings"

	"github.com/barnabee/core/internal/llm"
)

// Stage4 is the LLM fallback (spec §4.5): the model is given the intent
// taxonomy and must answer with a structured JSON response.
type Stage4 struct {
	chat   llm.ChatProvider
	intents []string
}

// NewStage4 builds a Stage4 around a ChatProvider and the closed set of
// intent labels the model is allowed to choose from.
func NewStage4(chat llm.ChatProvider, intents []string) *Stage4 {
	return &Stage4{chat: chat, intents: intents}
}

type stage4Response struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

var stage4Schema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intent":     map[string]any{"type": "string"},
		"confidence": map[string]any{"type": "number"},
	},
	"required":             []string{"intent", "confidence"},
	"additionalProperties": false,
}

// Classify asks the LLM for the best-fitting intent label. S4 has no
// threshold of its own: its answer is the cascade's final word (spec
// §4.5), though the cascade itself may still record a low-confidence
// signal for it.
func (s *Stage4) Classify(ctx context.Context, normalizedText string) (decision, error) {
	system := fmt.Sprintf(
		"You classify a household voice assistant utterance into exactly one of these intents: %s. "+
			"Respond with your confidence in [0,1] that the label is correct.",
		strings.Join(s.intents, ", "),
	)

	var resp stage4Response
	if err := s.chat.CompleteJSON(ctx, system, normalizedText, "intent_classification", stage4Schema, &resp); err != nil {
		return decision{}, err
	}
	return decided(resp.Intent, resp.Confidence), nil
}
