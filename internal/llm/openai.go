package llm

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/barnabee/core/internal/errs"
)

// OpenAIClient adapts github.com/openai/openai-go/v2 to ChatProvider and
// Embedder, used for S4's LLM fallback and the entity resolver's Phase B
// (spec §4.5, §4.6).
type OpenAIClient struct {
	sdk            sdk.Client
	chatModel      string
	embeddingModel string
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
}

// NewOpenAIClient builds an OpenAIClient from cfg.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{
		sdk:            sdk.NewClient(opts...),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
	}
}

// CompleteJSON implements ChatProvider using the chat completions API's
// strict JSON-schema response mode, so the model's reply is guaranteed
// to parse into target.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt, schemaName string, schema map[string]any, target any) error {
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(c.chatModel),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(systemPrompt),
			sdk.UserMessage(userPrompt),
		},
		ResponseFormat: sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName,
					Schema: schema,
					Strict: sdk.Bool(true),
				},
			},
		},
	}

	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return errs.New(errs.KindTransientUpstream, "llm.CompleteJSON", "chat completion request failed", err)
	}
	if len(comp.Choices) == 0 {
		return errs.New(errs.KindTransientUpstream, "llm.CompleteJSON", "empty completion", nil)
	}

	content := comp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), target); err != nil {
		return errs.New(errs.KindCorruption, "llm.CompleteJSON", "model response did not match schema", err)
	}
	return nil
}

// Embed implements Embedder for a single text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errs.New(errs.KindTransientUpstream, "llm.Embed", "empty embedding response", nil)
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder for a batch of texts in one request.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(c.embeddingModel),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "llm.EmbedBatch", "embedding request failed", err)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			vec[j] = float32(x)
		}
		out[i] = vec
	}
	if len(out) != len(texts) {
		return nil, errs.New(errs.KindCorruption, "llm.EmbedBatch",
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(out)), nil)
	}
	return out, nil
}
