package narrative

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	c      *sdk.Client
	models models
}

func NewOpenAI(apiKey, baseURL string, m models, opts ...option.RequestOption) *OpenAI {
	all := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(3),
	}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	c := sdk.NewClient(all...)
	return &OpenAI{c: &c, models: m}
}

func (o *OpenAI) Complete(ctx context.Context, prompt string, maxOutputTokens int, tier Tier) (string, error) {
	res, err := o.c.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(o.models.forTier(tier)),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage(prompt),
		},
		MaxCompletionTokens: sdk.Int(int64(maxOutputTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return strings.TrimSpace(res.Choices[0].Message.Content), nil
}
