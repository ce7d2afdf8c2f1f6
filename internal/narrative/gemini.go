package narrative

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini uses Google's Gen AI SDK against the Gemini API backend.
type Gemini struct {
	client *genai.Client
	models models
}

func NewGemini(ctx context.Context, apiKey, baseURL string, m models) (*Gemini, error) {
	cc := &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  apiKey,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{client: client, models: m}, nil
}

func (g *Gemini) Complete(ctx context.Context, prompt string, maxOutputTokens int, tier Tier) (string, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxOutputTokens),
	}
	result, err := g.client.Models.GenerateContent(ctx, g.models.forTier(tier), genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("no content in response")
	}
	return text, nil
}
