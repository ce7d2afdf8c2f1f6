package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerAPI is the subset of the Secrets Manager client we call.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Overridden in tests.
var (
	loadAWSConfig    = awsconfig.LoadDefaultConfig
	newSecretsClient = func(cfg aws.Config) SecretsManagerAPI {
		return secretsmanager.NewFromConfig(cfg)
	}
)

type secretValues struct {
	GithubToken     string `json:"github_token"`
	AnthropicAPIKey string `json:"anthropic_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key"`
	GeminiAPIKey    string `json:"gemini_api_key"`
	DBURL           string `json:"db_url"`
}

// applySecrets fills credentials the environment left empty from the JSON secret named by AWSSecretID.
func applySecrets(ctx context.Context, cfg *Config) error {
	awsCfg, err := loadAWSConfig(ctx)
	if err != nil {
		return fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	result, err := newSecretsClient(awsCfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(cfg.AWSSecretID),
	})
	if err != nil {
		return fmt.Errorf("failed to retrieve secret %s: %w", cfg.AWSSecretID, err)
	}
	if result.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", cfg.AWSSecretID)
	}

	var s secretValues
	if err := json.Unmarshal([]byte(*result.SecretString), &s); err != nil {
		return fmt.Errorf("failed to unmarshal secret string: %w", err)
	}

	fill(&cfg.GithubToken, s.GithubToken)
	fill(&cfg.AnthropicAPIKey, s.AnthropicAPIKey)
	fill(&cfg.OpenAIAPIKey, s.OpenAIAPIKey)
	fill(&cfg.GeminiAPIKey, s.GeminiAPIKey)
	fill(&cfg.DBURL, s.DBURL)
	return nil
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
