package dispatch

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
)

// BedrockChatProvider adapts AWS Bedrock's Claude runtime (Anthropic
// messages format) to ChatProvider, grounded in the teacher's go.mod
// dependency on aws-sdk-go-v2/service/bedrockruntime.
type BedrockChatProvider struct {
	client *bedrockruntime.Client
}

// NewBedrockChatProvider loads the default AWS config chain (env vars,
// shared config, IAM role) for the given region.
func NewBedrockChatProvider(ctx context.Context, region string) (*BedrockChatProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &BedrockChatProvider{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

type bedrockClaudeRequest struct {
	AnthropicVersion string                 `json:"anthropic_version"`
	MaxTokens        int                    `json:"max_tokens"`
	Temperature      float64                `json:"temperature,omitempty"`
	System           string                 `json:"system,omitempty"`
	Messages         []bedrockClaudeMessage `json:"messages"`
}

type bedrockClaudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockClaudeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (p *BedrockChatProvider) Chat(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	reqBody := bedrockClaudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      temperature,
		System:           systemPrompt,
		Messages:         []bedrockClaudeMessage{{Role: "user", Content: userPrompt}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return "", err
	}

	var resp bedrockClaudeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", mcperr.New(mcperr.KindBackend, "bedrock returned no content blocks")
	}
	return resp.Content[0].Text, nil
}
