package generate

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockGenerator calls Amazon Bedrock's Converse API.
type BedrockGenerator struct {
	client    *bedrockruntime.Client
	modelID   string
	maxTokens int32
}

// NewBedrockGenerator resolves AWS configuration from the environment
// (shared config, env vars, instance role) and builds a Converse
// client for the given model.
func NewBedrockGenerator(ctx context.Context, region, modelID string, maxTokens int) (*BedrockGenerator, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate: load aws config: %w", err)
	}
	if maxTokens <= 0 {
		maxTokens = 800
	}
	return &BedrockGenerator{
		client:    bedrockruntime.NewFromConfig(cfg),
		modelID:   modelID,
		maxTokens: int32(maxTokens),
	}, nil
}

// Model returns the configured model identifier.
func (g *BedrockGenerator) Model() string {
	return g.modelID
}

// Generate sends one Converse request.
func (g *BedrockGenerator) Generate(ctx context.Context, systemMsg, userMsg string) (string, error) {
	out, err := g.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(g.modelID),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemMsg},
		},
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: userMsg},
				},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(g.maxTokens),
			Temperature: aws.Float32(0),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: converse: %v", ErrGeneration, err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("%w: unexpected output type", ErrGeneration)
	}
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			return text.Value, nil
		}
	}
	return "", fmt.Errorf("%w: no text content in response", ErrGeneration)
}
