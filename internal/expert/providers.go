// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package expert

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
)

const maxCompletionTokens = 1024

// provider is one reasoning backend. Complete runs a single non-streaming
// call and returns raw text — JSON-decoding and confidence gating happen
// one layer up in Client.
type provider interface {
	name() string
	complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// anthropicProvider calls the Messages API, grounded on the teacher's
// go.mod direct dependency on anthropic-sdk-go (never called anywhere in
// the retrieved pack, so this follows the SDK's own published v1 shape —
// a union-struct content block, the same convention openai-go below uses).
type anthropicProvider struct {
	client anthropic.Client
}

func newAnthropicProvider(apiKey string) *anthropicProvider {
	return &anthropicProvider{client: anthropic.NewClient(anthropicoption.WithAPIKey(apiKey))}
}

func (p *anthropicProvider) name() string { return "anthropic" }

func (p *anthropicProvider) complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxCompletionTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		sb.WriteString(block.Text)
	}
	return sb.String(), nil
}

// openaiProvider calls the Chat Completions API.
type openaiProvider struct {
	client openai.Client
}

func newOpenAIProvider(apiKey string) *openaiProvider {
	return &openaiProvider{client: openai.NewClient(openaioption.WithAPIKey(apiKey))}
}

func (p *openaiProvider) name() string { return "openai" }

func (p *openaiProvider) complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// bedrockProvider calls bedrockruntime.Client.Converse, grounded directly
// on api/integration-api/internal/callers/bedrock/{bedrock,llm}.go's
// ConverseInput/ConverseOutputMemberMessage/ContentBlockMemberText shape.
type bedrockProvider struct {
	client *bedrockruntime.Client
}

func newBedrockProvider(ctx context.Context, region, accessKeyID, secretAccessKey string) (*bedrockProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load config: %w", err)
	}
	return &bedrockProvider{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (p *bedrockProvider) name() string { return "bedrock" }

func (p *bedrockProvider) complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	resp, err := p.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
		Messages: []bedrocktypes.Message{
			{
				Role:    bedrocktypes.ConversationRoleUser,
				Content: []bedrocktypes.ContentBlock{&bedrocktypes.ContentBlockMemberText{Value: userPrompt}},
			},
		},
		System: []bedrocktypes.SystemContentBlock{&bedrocktypes.SystemContentBlockMemberText{Value: systemPrompt}},
	})
	if err != nil {
		return "", fmt.Errorf("bedrock: %w", err)
	}

	var sb strings.Builder
	if out, ok := resp.Output.(*bedrocktypes.ConverseOutputMemberMessage); ok {
		for _, block := range out.Value.Content {
			if tb, ok := block.(*bedrocktypes.ContentBlockMemberText); ok {
				sb.WriteString(tb.Value)
			}
		}
	}
	return sb.String(), nil
}
