// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package expert is the Product Expert Client (§4.6): a confidence-gated
// escalation path for ask_expert. It never returns an error to its
// caller for a normal low-confidence answer — only a configuration
// failure (no provider reachable at all) is surfaced as an error.
package expert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rapidaai/calld/internal/log"
	"github.com/rapidaai/calld/internal/tooldispatch"
)

const (
	defaultMinConfidence = 0.6

	deflectionTemplate = "I want to make sure you get the right answer here, so let me have one of our specialists follow up with you directly rather than guess."

	// maxToolIterations bounds the §4.6 "may tool-call iteratively until
	// it produces a final JSON" loop so a misbehaving model can't spin
	// forever burning provider calls on one call.
	maxToolIterations = 6
)

// ModelSpec names one configured (provider, model) pair. Provider is one
// of "anthropic", "openai", "bedrock".
type ModelSpec struct {
	Provider string
	Model    string
}

// Config wires up every backend this deployment has credentials for.
// Models is keyed by the abstract model classes §4.6 names
// (small-model, small-reasoning-model, large-reasoning-model,
// pro-reasoning-model, large-standard, balanced-model); any subset may
// be configured, and urgency selection picks the first configured name
// in its chain.
type Config struct {
	Models        map[string]ModelSpec
	MinConfidence float64

	AnthropicAPIKey string

	OpenAIAPIKey string

	BedrockRegion          string
	BedrockAccessKeyID     string
	BedrockSecretAccessKey string

	// Tools backs the six §4.6 expert-side tools. Zero value is valid —
	// every collaborator inside it may be nil, which just narrows what
	// the expert can look up without disabling tool-calling itself.
	Tools Tools
}

func (c Config) withDefaults() Config {
	if c.MinConfidence <= 0 {
		c.MinConfidence = defaultMinConfidence
	}
	return c
}

// Result is the JSON shape the expert prompt asks every backend to
// return (§4.6). Decode failure falls back to Result{Answer: rawText,
// Confidence: 0.5}.
type Result struct {
	Answer         string   `json:"answer"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning,omitempty"`
	ArticleNumbers []string `json:"article_numbers,omitempty"`
}

// urgencyChains is the fixed fallback order per urgency tier (§4.6:
// "fast picks the first available of {small-model,
// small-reasoning-model}; thorough picks the first available of
// {large-reasoning-model, pro-reasoning-model, large-standard}").
// normal's chain is this module's own Open Question decision (see
// DESIGN.md): it favors a balanced model before falling back toward
// either extreme.
var urgencyChains = map[string][]string{
	"fast":     {"small-model", "small-reasoning-model"},
	"normal":   {"balanced-model", "small-reasoning-model", "large-standard"},
	"thorough": {"large-reasoning-model", "pro-reasoning-model", "large-standard"},
}

// Client picks a model by urgency, asks the question once, and applies
// confidence gating to the decoded result.
type Client struct {
	cfg       Config
	logger    log.Logger
	providers map[string]provider
	tools     Tools

	totalCalls     atomic.Int64
	deflections    atomic.Int64
	providerErrors atomic.Int64
}

// Stats is a snapshot for GET /expert/stats (§6).
type Stats struct {
	TotalCalls     int64
	Deflections    int64
	ProviderErrors int64
	MinConfidence  float64
	Providers      []string
}

// Stats reports cumulative call counters since process start.
func (c *Client) Stats() Stats {
	providers := make([]string, 0, len(c.providers))
	for name := range c.providers {
		providers = append(providers, name)
	}
	return Stats{
		TotalCalls:     c.totalCalls.Load(),
		Deflections:    c.deflections.Load(),
		ProviderErrors: c.providerErrors.Load(),
		MinConfidence:  c.cfg.MinConfidence,
		Providers:      providers,
	}
}

// New builds a Client from cfg. Bedrock credential resolution can fail
// (it loads an AWS config immediately), so New takes a context.
func New(ctx context.Context, cfg Config, logger log.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	c := &Client{cfg: cfg, logger: logger, providers: make(map[string]provider), tools: cfg.Tools}

	if cfg.AnthropicAPIKey != "" {
		c.providers["anthropic"] = newAnthropicProvider(cfg.AnthropicAPIKey)
	}
	if cfg.OpenAIAPIKey != "" {
		c.providers["openai"] = newOpenAIProvider(cfg.OpenAIAPIKey)
	}
	if cfg.BedrockRegion != "" {
		bp, err := newBedrockProvider(ctx, cfg.BedrockRegion, cfg.BedrockAccessKeyID, cfg.BedrockSecretAccessKey)
		if err != nil {
			return nil, fmt.Errorf("expert: %w", err)
		}
		c.providers["bedrock"] = bp
	}
	return c, nil
}

// Ask resolves urgency to a model, then runs the §4.6 tool-calling loop:
// the model is re-prompted with the running transcript after each tool
// invocation until it returns a final Result (or maxToolIterations is
// exhausted, at which point whatever text it last produced is treated
// as the answer). The returned tooldispatch.ExpertOutcome carries the
// full §3 ExpertResponse shape (answer, confidence, success) so callers
// beyond the tool-call reply path — the Event Hub's expert_query_done
// broadcast (§4.8, §8 S5) — can see the confidence that drove the
// deflection, not just the deflection text itself. Ask returns an error
// (with a zero outcome) only when no provider is configured for any
// candidate in the chain.
func (c *Client) Ask(ctx context.Context, question, urgency string) (tooldispatch.ExpertOutcome, error) {
	c.totalCalls.Add(1)

	chain, ok := urgencyChains[urgency]
	if !ok {
		chain = urgencyChains["normal"]
	}

	spec, p, ok := c.resolve(chain)
	if !ok {
		return tooldispatch.ExpertOutcome{}, fmt.Errorf("expert: no provider configured for urgency %q", urgency)
	}

	systemPrompt := expertSystemPrompt
	if hasAnyTool(c.tools) {
		systemPrompt += "\n\nAvailable tools:\n" + toolDescriptions() +
			"\nTo call a tool, respond with exactly {\"tool_call\": {\"name\": string, \"arguments\": object}} and nothing else. " +
			"Once you have enough information, respond with the final answer JSON shape instead."
	}

	transcript := question
	var lastRaw string
	for iteration := 0; iteration < maxToolIterations; iteration++ {
		raw, err := p.complete(ctx, spec.Model, systemPrompt, transcript)
		if err != nil {
			c.providerErrors.Add(1)
			c.logger.Warnf("expert: %s/%s call failed: %v", p.name(), spec.Model, err)
			return tooldispatch.ExpertOutcome{Answer: deflectionTemplate}, nil
		}
		lastRaw = raw

		call, isToolCall := parseToolCall(raw)
		if !isToolCall {
			break
		}

		observation := c.runTool(ctx, call)
		transcript += fmt.Sprintf("\n\nYou called tool %q with arguments %v. Result:\n%s\n\nContinue, or give your final answer.",
			call.ToolCall.Name, call.ToolCall.Arguments, observation)
	}

	result := parseResult(lastRaw)
	success := result.Confidence >= c.cfg.MinConfidence
	if !success {
		c.deflections.Add(1)
		c.logger.Infof("expert: low confidence (%.2f) from %s/%s, deflecting", result.Confidence, p.name(), spec.Model)
		return tooldispatch.ExpertOutcome{Answer: deflectionTemplate, Confidence: result.Confidence, Success: false}, nil
	}
	return tooldispatch.ExpertOutcome{Answer: result.Answer, Confidence: result.Confidence, Success: true}, nil
}

// runTool executes one parsed tool call against c.tools, turning any
// error into an observation text rather than aborting the loop — a
// failed lookup is information the model can react to (try a different
// tool, or answer with lower confidence), not a reason to give up.
func (c *Client) runTool(ctx context.Context, call toolCallEnvelope) string {
	spec, ok := findTool(call.ToolCall.Name)
	if !ok {
		return fmt.Sprintf("unknown tool %q", call.ToolCall.Name)
	}
	out, err := spec.run(ctx, c.tools, call.ToolCall.Arguments)
	if err != nil {
		return fmt.Sprintf("tool error: %v", err)
	}
	return out
}

func hasAnyTool(t Tools) bool {
	return t.Catalogs != nil || t.Knowledge != nil || t.Documentation != nil
}

func (c *Client) resolve(chain []string) (ModelSpec, provider, bool) {
	for _, class := range chain {
		spec, ok := c.cfg.Models[class]
		if !ok {
			continue
		}
		p, ok := c.providers[spec.Provider]
		if !ok {
			continue
		}
		return spec, p, true
	}
	return ModelSpec{}, nil, false
}

func parseResult(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	// Tolerate a fenced ```json block, which some backends add even
	// when asked for bare JSON.
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var result Result
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil || result.Answer == "" {
		return Result{Answer: raw, Confidence: 0.5}
	}
	return result
}

const expertSystemPrompt = `You are a backline product expert assisting a live phone call between a customer and a voice assistant. Answer the question precisely and concisely. Respond with a single JSON object only, no prose outside it, matching exactly:
{"answer": string, "confidence": number between 0 and 1, "reasoning": string, "article_numbers": [string]}
If you are not confident in the answer, say so honestly with a low confidence value rather than guessing.`
