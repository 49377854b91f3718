// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package expert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/calld/internal/log"
)

type stubProvider struct {
	response string
	err      error
}

func (s stubProvider) name() string { return "stub" }

func (s stubProvider) complete(_ context.Context, _, _, _ string) (string, error) {
	return s.response, s.err
}

func newStubClient(response string, minConfidence float64) *Client {
	c := &Client{
		cfg: Config{
			Models: map[string]ModelSpec{
				"small-model": {Provider: "stub", Model: "stub-fast"},
			},
			MinConfidence: minConfidence,
		},
		logger:    log.Nop(),
		providers: map[string]provider{"stub": stubProvider{response: response}},
	}
	return c
}

func TestAskReturnsHighConfidenceAnswer(t *testing.T) {
	c := newStubClient(`{"answer":"use a 22mm elbow","confidence":0.92}`, 0.6)
	outcome, err := c.Ask(context.Background(), "what fitting?", "fast")
	require.NoError(t, err)
	assert.Equal(t, "use a 22mm elbow", outcome.Answer)
	assert.InDelta(t, 0.92, outcome.Confidence, 0.001)
	assert.True(t, outcome.Success)
}

func TestAskDeflectsOnLowConfidence(t *testing.T) {
	c := newStubClient(`{"answer":"maybe a 22mm elbow","confidence":0.2}`, 0.6)
	outcome, err := c.Ask(context.Background(), "what fitting?", "fast")
	require.NoError(t, err)
	assert.Equal(t, deflectionTemplate, outcome.Answer)
	assert.InDelta(t, 0.2, outcome.Confidence, 0.001)
	assert.False(t, outcome.Success)
}

func TestAskDeflectionCarriesTheActualConfidence(t *testing.T) {
	c := newStubClient(`{"answer":"maybe Megapress is fine","confidence":0.45}`, 0.6)
	outcome, err := c.Ask(context.Background(), "darf Megapress für Trinkwasser?", "fast")
	require.NoError(t, err)
	assert.Equal(t, deflectionTemplate, outcome.Answer)
	assert.InDelta(t, 0.45, outcome.Confidence, 0.001)
	assert.False(t, outcome.Success)
}

func TestAskFallsBackToRawTextOnDecodeFailure(t *testing.T) {
	c := newStubClient("not json at all", 0.1)
	outcome, err := c.Ask(context.Background(), "what fitting?", "fast")
	require.NoError(t, err)
	assert.Equal(t, "not json at all", outcome.Answer)
	assert.True(t, outcome.Success)
}

func TestAskDeflectsOnFencedLowConfidence(t *testing.T) {
	c := newStubClient("```json\n{\"answer\":\"x\",\"confidence\":0.05}\n```", 0.6)
	outcome, err := c.Ask(context.Background(), "q", "fast")
	require.NoError(t, err)
	assert.Equal(t, deflectionTemplate, outcome.Answer)
	assert.False(t, outcome.Success)
}

func TestAskErrorsWhenNoProviderConfiguredForUrgency(t *testing.T) {
	c := newStubClient("irrelevant", 0.6)
	_, err := c.Ask(context.Background(), "q", "thorough")
	assert.Error(t, err)
}

func TestAskDeflectsWhenProviderErrors(t *testing.T) {
	c := &Client{
		cfg: Config{
			Models:        map[string]ModelSpec{"small-model": {Provider: "stub", Model: "stub-fast"}},
			MinConfidence: 0.6,
		},
		logger:    log.Nop(),
		providers: map[string]provider{"stub": stubProvider{err: assert.AnError}},
	}
	outcome, err := c.Ask(context.Background(), "q", "fast")
	require.NoError(t, err)
	assert.Equal(t, deflectionTemplate, outcome.Answer)
	assert.False(t, outcome.Success)
}

func TestUnknownUrgencyFallsBackToNormalChain(t *testing.T) {
	c := &Client{
		cfg: Config{
			Models:        map[string]ModelSpec{"balanced-model": {Provider: "stub", Model: "stub-normal"}},
			MinConfidence: 0.6,
		},
		logger:    log.Nop(),
		providers: map[string]provider{"stub": stubProvider{response: `{"answer":"ok","confidence":0.9}`}},
	}
	outcome, err := c.Ask(context.Background(), "q", "unrecognized-urgency")
	require.NoError(t, err)
	assert.Equal(t, "ok", outcome.Answer)
	assert.True(t, outcome.Success)
}
