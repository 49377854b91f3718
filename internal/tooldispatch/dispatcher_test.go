// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tooldispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/calld/internal/callstate"
	"github.com/rapidaai/calld/internal/log"
)

type stubExpert struct {
	answer     string
	confidence float64
	success    bool
	err        error
}

func (s stubExpert) Ask(_ context.Context, _, _ string) (ExpertOutcome, error) {
	return ExpertOutcome{Answer: s.answer, Confidence: s.confidence, Success: s.success}, s.err
}

type stubSessionUpdater struct {
	lastInstructions string
	err              error
}

func (s *stubSessionUpdater) UpdateInstructions(instructions string) error {
	s.lastInstructions = instructions
	return s.err
}

func newTestDispatcher(t *testing.T, expert ExpertCaller, session SessionUpdater) *Dispatcher {
	t.Helper()
	store, err := LoadCatalogStore(writeTestCatalogDir(t))
	require.NoError(t, err)

	domains := newDomainRegistry([]ProductDomain{
		{ID: "pipes", Name: "Pipe Systems", Keywords: []string{"elbow"}, Catalogs: []string{"acme"}, Instructions: "pipe domain instructions"},
	})

	order := callstate.NewOrder("caller-1")
	return New(store, domains, order, expert, session, log.Nop())
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	result := d.Dispatch(context.Background(), "not_a_real_tool", "{}")
	assert.Equal(t, "Unknown function: not_a_real_tool", result)
}

func TestFindProductCatalogSwitchesDomain(t *testing.T) {
	session := &stubSessionUpdater{}
	d := newTestDispatcher(t, nil, session)

	result := d.Dispatch(context.Background(), "find_product_catalog", `{"keyword":"elbow"}`)
	assert.Contains(t, result, "Acme Fittings")
	assert.Contains(t, result, "Switched to product domain: Pipe Systems")
	assert.Equal(t, "pipe domain instructions", session.lastInstructions)
}

func TestSearchInCatalogExactMatch(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	result := d.Dispatch(context.Background(), "search_in_catalog", `{"catalog_key":"acme","query":"coupling"}`)
	assert.Contains(t, result, "Straight Coupling 22mm")
	assert.Contains(t, result, "A-101")
}

func TestSearchInCatalogFallsBackToKeywordSuggestion(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	result := d.Dispatch(context.Background(), "search_in_catalog", `{"query":"elbow"}`)
	assert.Contains(t, result, "Elbow 90deg 22mm")
}

func TestShowProductDetails(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	result := d.Dispatch(context.Background(), "show_product_details", `{"article_nr":"B-200","catalog_key":"bolt"}`)
	assert.Contains(t, result, "Ball Valve 1in")
	assert.Contains(t, result, "9.90")
}

func TestOrderAddRequiresQuantity(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	result := d.Dispatch(context.Background(), "order_add", `{"article_nr":"A-100"}`)
	assert.Contains(t, result, "Error")
}

func TestOrderAddAndShowOrder(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	d.Dispatch(context.Background(), "search_in_catalog", `{"catalog_key":"acme","query":"elbow"}`)
	added := d.Dispatch(context.Background(), "order_add", `{"article_nr":"A-100","quantity":2}`)
	assert.Contains(t, added, "Added 2x")
	assert.Contains(t, added, "Elbow 90deg 22mm")

	summary := d.Dispatch(context.Background(), "show_order", "{}")
	assert.Contains(t, summary, "A-100")
	assert.Contains(t, summary, "2 pieces")
}

func TestAskExpertSuccess(t *testing.T) {
	d := newTestDispatcher(t, stubExpert{answer: "use a 22mm elbow", confidence: 0.92, success: true}, nil)
	result := d.Dispatch(context.Background(), "ask_expert", `{"question":"what fitting do I need?"}`)
	assert.Equal(t, "use a 22mm elbow", result)
}

func TestAskExpertCarriesConfidenceAndSuccess(t *testing.T) {
	d := newTestDispatcher(t, stubExpert{answer: "please ask a specialist", confidence: 0.45, success: false}, nil)
	outcome := d.AskExpert(context.Background(), `{"question":"darf Megapress fuer Trinkwasser?"}`)
	assert.Equal(t, "please ask a specialist", outcome.Answer)
	assert.InDelta(t, 0.45, outcome.Confidence, 0.001)
	assert.False(t, outcome.Success)
}

func TestAskExpertWithoutClientConfigured(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	result := d.Dispatch(context.Background(), "ask_expert", `{"question":"anything"}`)
	assert.Contains(t, result, "not available")
}

func TestSwitchProductDomainUnknown(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	result := d.Dispatch(context.Background(), "switch_product_domain", `{"domain_id":"nonexistent"}`)
	assert.Contains(t, result, "Unknown product domain")
}

func TestSwitchProductDomainKnown(t *testing.T) {
	session := &stubSessionUpdater{}
	d := newTestDispatcher(t, nil, session)
	result := d.Dispatch(context.Background(), "switch_product_domain", `{"domain_id":"pipes"}`)
	assert.Contains(t, result, "Pipe Systems")
	assert.Equal(t, "pipe domain instructions", session.lastInstructions)
}

func TestDispatchMalformedArguments(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	result := d.Dispatch(context.Background(), "order_add", `not valid json`)
	assert.Contains(t, result, "Error")
}
