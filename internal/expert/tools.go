// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package expert

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rapidaai/calld/internal/knowledge"
	"github.com/rapidaai/calld/internal/tooldispatch"
)

// Tools is the set of collaborators backing the six expert-side tools
// named in §4.6 (show_manufacturers, search_products,
// load_manufacturer_catalog, load_product_documentation,
// search_knowledge_base, load_standards_document). Any field may be nil
// — a nil collaborator just makes its tool answer "not available"
// instead of panicking, so a deployment missing catalogs or a knowledge
// base still gets a working (if less capable) expert.
type Tools struct {
	Catalogs      *tooldispatch.CatalogStore
	Knowledge     *knowledge.Store
	Documentation *DocumentationIndex
}

// toolSpec is one tool's name, description, and dispatcher, the same
// shape original_source/server/app/expert_client.py declares each tool
// with (name, description, JSON Schema for arguments) before handing
// the list to the model.
type toolSpec struct {
	name        string
	description string
	run         func(ctx context.Context, t Tools, args map[string]any) (string, error)
}

var toolRegistry = []toolSpec{
	{
		name:        "show_manufacturers",
		description: "Lists known manufacturers grouped by product category. Use to orient before searching a specific catalog.",
		run:         runShowManufacturers,
	},
	{
		name:        "search_products",
		description: "Searches one or more manufacturer catalogs by keyword. Arguments: query (string), catalogs (optional array of catalog keys; omit to search the best-matching catalogs automatically).",
		run:         runSearchProducts,
	},
	{
		name:        "load_manufacturer_catalog",
		description: "Loads a manufacturer's full catalog by key so article numbers and prices can be read directly. Arguments: catalog (string).",
		run:         runLoadManufacturerCatalog,
	},
	{
		name:        "load_product_documentation",
		description: "Loads the technical documentation (datasheet/manual) previously downloaded for a product article number. Arguments: article_nr (string).",
		run:         runLoadProductDocumentation,
	},
	{
		name:        "search_knowledge_base",
		description: "Searches the SHK norms and technical-knowledge base for rules, guidance, and citations matching a topic. Arguments: query (string), area (optional string, default \"all\").",
		run:         runSearchKnowledgeBase,
	},
	{
		name:        "load_standards_document",
		description: "Loads one standard/norm's full indexed detail (every rule and citation) by its ID, for when search_knowledge_base's summary isn't specific enough. Arguments: norm_id (string).",
		run:         runLoadStandardsDocument,
	},
}

// toolDescriptions renders the registry into the expert system prompt.
func toolDescriptions() string {
	var sb strings.Builder
	for _, t := range toolRegistry {
		fmt.Fprintf(&sb, "- %s: %s\n", t.name, t.description)
	}
	return sb.String()
}

func findTool(name string) (toolSpec, bool) {
	for _, t := range toolRegistry {
		if t.name == name {
			return t, true
		}
	}
	return toolSpec{}, false
}

func runShowManufacturers(_ context.Context, t Tools, _ map[string]any) (string, error) {
	if t.Catalogs == nil {
		return "no catalogs are configured on this deployment", nil
	}
	grouped := t.Catalogs.Manufacturers()
	categories := make([]string, 0, len(grouped))
	for c := range grouped {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var sb strings.Builder
	for _, category := range categories {
		fmt.Fprintf(&sb, "%s: %s\n", category, strings.Join(grouped[category], ", "))
	}
	return sb.String(), nil
}

func runSearchProducts(_ context.Context, t Tools, args map[string]any) (string, error) {
	if t.Catalogs == nil {
		return "no catalogs are configured on this deployment", nil
	}
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("search_products requires a query argument")
	}

	keys := stringSliceArg(args["catalogs"])
	if len(keys) == 0 {
		keys = t.Catalogs.SuggestCatalogs(query, 3)
	}
	if len(keys) == 0 {
		return "no catalog matched that query; try show_manufacturers first", nil
	}

	var sb strings.Builder
	for _, key := range keys {
		catalog, err := t.Catalogs.Load(key)
		if err != nil {
			continue
		}
		hits := catalog.Search(query, 10)
		if len(hits) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s (%s):\n", catalog.Manufacturer, key)
		for _, p := range hits {
			fmt.Fprintf(&sb, "  %s — %s\n", p.ArticleNr, p.Name)
		}
	}
	if sb.Len() == 0 {
		return "no products matched that query in the suggested catalogs", nil
	}
	return sb.String(), nil
}

func runLoadManufacturerCatalog(_ context.Context, t Tools, args map[string]any) (string, error) {
	if t.Catalogs == nil {
		return "no catalogs are configured on this deployment", nil
	}
	key, _ := args["catalog"].(string)
	if key == "" {
		return "", fmt.Errorf("load_manufacturer_catalog requires a catalog argument")
	}
	catalog, err := t.Catalogs.Load(key)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s), %d products:\n", catalog.Manufacturer, catalog.Category, len(catalog.Products))
	for _, p := range catalog.Products {
		fmt.Fprintf(&sb, "  %s — %s\n", p.ArticleNr, p.Name)
	}
	return sb.String(), nil
}

func runLoadProductDocumentation(ctx context.Context, t Tools, args map[string]any) (string, error) {
	if t.Documentation == nil {
		return "no product documentation index is configured on this deployment", nil
	}
	articleNr, _ := args["article_nr"].(string)
	if articleNr == "" {
		return "", fmt.Errorf("load_product_documentation requires an article_nr argument")
	}
	entry, found, err := t.Documentation.Lookup(ctx, articleNr)
	if err != nil {
		return "", err
	}
	if !found {
		return fmt.Sprintf("no documentation has been downloaded for article %q yet", articleNr), nil
	}
	return fmt.Sprintf("%s\n%s", entry.Title, entry.Summary), nil
}

func runSearchKnowledgeBase(_ context.Context, t Tools, args map[string]any) (string, error) {
	if t.Knowledge == nil {
		return "no knowledge base is configured on this deployment", nil
	}
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("search_knowledge_base requires a query argument")
	}
	area, _ := args["area"].(string)

	var sb strings.Builder
	for _, m := range t.Knowledge.SearchNorms(query, area) {
		fmt.Fprintf(&sb, "[%s] %s\n", m.Norm.ID, m.Norm.Title)
		for _, r := range m.MatchedRules {
			fmt.Fprintf(&sb, "  %s: %s\n", r.Name, r.Content)
		}
	}
	for _, m := range t.Knowledge.SearchTechnicalKnowledge(query, area) {
		fmt.Fprintf(&sb, "%s / %s (relevance %.2f)\n", m.Area, m.Topic, m.Relevance)
		if len(m.Sources) > 0 {
			fmt.Fprintf(&sb, "  sources: %s\n", strings.Join(m.Sources, "; "))
		}
	}
	if sb.Len() == 0 {
		return "no norms or technical knowledge matched that query", nil
	}
	return sb.String(), nil
}

func runLoadStandardsDocument(_ context.Context, t Tools, args map[string]any) (string, error) {
	if t.Knowledge == nil {
		return "no knowledge base is configured on this deployment", nil
	}
	normID, _ := args["norm_id"].(string)
	if normID == "" {
		return "", fmt.Errorf("load_standards_document requires a norm_id argument")
	}
	norm, ok := t.Knowledge.NormByID(normID)
	if !ok {
		return fmt.Sprintf("no indexed standard found for id %q", normID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s — %s\n%s\n", norm.ID, norm.Title, norm.Description)
	for _, r := range norm.Rules {
		fmt.Fprintf(&sb, "  %s: %s\n", r.Name, r.Content)
	}
	return sb.String(), nil
}

func stringSliceArg(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// toolCallEnvelope is what the expert prompt-driven ReAct loop asks the
// model to emit instead of a final Result when it wants to invoke a
// tool (see Client.Ask in client.go). Kept distinguishable from Result by
// the presence of the "tool_call" key rather than "answer".
type toolCallEnvelope struct {
	ToolCall struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"tool_call"`
}

func parseToolCall(raw string) (toolCallEnvelope, bool) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var envelope toolCallEnvelope
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return toolCallEnvelope{}, false
	}
	if envelope.ToolCall.Name == "" {
		return toolCallEnvelope{}, false
	}
	return envelope, true
}
