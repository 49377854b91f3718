// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tooldispatch

import "github.com/rapidaai/calld/internal/realtime"

func jsonSchemaObject(properties map[string]interface{}, required ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func integerProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

// Tools returns the fixed tool schema list passed to the AI realtime
// session (§4.4's session.update, §4.5's recognized tool names). The
// schema never changes per domain — only Instructions does.
func Tools() []realtime.Tool {
	return []realtime.Tool{
		{
			Name:        "find_product_catalog",
			Description: "Find which manufacturer catalogs carry a given product keyword, and switch to the matching product domain if one exists.",
			Parameters:  jsonSchemaObject(map[string]interface{}{"keyword": stringProp("a product keyword, e.g. a product type or manufacturer name")}, "keyword"),
		},
		{
			Name:        "show_manufacturers",
			Description: "List every known manufacturer, grouped by product category.",
			Parameters:  jsonSchemaObject(map[string]interface{}{}),
		},
		{
			Name:        "search_in_catalog",
			Description: "Search for products within one catalog, or across keyword-suggested catalogs if catalog_key is omitted or yields no hits.",
			Parameters: jsonSchemaObject(map[string]interface{}{
				"catalog_key": stringProp("catalog key to search, if known"),
				"query":       stringProp("search text"),
			}, "query"),
		},
		{
			Name:        "show_product_details",
			Description: "Look up a product's full record, including price, by its article number.",
			Parameters: jsonSchemaObject(map[string]interface{}{
				"article_nr":  stringProp("the product's article number"),
				"catalog_key": stringProp("catalog key to search, if known"),
			}, "article_nr"),
		},
		{
			Name:        "order_add",
			Description: "Add a quantity of a product to the current order. Quantity must always be stated explicitly by the caller.",
			Parameters: jsonSchemaObject(map[string]interface{}{
				"article_nr":   stringProp("the product's article number"),
				"quantity":     integerProp("how many units to add; must be a positive integer"),
				"product_name": stringProp("the product's display name, if known"),
			}, "article_nr", "quantity"),
		},
		{
			Name:        "show_order",
			Description: "Show the current order as an itemized list.",
			Parameters:  jsonSchemaObject(map[string]interface{}{}),
		},
		{
			Name:        "ask_expert",
			Description: "Escalate a question to a human-equivalent product expert when the assistant's own knowledge isn't sufficient.",
			Parameters: jsonSchemaObject(map[string]interface{}{
				"question": stringProp("the question to escalate"),
				"urgency":  stringProp("one of fast, normal, thorough"),
			}, "question"),
		},
		{
			Name:        "switch_product_domain",
			Description: "Explicitly switch the active product domain and its specialist instructions.",
			Parameters: jsonSchemaObject(map[string]interface{}{
				"domain_id": stringProp("the target product domain's id"),
			}, "domain_id"),
		},
	}
}
