// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package tooldispatch is the Tool Dispatcher (§4.5): it receives
// (name, arguments_json) from the AI Stream Client and always returns a
// string, never an error, so a broken tool call never stalls the call.
package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rapidaai/calld/internal/callstate"
	"github.com/rapidaai/calld/internal/log"
)

const (
	maxSearchResults       = 15
	maxSuggestedCatalogs   = 3
	defaultExpertUrgency   = "normal"
)

// ExpertOutcome is the full §3 ExpertResponse shape behind one
// ask_expert call: Answer is the plain string every tool call must
// return to the AI (§4.5), while Confidence/Success are the metadata
// the Event Hub's expert_query_done event carries (§4.8, §8 S5) but the
// AI itself never sees.
type ExpertOutcome struct {
	Answer     string
	Confidence float64
	Success    bool
}

// ExpertCaller is the narrow slice of internal/expert.Client the
// dispatcher needs for ask_expert, kept as an interface so tooldispatch
// does not have to import the expert package's provider machinery.
type ExpertCaller interface {
	Ask(ctx context.Context, question, urgency string) (ExpertOutcome, error)
}

// SessionUpdater lets switch_product_domain push new instructions to the
// live AI session (§4.5) without tooldispatch owning the WebSocket or
// its fixed tool schema.
type SessionUpdater interface {
	UpdateInstructions(instructions string) error
}

// Dispatcher holds every piece of state a tool call can touch: the
// catalog store, the product domain registry, the call's active Order,
// and the set of catalogs loaded so far this call.
type Dispatcher struct {
	catalogs *CatalogStore
	domains  *DomainRegistry
	order    *callstate.Order
	expert   ExpertCaller
	session  SessionUpdater
	logger   log.Logger

	mu             sync.Mutex
	activeCatalogs map[string]bool
	activeDomain   *ProductDomain
}

// New builds a Dispatcher for one call. order must already exist (the
// orchestrator creates it on idle→ringing, §4.7).
func New(catalogs *CatalogStore, domains *DomainRegistry, order *callstate.Order, expert ExpertCaller, session SessionUpdater, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		catalogs:       catalogs,
		domains:        domains,
		order:          order,
		expert:         expert,
		session:        session,
		logger:         logger,
		activeCatalogs: make(map[string]bool),
	}
}

// Reset clears the active-catalog set, called on call end (§4.5: "reset
// on call end").
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.activeCatalogs = make(map[string]bool)
	d.activeDomain = nil
	d.mu.Unlock()
}

// Dispatch routes one tool call to its handler and always returns a
// string; any panic or error inside a handler is caught and stringified
// rather than propagated (§4.5).
func (d *Dispatcher) Dispatch(ctx context.Context, name, argumentsJSON string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("tooldispatch: panic in %s: %v", name, r)
			result = fmt.Sprintf("Error handling %s: %v", name, r)
		}
	}()

	switch name {
	case "find_product_catalog":
		return d.findProductCatalog(argumentsJSON)
	case "show_manufacturers":
		return d.showManufacturers()
	case "search_in_catalog":
		return d.searchInCatalog(argumentsJSON)
	case "show_product_details":
		return d.showProductDetails(argumentsJSON)
	case "order_add":
		return d.orderAdd(argumentsJSON)
	case "show_order":
		return d.order.Summary()
	case "ask_expert":
		return d.askExpert(ctx, argumentsJSON)
	case "switch_product_domain":
		return d.switchProductDomain(argumentsJSON)
	default:
		return fmt.Sprintf("Unknown function: %s", name)
	}
}

type findProductCatalogArgs struct {
	Keyword string `json:"keyword"`
}

func (d *Dispatcher) findProductCatalog(argsJSON string) string {
	var args findProductCatalogArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args.Keyword == "" {
		return "Error: find_product_catalog requires a keyword"
	}

	catalogKeys := d.catalogs.SuggestCatalogs(args.Keyword, maxSuggestedCatalogs)
	if len(catalogKeys) == 0 {
		return fmt.Sprintf("No catalogs found matching %q.", args.Keyword)
	}

	d.mu.Lock()
	for _, key := range catalogKeys {
		d.activeCatalogs[key] = true
	}
	d.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Catalogs matching %q:\n", args.Keyword)
	for _, key := range catalogKeys {
		if c, err := d.catalogs.Load(key); err == nil {
			fmt.Fprintf(&sb, "- %s (%s)\n", c.Manufacturer, key)
		}
	}

	if domain, ok := d.domains.Detect(args.Keyword); ok {
		d.mu.Lock()
		d.activeDomain = domain
		d.mu.Unlock()
		if d.session != nil {
			if err := d.session.UpdateInstructions(domain.Instructions); err != nil {
				d.logger.Warnf("tooldispatch: session update for domain %s failed: %v", domain.ID, err)
			} else {
				fmt.Fprintf(&sb, "\nSwitched to product domain: %s", domain.Name)
			}
		}
	}
	return sb.String()
}

func (d *Dispatcher) showManufacturers() string {
	byCategory := d.catalogs.Manufacturers()
	if len(byCategory) == 0 {
		return "No manufacturers are configured."
	}
	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var sb strings.Builder
	for _, cat := range categories {
		label := cat
		if label == "" {
			label = "General"
		}
		fmt.Fprintf(&sb, "%s:\n", label)
		names := append([]string(nil), byCategory[cat]...)
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "  - %s\n", name)
		}
	}
	return sb.String()
}

type searchInCatalogArgs struct {
	CatalogKey string `json:"catalog_key"`
	Query      string `json:"query"`
}

func (d *Dispatcher) searchInCatalog(argsJSON string) string {
	var args searchInCatalogArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args.Query == "" {
		return "Error: search_in_catalog requires a query"
	}

	if args.CatalogKey != "" {
		d.mu.Lock()
		d.activeCatalogs[args.CatalogKey] = true
		d.mu.Unlock()
		if c, err := d.catalogs.Load(args.CatalogKey); err == nil {
			if hits := c.Search(args.Query, maxSearchResults); len(hits) > 0 {
				return formatHits(hits)
			}
		}
	}

	// Zero hits (or no catalog given): fall back to the top-N
	// keyword-suggested catalogs (§4.5).
	fallbackKeys := d.catalogs.SuggestCatalogs(args.Query, maxSuggestedCatalogs)
	var hits []Product
	for _, key := range fallbackKeys {
		c, err := d.catalogs.Load(key)
		if err != nil {
			continue
		}
		d.mu.Lock()
		d.activeCatalogs[key] = true
		d.mu.Unlock()
		hits = append(hits, c.Search(args.Query, maxSearchResults-len(hits))...)
		if len(hits) >= maxSearchResults {
			break
		}
	}
	if len(hits) == 0 {
		return fmt.Sprintf("No products found matching %q.", args.Query)
	}
	return formatHits(hits)
}

func formatHits(hits []Product) string {
	var sb strings.Builder
	for i, p := range hits {
		if i >= maxSearchResults {
			break
		}
		fmt.Fprintf(&sb, "- %s | Art: %s\n", p.Name, p.ArticleNr)
	}
	return strings.TrimRight(sb.String(), "\n")
}

type showProductDetailsArgs struct {
	ArticleNr  string `json:"article_nr"`
	CatalogKey string `json:"catalog_key,omitempty"`
}

func (d *Dispatcher) showProductDetails(argsJSON string) string {
	var args showProductDetailsArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args.ArticleNr == "" {
		return "Error: show_product_details requires an article_nr"
	}

	candidates := []string{args.CatalogKey}
	if args.CatalogKey == "" {
		d.mu.Lock()
		for key := range d.activeCatalogs {
			candidates = append(candidates, key)
		}
		d.mu.Unlock()
	}

	for _, key := range candidates {
		if key == "" {
			continue
		}
		if p, ok := d.catalogs.ProductByArticleNr(key, args.ArticleNr); ok {
			var sb strings.Builder
			fmt.Fprintf(&sb, "Name: %s\n", p.Name)
			fmt.Fprintf(&sb, "Article Nr: %s\n", p.ArticleNr)
			fmt.Fprintf(&sb, "Manufacturer: %s\n", p.Manufacturer)
			if p.Category != "" {
				fmt.Fprintf(&sb, "Category: %s\n", p.Category)
			}
			if p.Unit != "" {
				fmt.Fprintf(&sb, "Unit: %s\n", p.Unit)
			}
			if p.PriceCents > 0 {
				fmt.Fprintf(&sb, "Price: %.2f\n", float64(p.PriceCents)/100)
			}
			return strings.TrimRight(sb.String(), "\n")
		}
	}
	return fmt.Sprintf("No product found with article number %s.", args.ArticleNr)
}

type orderAddArgs struct {
	ArticleNr   string `json:"article_nr"`
	Quantity    int    `json:"quantity"`
	ProductName string `json:"product_name,omitempty"`
}

func (d *Dispatcher) orderAdd(argsJSON string) string {
	var args orderAddArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "Error: order_add requires article_nr and quantity"
	}
	if args.ArticleNr == "" || args.Quantity <= 0 {
		return "Error: order_add requires an article_nr and a positive quantity"
	}

	name := args.ProductName
	if name == "" {
		d.mu.Lock()
		for key := range d.activeCatalogs {
			if p, ok := d.catalogs.ProductByArticleNr(key, args.ArticleNr); ok {
				name = p.Name
				break
			}
		}
		d.mu.Unlock()
	}
	if name == "" {
		name = args.ArticleNr
	}

	total := d.order.AddItem(args.ArticleNr, args.Quantity, name)
	return fmt.Sprintf("Added %dx %s (Art: %s). Quantity is now %d.", args.Quantity, name, args.ArticleNr, total)
}

type askExpertArgs struct {
	Question string `json:"question"`
	Urgency  string `json:"urgency,omitempty"`
}

func (d *Dispatcher) askExpert(ctx context.Context, argsJSON string) string {
	return d.AskExpert(ctx, argsJSON).Answer
}

// AskExpert runs ask_expert and returns the full confidence/success
// outcome (§3 ExpertResponse) so the orchestrator can broadcast it as
// expert_query_done (§4.8, §8 S5); Dispatch's generic ask_expert case
// only needs the Answer string it wraps above.
func (d *Dispatcher) AskExpert(ctx context.Context, argsJSON string) ExpertOutcome {
	var args askExpertArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args.Question == "" {
		return ExpertOutcome{Answer: "Error: ask_expert requires a question"}
	}
	if d.expert == nil {
		return ExpertOutcome{Answer: "The expert line is not available right now."}
	}
	urgency := args.Urgency
	if urgency == "" {
		urgency = defaultExpertUrgency
	}
	outcome, err := d.expert.Ask(ctx, args.Question, urgency)
	if err != nil {
		d.logger.Warnf("tooldispatch: ask_expert failed: %v", err)
		return ExpertOutcome{Answer: "I wasn't able to reach the expert just now."}
	}
	return outcome
}

type switchProductDomainArgs struct {
	DomainID string `json:"domain_id"`
}

func (d *Dispatcher) switchProductDomain(argsJSON string) string {
	var args switchProductDomainArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args.DomainID == "" {
		return "Error: switch_product_domain requires a domain_id"
	}
	domain, ok := d.domains.ByID(args.DomainID)
	if !ok {
		return fmt.Sprintf("Unknown product domain: %s", args.DomainID)
	}

	d.mu.Lock()
	d.activeDomain = domain
	for _, key := range domain.Catalogs {
		d.activeCatalogs[key] = true
	}
	d.mu.Unlock()

	if d.session != nil {
		if err := d.session.UpdateInstructions(domain.Instructions); err != nil {
			return fmt.Sprintf("Switched to %s, but updating the session failed: %v", domain.Name, err)
		}
	}
	return fmt.Sprintf("Switched to product domain: %s", domain.Name)
}
