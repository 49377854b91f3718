// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tooldispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ProductDomain bundles a set of catalogs with the AI instructions that
// make the assistant conversant in that product area, grounded directly
// on original_source/product_domains.py's PRODUCT_DOMAINS table (name,
// keywords, catalogs, instructions per domain).
type ProductDomain struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Keywords     []string `json:"keywords"`
	Catalogs     []string `json:"catalogs"`
	Instructions string   `json:"instructions"`
}

// DomainRegistry holds every configured product domain.
type DomainRegistry struct {
	domains []ProductDomain
	byID    map[string]*ProductDomain
}

// LoadDomainRegistry reads a JSON array of ProductDomain from path.
func LoadDomainRegistry(path string) (*DomainRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tooldispatch: read domains: %w", err)
	}
	var domains []ProductDomain
	if err := json.Unmarshal(raw, &domains); err != nil {
		return nil, fmt.Errorf("tooldispatch: parse domains: %w", err)
	}
	return newDomainRegistry(domains), nil
}

func newDomainRegistry(domains []ProductDomain) *DomainRegistry {
	r := &DomainRegistry{domains: domains, byID: make(map[string]*ProductDomain, len(domains))}
	for i := range domains {
		r.byID[domains[i].ID] = &domains[i]
	}
	return r
}

// Detect returns the first domain whose keyword list contains keyword
// (case-insensitive), used by find_product_catalog to auto-select a
// domain (§4.5).
func (r *DomainRegistry) Detect(keyword string) (*ProductDomain, bool) {
	needle := strings.ToLower(strings.TrimSpace(keyword))
	if needle == "" {
		return nil, false
	}
	for i := range r.domains {
		for _, kw := range r.domains[i].Keywords {
			if strings.ToLower(kw) == needle {
				return &r.domains[i], true
			}
		}
	}
	return nil, false
}

// ByID looks a domain up by its id (switch_product_domain, §4.5).
func (r *DomainRegistry) ByID(id string) (*ProductDomain, bool) {
	d, ok := r.byID[id]
	return d, ok
}
