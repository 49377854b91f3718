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
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Product is one catalog line. Grounded on original_source/catalog.py's
// flattened product record (name, article number, size/unit, price) —
// renamed to plain English fields since nothing about this domain is
// German-specific in the spec.
type Product struct {
	ArticleNr    string `json:"article_nr"`
	Name         string `json:"name"`
	Category     string `json:"category,omitempty"`
	Unit         string `json:"unit,omitempty"`
	PriceCents   int    `json:"price_cents,omitempty"`
	Manufacturer string `json:"-"`
}

// catalogFile is the on-disk shape of one manufacturer's catalog JSON.
type catalogFile struct {
	Manufacturer string    `json:"manufacturer"`
	Category     string    `json:"category,omitempty"`
	Products     []Product `json:"products"`
}

// Catalog is one loaded manufacturer's product list.
type Catalog struct {
	Key          string
	Manufacturer string
	Category     string
	Products     []Product
}

// keywordEntry mirrors original_source/build_keyword_index.py's
// per-keyword record: which catalogs contain it, and how often.
type keywordEntry struct {
	Catalogs []string `json:"catalogs"`
	Count    int      `json:"count"`
}

// CatalogStore is the read-only, lazily-populated in-memory view over a
// directory of manufacturer catalog JSON files plus a precomputed
// keyword index, the same two-file split original_source/catalog_dir
// uses (one file per manufacturer, one shared _keywords.json).
type CatalogStore struct {
	dir string

	mu       sync.RWMutex
	catalogs map[string]*Catalog // lazily loaded, keyed by catalog key
	keywords map[string]keywordEntry
	fileOf   map[string]string // catalog key -> filename
}

var keywordSplitRE = regexp.MustCompile(`[^a-z0-9]+`)

// LoadCatalogStore reads _index.json (catalog key -> filename,
// manufacturer, category) and _keywords.json (keyword -> catalogs/count)
// from dir. Catalog product files themselves are loaded lazily on first
// use, since a call may only ever touch one or two manufacturers.
func LoadCatalogStore(dir string) (*CatalogStore, error) {
	indexPath := filepath.Join(dir, "_index.json")
	raw, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("tooldispatch: read catalog index: %w", err)
	}

	var index struct {
		Systems []struct {
			Key          string `json:"key"`
			File         string `json:"file"`
			Manufacturer string `json:"manufacturer"`
			Category     string `json:"category"`
		} `json:"systems"`
	}
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("tooldispatch: parse catalog index: %w", err)
	}

	store := &CatalogStore{
		dir:      dir,
		catalogs: make(map[string]*Catalog),
		fileOf:   make(map[string]string, len(index.Systems)),
		keywords: make(map[string]keywordEntry),
	}
	for _, s := range index.Systems {
		store.fileOf[s.Key] = s.File
		store.catalogs[s.Key] = &Catalog{Key: s.Key, Manufacturer: s.Manufacturer, Category: s.Category}
	}

	keywordsPath := filepath.Join(dir, "_keywords.json")
	if raw, err := os.ReadFile(keywordsPath); err == nil {
		if err := json.Unmarshal(raw, &store.keywords); err != nil {
			return nil, fmt.Errorf("tooldispatch: parse keyword index: %w", err)
		}
	}

	return store, nil
}

// CatalogKeys returns every known catalog key in stable order.
func (s *CatalogStore) CatalogKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.catalogs))
	for k := range s.catalogs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Manufacturers groups known catalogs by category for show_manufacturers.
func (s *CatalogStore) Manufacturers() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string)
	for _, key := range s.CatalogKeys() {
		c := s.catalogs[key]
		out[c.Category] = append(out[c.Category], c.Manufacturer)
	}
	return out
}

// SuggestCatalogs returns the catalog keys the keyword index lists for
// keyword, in the order the index stores them, at most limit of them
// when limit > 0 (find_product_catalog, §4.5). They are not re-ranked
// here: the index carries one count per keyword, not per catalog.
func (s *CatalogStore) SuggestCatalogs(keyword string, limit int) []string {
	normalized := normalizeKeyword(keyword)
	s.mu.RLock()
	entry, ok := s.keywords[normalized]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	catalogs := append([]string(nil), entry.Catalogs...)
	if limit > 0 && len(catalogs) > limit {
		catalogs = catalogs[:limit]
	}
	return catalogs
}

// Load returns the fully-populated Catalog for key, loading its product
// file from disk on first access.
func (s *CatalogStore) Load(key string) (*Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.catalogs[key]
	if !ok {
		return nil, fmt.Errorf("tooldispatch: unknown catalog %q", key)
	}
	if c.Products != nil {
		return c, nil
	}

	filename, ok := s.fileOf[key]
	if !ok {
		return nil, fmt.Errorf("tooldispatch: catalog %q has no file mapping", key)
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("tooldispatch: read catalog %q: %w", key, err)
	}
	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("tooldispatch: parse catalog %q: %w", key, err)
	}
	for i := range file.Products {
		file.Products[i].Manufacturer = file.Manufacturer
	}
	c.Products = file.Products
	if file.Manufacturer != "" {
		c.Manufacturer = file.Manufacturer
	}
	if file.Category != "" {
		c.Category = file.Category
	}
	return c, nil
}

// Search runs a case-insensitive substring query against a loaded
// catalog's product names, returning at most limit hits.
func (c *Catalog) Search(query string, limit int) []Product {
	q := strings.ToLower(strings.TrimSpace(query))
	var hits []Product
	for _, p := range c.Products {
		if strings.Contains(strings.ToLower(p.Name), q) {
			hits = append(hits, p)
			if limit > 0 && len(hits) >= limit {
				break
			}
		}
	}
	return hits
}

// ProductByArticleNr looks a product up by exact article number within
// catalog key only, loading key on demand; other catalogs are not
// searched.
func (s *CatalogStore) ProductByArticleNr(key, articleNr string) (Product, bool) {
	c, err := s.Load(key)
	if err != nil {
		return Product{}, false
	}
	for _, p := range c.Products {
		if p.ArticleNr == articleNr {
			return p, true
		}
	}
	return Product{}, false
}

// normalizeKeyword lowercases and collapses punctuation the same way
// original_source/build_keyword_index.py's extract_keywords does, minus
// the umlaut folding (this catalog's data is plain ASCII).
func normalizeKeyword(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Trim(keywordSplitRE.ReplaceAllString(s, " "), " ")
}
