// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package knowledge is the SHK standards/technical-knowledge base (§6
// "Knowledge base ... consumed only by C6"): a read-only index of
// norms/regulations and structured technical topics, loaded once from
// local disk and searched by the Product Expert Client's
// search_knowledge_base and load_standards_document tools (§4.6).
// Grounded directly on original_source/server/app/wissen.py's
// suche_normen/suche_fachwissen (same two-file index, same
// keyword-against-serialized-JSON search for topics, same
// source-citation extraction), reimplemented in Go with the index
// field names translated to English.
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Rule is one numbered requirement inside a Norm (e.g. DIN 1988-200's
// "3-liter rule").
type Rule struct {
	Name    string `json:"rule"`
	Content string `json:"content"`
}

// Norm is one indexed standard or regulation.
type Norm struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Area        string `json:"area"`
	Description string `json:"description"`
	Rules       []Rule `json:"rules"`
}

type normsIndexFile struct {
	Norms []Norm `json:"norms"`
}

// Topic is one arbitrarily-shaped technical-knowledge entry (material
// properties, pressure ratings, temperature limits, ...); kept as a raw
// map since its shape varies by area and this package only ever
// searches and cites it, never interprets individual fields.
type Topic map[string]interface{}

type area struct {
	Name   string          `json:"name"`
	Topics map[string]Topic `json:"topics"`
}

type fachwissenFile struct {
	Areas map[string]area `json:"areas"`
}

// Store is the loaded, in-memory view over both index files. Read-only
// after load, so no lock is needed (§5 "Catalog data is read-only after
// load; no lock needed" applies identically here).
type Store struct {
	norms  []Norm
	byID   map[string]Norm
	areas  map[string]area
}

// Load reads normsIndexPath and fachwissenPath. Either file may be
// absent (a deployment may carry only one): a missing or unreadable file
// is skipped without logging and yields an empty index rather than
// failing the whole daemon.
func Load(normsIndexPath, fachwissenPath string) (*Store, error) {
	s := &Store{byID: make(map[string]Norm), areas: make(map[string]area)}

	if raw, err := os.ReadFile(normsIndexPath); err == nil {
		var file normsIndexFile
		if err := json.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("knowledge: parse norms index %s: %w", filepath.Base(normsIndexPath), err)
		}
		s.norms = file.Norms
		for _, n := range file.Norms {
			s.byID[strings.ToLower(n.ID)] = n
		}
	}

	if raw, err := os.ReadFile(fachwissenPath); err == nil {
		var file fachwissenFile
		if err := json.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("knowledge: parse technical knowledge %s: %w", filepath.Base(fachwissenPath), err)
		}
		s.areas = file.Areas
	}

	return s, nil
}

// NormMatch is one search_knowledge_base hit against the norms index:
// the norm plus whichever of its rules actually matched the query (or,
// failing that, its first few rules as context — suche_normen's
// fallback when the norm itself matched but no single rule's text did).
type NormMatch struct {
	Norm         Norm
	MatchedRules []Rule
}

// SearchNorms finds every norm whose name/title/description or whose
// rules mention query (case-insensitive substring), optionally
// restricted to area.
func (s *Store) SearchNorms(query, area string) []NormMatch {
	needle := strings.ToLower(strings.TrimSpace(query))
	var matches []NormMatch
	for _, norm := range s.norms {
		if area != "" && area != "all" && norm.Area != area {
			continue
		}

		haystack := strings.ToLower(norm.Name + " " + norm.Title + " " + norm.Description)
		var matchedRules []Rule
		for _, rule := range norm.Rules {
			ruleText := strings.ToLower(rule.Name + " " + rule.Content)
			if strings.Contains(ruleText, needle) {
				matchedRules = append(matchedRules, rule)
			}
		}

		if strings.Contains(haystack, needle) || len(matchedRules) > 0 {
			if len(matchedRules) == 0 {
				matchedRules = firstN(norm.Rules, 3)
			}
			matches = append(matches, NormMatch{Norm: norm, MatchedRules: matchedRules})
		}
	}
	return matches
}

// NormByID looks up one norm by its ID, case-insensitively and with any
// spaces in id read as underscores, for
// load_standards_document (§4.6). A real PDF-analysis pass over the
// original source document is out of scope here — this package only
// ever serves the structured index entry, which already carries every
// rule and citation the scrape produced.
func (s *Store) NormByID(id string) (Norm, bool) {
	n, ok := s.byID[strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), " ", "_"))]
	return n, ok
}

// TopicMatch is one search_knowledge_base hit against the structured
// technical-knowledge file.
type TopicMatch struct {
	Area      string
	Topic     string
	Relevance float64
	Data      Topic
	Sources   []string
}

// SearchTechnicalKnowledge searches every topic's serialized JSON for
// each whitespace-separated term in query, the same
// normalize-then-score approach as suche_fachwissen: hyphens/underscores
// fold to spaces before splitting, and a long compact match (the query
// with all separators stripped) earns a relevance bonus.
func (s *Store) SearchTechnicalKnowledge(query, areaFilter string) []TopicMatch {
	normalized := strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(query))
	terms := strings.Fields(normalized)
	compact := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(query))

	var matches []TopicMatch
	for areaKey, areaData := range s.areas {
		if areaFilter != "" && areaFilter != "all" && areaKey != areaFilter {
			continue
		}
		for topicKey, topicData := range areaData.Topics {
			raw, err := json.Marshal(topicData)
			if err != nil {
				continue
			}
			serialized := strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(string(raw)))
			serialized += " " + strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(topicKey))

			hitCount := 0
			for _, term := range terms {
				if strings.Contains(serialized, term) {
					hitCount++
				}
			}
			bonus := 0
			if len(compact) > 5 && strings.Contains(strings.ReplaceAll(serialized, " ", ""), compact) {
				bonus = 2
			}
			if hitCount == 0 && bonus == 0 {
				continue
			}

			relevance := float64(hitCount+bonus) / float64(maxInt(len(terms), 1))
			name := areaData.Name
			if name == "" {
				name = areaKey
			}
			matches = append(matches, TopicMatch{
				Area:      name,
				Topic:     topicKey,
				Relevance: relevance,
				Data:      topicData,
				Sources:   extractSources(topicData),
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Relevance > matches[j].Relevance })
	return matches
}

// extractSources walks a Topic's nested maps/slices collecting every
// "source" citation it carries, deduplicated, matching
// wissen.py's _extrahiere_quellen.
func extractSources(data interface{}) []string {
	var sources []string
	seen := make(map[string]bool)
	var walk func(interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case map[string]interface{}:
			if src, ok := val["source"].(string); ok && src != "" && !seen[src] {
				seen[src] = true
				sources = append(sources, src)
			}
			for _, nested := range val {
				walk(nested)
			}
		case []interface{}:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(map[string]interface{}(data.(Topic)))
	return sources
}

func firstN(rules []Rule, n int) []Rule {
	if len(rules) <= n {
		return rules
	}
	return rules[:n]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
