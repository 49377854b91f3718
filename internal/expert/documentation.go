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
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
)

const documentationFetchTimeout = 10 * time.Second

// DocumentationEntry is one article number's indexed technical
// documentation. The catalog scrapers that actually log into a
// manufacturer's portal and pull these PDFs down are out of scope here
// (they are an external collaborator per §6) — this type only describes
// what load_product_documentation hands back to the model once that
// collaborator has populated the cache.
type DocumentationEntry struct {
	ArticleNr string `json:"article_nr"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	URL       string `json:"url,omitempty"`
}

// DocumentationIndex looks up pre-scraped product documentation by
// article number. It is read-only, grounded the same way CatalogStore
// is: a directory of JSON loaded once, indexed by article number.
type DocumentationIndex struct {
	byArticleNr map[string]DocumentationEntry
	remote      *resty.Client
}

// LoadDocumentationIndex reads every *.json file directly under dir,
// each one an array of DocumentationEntry, and indexes them by article
// number. A missing dir is not an error: a deployment may rely solely
// on remoteBaseURL.
func LoadDocumentationIndex(dir, remoteBaseURL string) (*DocumentationIndex, error) {
	idx := &DocumentationIndex{byArticleNr: make(map[string]DocumentationEntry)}
	if remoteBaseURL != "" {
		idx.remote = resty.New().SetBaseURL(remoteBaseURL).SetTimeout(documentationFetchTimeout)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("expert: read documentation dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("expert: read %s: %w", entry.Name(), err)
		}
		var batch []DocumentationEntry
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("expert: parse %s: %w", entry.Name(), err)
		}
		for _, d := range batch {
			idx.byArticleNr[d.ArticleNr] = d
		}
	}
	return idx, nil
}

// Lookup returns the cached documentation for articleNr, falling back to
// a single HTTPS GET against remoteBaseURL/<articleNr> when the index
// has no local entry and a remote client is configured. go-resty is
// used here specifically because this is the one expert-side fetch that
// needs per-call timeout/retry control rather than the SDKs'
// already-wrapped HTTP transports that providers.go relies on.
func (idx *DocumentationIndex) Lookup(ctx context.Context, articleNr string) (DocumentationEntry, bool, error) {
	if entry, ok := idx.byArticleNr[articleNr]; ok {
		return entry, true, nil
	}
	if idx.remote == nil {
		return DocumentationEntry{}, false, nil
	}

	var entry DocumentationEntry
	resp, err := idx.remote.R().
		SetContext(ctx).
		SetResult(&entry).
		Get("/" + articleNr)
	if err != nil {
		return DocumentationEntry{}, false, fmt.Errorf("expert: fetch documentation for %q: %w", articleNr, err)
	}
	if resp.IsError() {
		return DocumentationEntry{}, false, nil
	}
	return entry, true, nil
}
