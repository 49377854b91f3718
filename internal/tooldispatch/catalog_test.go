// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tooldispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestCatalogDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	index := `{
		"systems": [
			{"key": "acme", "file": "acme.json", "manufacturer": "Acme Fittings", "category": "pipe_systems"},
			{"key": "bolt", "file": "bolt.json", "manufacturer": "Bolt Valves", "category": "valves"}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_index.json"), []byte(index), 0o644))

	keywords := `{
		"elbow": {"catalogs": ["acme", "bolt"], "count": 5},
		"valve": {"catalogs": ["bolt"], "count": 3}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_keywords.json"), []byte(keywords), 0o644))

	acme := `{
		"manufacturer": "Acme Fittings",
		"category": "pipe_systems",
		"products": [
			{"article_nr": "A-100", "name": "Elbow 90deg 22mm", "unit": "pcs", "price_cents": 250},
			{"article_nr": "A-101", "name": "Straight Coupling 22mm", "unit": "pcs", "price_cents": 180}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.json"), []byte(acme), 0o644))

	bolt := `{
		"manufacturer": "Bolt Valves",
		"category": "valves",
		"products": [
			{"article_nr": "B-200", "name": "Ball Valve 1in", "unit": "pcs", "price_cents": 990}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bolt.json"), []byte(bolt), 0o644))

	return dir
}

func TestLoadCatalogStoreAndSuggest(t *testing.T) {
	store, err := LoadCatalogStore(writeTestCatalogDir(t))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"acme", "bolt"}, store.CatalogKeys())
	assert.Equal(t, []string{"acme", "bolt"}, store.SuggestCatalogs("elbow", 0))
	assert.Equal(t, []string{"bolt"}, store.SuggestCatalogs("valve", 0))
	assert.Nil(t, store.SuggestCatalogs("nonexistent", 0))
}

func TestCatalogLoadAndSearch(t *testing.T) {
	store, err := LoadCatalogStore(writeTestCatalogDir(t))
	require.NoError(t, err)

	c, err := store.Load("acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Fittings", c.Manufacturer)
	assert.Len(t, c.Products, 2)

	hits := c.Search("elbow", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "A-100", hits[0].ArticleNr)
}

func TestCatalogLoadUnknownKey(t *testing.T) {
	store, err := LoadCatalogStore(writeTestCatalogDir(t))
	require.NoError(t, err)
	_, err = store.Load("nope")
	assert.Error(t, err)
}

func TestProductByArticleNr(t *testing.T) {
	store, err := LoadCatalogStore(writeTestCatalogDir(t))
	require.NoError(t, err)

	p, ok := store.ProductByArticleNr("bolt", "B-200")
	require.True(t, ok)
	assert.Equal(t, "Ball Valve 1in", p.Name)
	assert.Equal(t, "Bolt Valves", p.Manufacturer)

	_, ok = store.ProductByArticleNr("bolt", "nonexistent")
	assert.False(t, ok)
}

func TestManufacturersGroupedByCategory(t *testing.T) {
	store, err := LoadCatalogStore(writeTestCatalogDir(t))
	require.NoError(t, err)

	byCategory := store.Manufacturers()
	assert.ElementsMatch(t, []string{"Acme Fittings"}, byCategory["pipe_systems"])
	assert.ElementsMatch(t, []string{"Bolt Valves"}, byCategory["valves"])
}
