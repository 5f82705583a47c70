// Package knowledge provides local persistent storage and retrieval for
// knowledge items.
package knowledge

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinkerloft/deskpilot/internal/model"
)

// catalogFile is the on-disk shape of the knowledge catalog.
type catalogFile struct {
	Version   int                   `yaml:"version"`
	UpdatedAt time.Time             `yaml:"updated_at"`
	Items     []model.KnowledgeItem `yaml:"items"`
}

// Catalog manages the knowledge catalog file. Mutations rewrite the whole
// file atomically; the catalog is a single-writer resource.
type Catalog struct {
	mu     sync.RWMutex
	path   string
	items  []model.KnowledgeItem
	logger *slog.Logger
}

// Open loads the catalog at path, starting empty if the file does not exist.
// A malformed file is treated as empty and logged rather than fatal.
func Open(path string, logger *slog.Logger) *Catalog {
	c := &Catalog{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c
	}
	if err != nil {
		logger.Warn("knowledge catalog unreadable, starting empty", "path", path, "error", err)
		return c
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		logger.Warn("knowledge catalog malformed, starting empty", "path", path, "error", err)
		return c
	}
	c.items = file.Items
	return c
}

// Items returns a copy of all knowledge items.
func (c *Catalog) Items() []model.KnowledgeItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.KnowledgeItem, len(c.items))
	copy(out, c.items)
	return out
}

// Get returns the item with the given id.
func (c *Catalog) Get(id string) (model.KnowledgeItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, item := range c.items {
		if item.ID == id {
			return item, true
		}
	}
	return model.KnowledgeItem{}, false
}

// Add appends an item to the catalog and persists.
func (c *Catalog) Add(item model.KnowledgeItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item.TrustScore == 0 {
		item.TrustScore = model.TrustInitial
	}
	for _, existing := range c.items {
		if existing.ID == item.ID {
			return fmt.Errorf("knowledge item %q already exists", item.ID)
		}
	}
	c.items = append(c.items, item)
	return c.persistLocked()
}

// RecordFailure appends a learning to the identified item and decays its
// trust score in place, then rewrites the catalog.
func (c *Catalog) RecordFailure(itemID string, l model.Learning) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == itemID {
			c.items[i].RecordFailure(l)
			return c.persistLocked()
		}
	}
	return fmt.Errorf("knowledge item %q not found", itemID)
}

// Retrieve returns up to topK items ranked by lexical overlap with the
// query, weighted by trust score. It satisfies the retrieval contract the
// recovery manager consumes; a semantic retriever can be swapped in behind
// the same signature.
func (c *Catalog) Retrieve(query string, topK int) []model.KnowledgeItem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	terms := tokenize(query)
	if len(terms) == 0 || topK <= 0 {
		return nil
	}

	type scored struct {
		item  model.KnowledgeItem
		score float64
	}
	var ranked []scored
	for _, item := range c.items {
		overlap := overlapScore(terms, tokenize(item.Description+" "+strings.Join(item.ActionSequence, " ")))
		if overlap == 0 {
			continue
		}
		ranked = append(ranked, scored{item: item, score: overlap * item.TrustScore})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	out := make([]model.KnowledgeItem, len(ranked))
	for i, s := range ranked {
		out[i] = s.item
	}
	return out
}

func (c *Catalog) persistLocked() error {
	data, err := yaml.Marshal(catalogFile{
		Version:   1,
		UpdatedAt: time.Now().UTC(),
		Items:     c.items,
	})
	if err != nil {
		return fmt.Errorf("marshaling knowledge catalog: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing knowledge catalog tmp: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("renaming knowledge catalog: %w", err)
	}
	return nil
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(tok) > 2 {
			out[tok] = true
		}
	}
	return out
}

func overlapScore(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if doc[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
