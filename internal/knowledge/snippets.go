package knowledge

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/frontmatter"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tinkerloft/deskpilot/internal/model"
)

// snippetMeta is the YAML frontmatter of a markdown knowledge snippet.
type snippetMeta struct {
	ID          string  `yaml:"id"`
	Description string  `yaml:"description"`
	TrustScore  float64 `yaml:"trust_score"`
}

// ParseSnippet parses one markdown knowledge snippet: YAML frontmatter for
// metadata, body lines as the human-readable action sequence.
func ParseSnippet(r io.Reader) (model.KnowledgeItem, error) {
	var meta snippetMeta
	yamlFormat := frontmatter.NewFormat("---", "---", yaml.Unmarshal)
	body, err := frontmatter.Parse(r, &meta, yamlFormat)
	if err != nil {
		return model.KnowledgeItem{}, fmt.Errorf("parsing snippet frontmatter: %w", err)
	}
	if meta.Description == "" {
		return model.KnowledgeItem{}, fmt.Errorf("snippet is missing a description")
	}
	if meta.ID == "" {
		meta.ID = uuid.New().String()[:8]
	}
	if meta.TrustScore == 0 {
		meta.TrustScore = model.TrustInitial
	}

	var steps []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		steps = append(steps, strings.TrimLeft(line, "-*0123456789. "))
	}

	return model.KnowledgeItem{
		ID:             meta.ID,
		Description:    meta.Description,
		ActionSequence: steps,
		TrustScore:     meta.TrustScore,
	}, nil
}

// ImportSnippets loads every .md file in dir into the catalog, skipping
// files already present by id. Malformed snippets are skipped with a log.
func (c *Catalog) ImportSnippets(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading snippet dir: %w", err)
	}

	imported := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			c.logger.Warn("snippet unreadable, skipping", "file", e.Name(), "error", err)
			continue
		}
		item, err := ParseSnippet(bytes.NewReader(data))
		if err != nil {
			c.logger.Warn("snippet malformed, skipping", "file", e.Name(), "error", err)
			continue
		}
		if _, exists := c.Get(item.ID); exists {
			continue
		}
		if err := c.Add(item); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
