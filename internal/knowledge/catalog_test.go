package knowledge_test

import (
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinkerloft/deskpilot/internal/knowledge"
	"github.com/tinkerloft/deskpilot/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func openCatalog(t *testing.T) (*knowledge.Catalog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knowledge.yaml")
	return knowledge.Open(path, discardLogger()), path
}

func TestCatalog_AddAndReload(t *testing.T) {
	cat, path := openCatalog(t)

	item := model.KnowledgeItem{
		ID:             "k1",
		Description:    "Open the file dialog via the File menu",
		ActionSequence: []string{"Click File", "Click Open..."},
		TrustScore:     model.TrustInitial,
	}
	require.NoError(t, cat.Add(item))
	assert.Error(t, cat.Add(item), "duplicate ids are rejected")

	reloaded := knowledge.Open(path, discardLogger())
	got, ok := reloaded.Get("k1")
	require.True(t, ok)
	assert.Equal(t, item.Description, got.Description)
}

func TestCatalog_RecordFailureDecaysTrust(t *testing.T) {
	cat, path := openCatalog(t)
	require.NoError(t, cat.Add(model.KnowledgeItem{ID: "k1", Description: "save a document"}))

	for i := 0; i < 3; i++ {
		require.NoError(t, cat.RecordFailure("k1", model.Learning{
			Task:         "Save report",
			StepNum:      i,
			FailedAction: "click",
			ErrorText:    "element not found",
		}))
	}

	got, _ := cat.Get("k1")
	assert.InDelta(t, math.Pow(model.TrustDecayFactor, 3), got.TrustScore, 1e-9)
	assert.Len(t, got.Learnings, 3)

	// Decay and learnings are rewritten in place on disk.
	reloaded := knowledge.Open(path, discardLogger())
	got, _ = reloaded.Get("k1")
	assert.Len(t, got.Learnings, 3)

	assert.Error(t, cat.RecordFailure("missing", model.Learning{}))
}

func TestCatalog_MalformedFileFallsBackToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml: ["), 0o644))

	cat := knowledge.Open(path, discardLogger())
	assert.Empty(t, cat.Items())
}

func TestCatalog_Retrieve(t *testing.T) {
	cat, _ := openCatalog(t)
	require.NoError(t, cat.Add(model.KnowledgeItem{
		ID: "dialogs", Description: "dismiss modal dialogs before clicking toolbar buttons",
	}))
	require.NoError(t, cat.Add(model.KnowledgeItem{
		ID: "menus", Description: "open nested menus slowly",
	}))
	require.NoError(t, cat.Add(model.KnowledgeItem{
		ID: "unrelated", Description: "change the wallpaper",
	}))

	items := cat.Retrieve("clicking the toolbar failed, a modal dialog was in the way", 3)
	require.NotEmpty(t, items)
	assert.Equal(t, "dialogs", items[0].ID)
	for _, item := range items {
		assert.NotEqual(t, "unrelated", item.ID)
	}

	assert.Nil(t, cat.Retrieve("", 3))
	assert.Nil(t, cat.Retrieve("anything", 0))
}

func TestCatalog_RetrievePrefersTrusted(t *testing.T) {
	cat, _ := openCatalog(t)
	require.NoError(t, cat.Add(model.KnowledgeItem{
		ID: "worn", Description: "click the save button on the toolbar", TrustScore: model.TrustFloor,
	}))
	require.NoError(t, cat.Add(model.KnowledgeItem{
		ID: "fresh", Description: "click the save button on the toolbar", TrustScore: model.TrustInitial,
	}))

	items := cat.Retrieve("click the save button", 1)
	require.Len(t, items, 1)
	assert.Equal(t, "fresh", items[0].ID)
}

func TestParseSnippet(t *testing.T) {
	snippet := `---
id: save-as
description: Save a document under a new name
trust_score: 0.9
---
1. Open the File menu
2. Click "Save As..."
3. Type the new name
`
	item, err := knowledge.ParseSnippet(strings.NewReader(snippet))
	require.NoError(t, err)
	assert.Equal(t, "save-as", item.ID)
	assert.Equal(t, 0.9, item.TrustScore)
	require.Len(t, item.ActionSequence, 3)
	assert.Equal(t, `Open the File menu`, item.ActionSequence[0])
}

func TestImportSnippets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.md"), []byte(
		"---\nid: s1\ndescription: close popups\n---\n- press escape\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.md"), []byte("no frontmatter at all"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not markdown"), 0o644))

	cat, _ := openCatalog(t)
	n, err := cat.ImportSnippets(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Re-import is a no-op for known ids.
	n, err = cat.ImportSnippets(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
