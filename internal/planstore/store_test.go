package planstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinkerloft/deskpilot/internal/model"
	"github.com/tinkerloft/deskpilot/internal/planstore"
)

func record(task string, version int) planstore.Record {
	return planstore.Record{
		Task: task,
		Plan: model.Plan{
			Version: version,
			Actions: []model.Action{{ToolName: "click", Arguments: model.Arguments{
				"coordinate": model.ListArg(model.StringArg("latest:button:OK")),
			}}},
			Reasoning: "click through the dialog",
		},
		ExecutionState: model.NewExecutionState(),
	}
}

func TestTaskID_Stable(t *testing.T) {
	a := planstore.TaskID("Open file report.txt")
	b := planstore.TaskID("Open file report.txt")
	c := planstore.TaskID("Open file other.txt")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 12)
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := planstore.NewStore(t.TempDir())
	rec := record("Open settings", 1)
	rec.Metadata.RetrievedKnowledgeIDs = []string{"k1", "k2"}

	require.NoError(t, store.Save(rec))

	loaded, err := store.Load("Open settings", 1)
	require.NoError(t, err)
	assert.Equal(t, rec.Plan.Reasoning, loaded.Plan.Reasoning)
	assert.Equal(t, []string{"k1", "k2"}, loaded.Metadata.RetrievedKnowledgeIDs)
	require.Len(t, loaded.Plan.Actions, 1)
	assert.Equal(t, model.ArgKindList, loaded.Plan.Actions[0].Arguments["coordinate"].Kind)
}

func TestStore_VersionsAndLoadLatest(t *testing.T) {
	store := planstore.NewStore(t.TempDir())

	for v := 1; v <= 3; v++ {
		require.NoError(t, store.Save(record("Open settings", v)))
	}
	// A different task must not interfere with the scan.
	require.NoError(t, store.Save(record("Close settings", 9)))

	versions, err := store.Versions("Open settings")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions)

	latest, err := store.LoadLatest("Open settings")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Plan.Version)
}

func TestStore_LoadLatest_Empty(t *testing.T) {
	store := planstore.NewStore(t.TempDir())
	_, err := store.LoadLatest("never ran")
	assert.Error(t, err)
}

func TestStore_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store := planstore.NewStore(dir)
	require.NoError(t, store.Save(record("Open settings", 1)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Ext(entries[0].Name()), ".json")
}

func TestStore_List(t *testing.T) {
	store := planstore.NewStore(t.TempDir())
	require.NoError(t, store.Save(record("Open settings", 1)))
	require.NoError(t, store.Save(record("Open settings", 2)))
	require.NoError(t, store.Save(record("Close settings", 1)))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 2)

	byTask := map[string]int{}
	for _, rec := range records {
		byTask[rec.Task] = rec.Plan.Version
	}
	assert.Equal(t, 2, byTask["Open settings"])
	assert.Equal(t, 1, byTask["Close settings"])
}

func TestStore_List_EmptyDir(t *testing.T) {
	store := planstore.NewStore(filepath.Join(t.TempDir(), "nonexistent"))
	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}
