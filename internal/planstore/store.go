// Package planstore persists plans and their execution state, one JSON file
// per (task, version) pair.
package planstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/tinkerloft/deskpilot/internal/model"
)

// Record is the persisted unit: a plan version, its execution state and the
// knowledge that informed it. A plan and its state are owned together.
type Record struct {
	Task           string               `json:"task"`
	Plan           model.Plan           `json:"plan"`
	Metadata       Metadata             `json:"metadata"`
	ExecutionState model.ExecutionState `json:"execution_state"`
}

// Metadata carries provenance for a plan version.
type Metadata struct {
	RetrievedKnowledgeIDs []string `json:"retrieved_knowledge_ids,omitempty"`
}

// TaskID derives a stable plan identifier from the task text. Concurrent
// executions of distinct tasks therefore never collide on files.
func TaskID(task string) string {
	sum := sha256.Sum256([]byte(task))
	return hex.EncodeToString(sum[:])[:12]
}

var versionSuffix = regexp.MustCompile(`-v(\d+)\.json$`)

// Store writes plan records under one directory. Filenames are
// "plan-{taskID}-v{version}.json" so the latest version for a task is
// discoverable by directory scan without an index file.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(task string, version int) string {
	return filepath.Join(s.dir, fmt.Sprintf("plan-%s-v%d.json", TaskID(task), version))
}

// Save persists a record, atomically via tmp+rename so a crash mid-write
// never leaves a truncated file.
func (s *Store) Save(rec Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating plan dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling plan record: %w", err)
	}

	path := s.path(rec.Task, rec.Plan.Version)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing plan record tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming plan record: %w", err)
	}
	return nil
}

// Load reads the record for a specific plan version.
func (s *Store) Load(task string, version int) (Record, error) {
	data, err := os.ReadFile(s.path(task, version))
	if err != nil {
		return Record{}, fmt.Errorf("reading plan record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("parsing plan record: %w", err)
	}
	return rec, nil
}

// Versions returns all persisted versions for a task, ascending.
func (s *Store) Versions(task string) ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading plan dir: %w", err)
	}

	prefix := "plan-" + TaskID(task) + "-v"
	var versions []int
	for _, e := range entries {
		if e.IsDir() || len(e.Name()) <= len(prefix) || e.Name()[:len(prefix)] != prefix {
			continue
		}
		m := versionSuffix.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

// List returns the latest record of every task in the store, ordered by
// task id. Unparseable files are skipped.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading plan dir: %w", err)
	}

	latest := make(map[string]Record)
	best := make(map[string]int)
	for _, e := range entries {
		if e.IsDir() || versionSuffix.FindStringSubmatch(e.Name()) == nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		id := TaskID(rec.Task)
		if rec.Plan.Version > best[id] {
			best[id] = rec.Plan.Version
			latest[id] = rec
		}
	}

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, latest[id])
	}
	return records, nil
}

// LoadLatest reads the highest persisted version for a task.
func (s *Store) LoadLatest(task string) (Record, error) {
	versions, err := s.Versions(task)
	if err != nil {
		return Record{}, err
	}
	if len(versions) == 0 {
		return Record{}, fmt.Errorf("no plan recorded for task %q", TaskID(task))
	}
	return s.Load(task, versions[len(versions)-1])
}
