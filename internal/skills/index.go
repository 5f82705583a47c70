// Package skills matches incoming tasks against a library of previously
// verified action plans.
package skills

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"

	"github.com/tinkerloft/deskpilot/internal/model"
)

// Default gating thresholds for FindMatch.
const (
	DefaultSimilarityThreshold = 0.75
	DefaultMinSuccessRate      = 0.8
)

// libraryFile is the on-disk shape of the skill library. It is rewritten
// wholesale on every mutation.
type libraryFile struct {
	Version     int                   `yaml:"version"`
	UpdatedAt   time.Time             `yaml:"updated_at"`
	TotalSkills int                   `yaml:"total_skills"`
	Skills      []model.VerifiedSkill `yaml:"skills"`
}

// Index holds the verified skill collection. Reads may be concurrent;
// writes rewrite the whole library file.
type Index struct {
	mu     sync.RWMutex
	path   string
	skills []model.VerifiedSkill
	logger *slog.Logger
}

// Load opens the skill library at path. A missing file yields an empty
// library; a corrupt one is logged and likewise treated as empty rather
// than crashing the session.
func Load(path string, logger *slog.Logger) *Index {
	idx := &Index{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx
	}
	if err != nil {
		logger.Warn("skill library unreadable, starting empty", "path", path, "error", err)
		return idx
	}

	var file libraryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		logger.Warn("skill library corrupt, starting empty", "path", path, "error", err)
		return idx
	}
	idx.skills = file.Skills
	return idx
}

// Skills returns a copy of the stored skills.
func (idx *Index) Skills() []model.VerifiedSkill {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]model.VerifiedSkill, len(idx.skills))
	copy(out, idx.skills)
	return out
}

// Similarity computes a case-insensitive sequence-similarity ratio between
// two task descriptions. This is lexical matching, not semantic embedding.
func Similarity(a, b string) float64 {
	return difflib.NewMatcher(chars(a), chars(b)).Ratio()
}

func chars(s string) []string {
	s = strings.ToLower(s)
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// FindMatch returns the stored skill most similar to the task, provided it
// clears both the similarity threshold and the minimum success rate. Among
// qualifying skills the highest similarity wins.
func (idx *Index) FindMatch(task string, similarityThreshold, minSuccessRate float64) (model.VerifiedSkill, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var (
		best      model.VerifiedSkill
		bestRatio float64
		found     bool
	)
	for _, skill := range idx.skills {
		if skill.Metadata.SuccessRate < minSuccessRate {
			continue
		}
		ratio := Similarity(task, skill.TaskDescription)
		if ratio < similarityThreshold {
			continue
		}
		if !found || ratio > bestRatio {
			best = skill
			bestRatio = ratio
			found = true
		}
	}
	if found {
		idx.logger.Info("skill index hit", "skill_id", best.SkillID, "similarity", bestRatio)
	}
	return best, found
}

// AddSkill stores a newly verified plan with a fresh id and default
// metadata, and persists the library.
func (idx *Index) AddSkill(taskDescription string, actions []model.Action, tags []string) (model.VerifiedSkill, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	skill := model.VerifiedSkill{
		SkillID:         uuid.New().String()[:8],
		TaskDescription: taskDescription,
		ActionPlan:      actions,
		Metadata: model.SkillMetadata{
			SuccessRate: 1.0,
			Provenance:  map[string]int{"human_verified": 1},
		},
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	}
	idx.skills = append(idx.skills, skill)
	if err := idx.persistLocked(); err != nil {
		return model.VerifiedSkill{}, err
	}
	return skill, nil
}

// UpdateUsageStats records one use of a skill and recomputes its success
// rate as successCount/timesUsed.
func (idx *Index) UpdateUsageStats(skillID string, success bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i := range idx.skills {
		if idx.skills[i].SkillID != skillID {
			continue
		}
		idx.skills[i].RecordUse(success)
		return idx.persistLocked()
	}
	return fmt.Errorf("skill %q not found", skillID)
}

func (idx *Index) persistLocked() error {
	data, err := yaml.Marshal(libraryFile{
		Version:     1,
		UpdatedAt:   time.Now().UTC(),
		TotalSkills: len(idx.skills),
		Skills:      idx.skills,
	})
	if err != nil {
		return fmt.Errorf("marshaling skill library: %w", err)
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing skill library tmp: %w", err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		return fmt.Errorf("renaming skill library: %w", err)
	}
	return nil
}
