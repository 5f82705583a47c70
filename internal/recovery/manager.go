// Package recovery turns a failed plan version into the next one: it gathers
// the failure context, asks the planning oracle for a plan covering the
// unsolved tail, and merges it behind the completed prefix.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinkerloft/deskpilot/internal/catalog"
	"github.com/tinkerloft/deskpilot/internal/knowledge"
	"github.com/tinkerloft/deskpilot/internal/metrics"
	"github.com/tinkerloft/deskpilot/internal/model"
	"github.com/tinkerloft/deskpilot/internal/oracle"
	"github.com/tinkerloft/deskpilot/internal/planstore"
	"github.com/tinkerloft/deskpilot/internal/snapshot"
	"github.com/tinkerloft/deskpilot/internal/tracker"
)

// DefaultMaxReplanAttempts bounds recovery rounds per task run. The count
// covers lifetime-of-run attempts, not consecutive ones.
const DefaultMaxReplanAttempts = 3

// How many knowledge items accompany a recovery request.
const recoveryKnowledgeTopK = 3

// ReplanLimitExceededError is returned once a run has used up its recovery
// attempts. The caller surfaces it; no further planning happens.
type ReplanLimitExceededError struct {
	Task     string
	Attempts int
}

func (e *ReplanLimitExceededError) Error() string {
	return fmt.Sprintf("task %q exceeded %d replan attempts", e.Task, e.Attempts)
}

// Manager coordinates one recovery round.
type Manager struct {
	store       *planstore.Store
	knowledge   *knowledge.Catalog
	planner     oracle.Planner
	catalog     *catalog.Catalog
	cache       *snapshot.Cache
	metrics     *metrics.Metrics
	maxAttempts int
	logger      *slog.Logger
}

// NewManager creates a recovery manager. maxAttempts <= 0 selects the default.
func NewManager(store *planstore.Store, kn *knowledge.Catalog, planner oracle.Planner,
	cat *catalog.Catalog, cache *snapshot.Cache, m *metrics.Metrics, maxAttempts int, logger *slog.Logger) *Manager {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReplanAttempts
	}
	return &Manager{
		store:       store,
		knowledge:   kn,
		planner:     planner,
		catalog:     cat,
		cache:       cache,
		metrics:     m,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// MaxAttempts returns the configured replan budget.
func (m *Manager) MaxAttempts() int { return m.maxAttempts }

// Recover produces the next plan version for a failed run. attempt is the
// number of replans already consumed; the first recovery passes 0.
//
// The returned tracker is positioned at the first unexecuted action, so the
// failed step is retried (in whatever form the recovery plan gives it) rather
// than skipped.
func (m *Manager) Recover(ctx context.Context, t *tracker.Tracker, attempt int) (*tracker.Tracker, error) {
	task := t.Record().Task
	if attempt >= m.maxAttempts {
		return nil, &ReplanLimitExceededError{Task: task, Attempts: m.maxAttempts}
	}

	sum := t.Summarize()
	if sum.FailedAction == nil {
		return nil, fmt.Errorf("recovery requested for task %q but no step has failed", task)
	}

	items := m.knowledge.Retrieve(recoveryQuery(sum), recoveryKnowledgeTopK)

	var snapText *string
	if snap, ok := m.cache.Latest(); ok {
		snapText = &snap.Text
	}

	m.logger.Info("generating recovery plan",
		"task", task,
		"failed_version", t.Plan().Version,
		"attempt", attempt+1,
		"completed", len(sum.CompletedActions),
		"knowledge_items", len(items))

	recPlan, err := m.planner.GenerateRecoveryPlan(ctx, oracle.RecoveryRequest{
		Task:        task,
		Completed:   sum.CompletedActions,
		Failed:      sum.FailedAction,
		FailedError: sum.FailedError,
		Pending:     sum.PendingActions,
		Knowledge:   items,
		Snapshot:    snapText,
	})
	if err != nil {
		return nil, fmt.Errorf("recovery planning for task %q: %w", task, err)
	}
	if err := m.catalog.ValidatePlan(recPlan); err != nil {
		return nil, &oracle.PlanningError{Op: "recovery", Err: err}
	}

	m.recordFailureLearning(task, sum, recPlan.Reasoning)

	merged := model.MergeRecovery(sum.CompletedActions, recPlan, t.Plan().Version)
	replaces := t.Plan().Version

	meta := planstore.Metadata{RetrievedKnowledgeIDs: itemIDs(items)}
	next, err := tracker.Start(m.store, task, merged, meta, len(sum.CompletedActions), &replaces, m.logger)
	if err != nil {
		return nil, err
	}

	m.metrics.ReplansTotal.Inc()
	m.logger.Info("recovery plan installed",
		"task", task,
		"version", merged.Version,
		"replaces", replaces,
		"resume_step", len(sum.CompletedActions))
	return next, nil
}

// recordFailureLearning decays the knowledge item the failed action was
// sourced from, attaching what happened and how recovery approached it.
func (m *Manager) recordFailureLearning(task string, sum tracker.Summary, approach string) {
	id := sum.FailedAction.KnowledgeSourceID
	if id == "" {
		return
	}
	l := model.Learning{
		Task:             task,
		StepNum:          len(sum.CompletedActions),
		FailedAction:     sum.FailedAction.ToolName,
		ErrorText:        sum.FailedError,
		RecoveryApproach: approach,
	}
	if err := m.knowledge.RecordFailure(id, l); err != nil {
		m.logger.Warn("recording failure learning", "knowledge_id", id, "error", err)
	}
}

func recoveryQuery(sum tracker.Summary) string {
	q := sum.FailedAction.Reasoning
	if sum.FailedError != "" {
		q += " " + sum.FailedError
	}
	if q == "" {
		q = sum.FailedAction.ToolName
	}
	return q
}

func itemIDs(items []model.KnowledgeItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}
