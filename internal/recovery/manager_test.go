package recovery

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinkerloft/deskpilot/internal/catalog"
	"github.com/tinkerloft/deskpilot/internal/knowledge"
	"github.com/tinkerloft/deskpilot/internal/metrics"
	"github.com/tinkerloft/deskpilot/internal/model"
	"github.com/tinkerloft/deskpilot/internal/oracle"
	"github.com/tinkerloft/deskpilot/internal/planstore"
	"github.com/tinkerloft/deskpilot/internal/snapshot"
	"github.com/tinkerloft/deskpilot/internal/tracker"
)

type stubPlanner struct {
	plan     model.Plan
	err      error
	lastReq  oracle.RecoveryRequest
	reqCount int
}

func (p *stubPlanner) GeneratePlan(_ context.Context, _ string, _ []model.KnowledgeItem, _ *string) (model.Plan, error) {
	return p.plan, p.err
}

func (p *stubPlanner) GenerateRecoveryPlan(_ context.Context, req oracle.RecoveryRequest) (model.Plan, error) {
	p.reqCount++
	p.lastReq = req
	return p.plan, p.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func clickAction(name string) model.Action {
	return model.Action{
		ToolName:  "click",
		Arguments: model.Arguments{"coordinate": model.CoordinateArg(1, 2)},
		Reasoning: "click " + name,
	}
}

// failedRun builds a three-action plan with step 0 completed and step 1 failed.
func failedRun(t *testing.T, store *planstore.Store, task string) *tracker.Tracker {
	t.Helper()
	plan := model.NewPlan([]model.Action{clickAction("open"), clickAction("save"), clickAction("close")}, "initial")
	tr, err := tracker.Start(store, task, plan, planstore.Metadata{}, 0, nil, discardLogger())
	require.NoError(t, err)
	require.NoError(t, tr.MarkCompleted(0, "opened"))
	require.NoError(t, tr.MarkFailed(1, "save button not found"))
	return tr
}

func newManager(t *testing.T, store *planstore.Store, planner oracle.Planner, maxAttempts int) (*Manager, *knowledge.Catalog, *snapshot.Cache) {
	t.Helper()
	kn := knowledge.Open(filepath.Join(t.TempDir(), "knowledge.yaml"), discardLogger())
	cache := snapshot.NewCache()
	m := NewManager(store, kn, planner, catalog.Default(), cache, metrics.New(), maxAttempts, discardLogger())
	return m, kn, cache
}

func TestRecoverMergesCompletedPrefix(t *testing.T) {
	store := planstore.NewStore(t.TempDir())
	planner := &stubPlanner{plan: model.NewPlan([]model.Action{clickAction("save again"), clickAction("close")}, "retry via menu")}
	m, _, cache := newManager(t, store, planner, 0)
	cache.Add("Window: Editor")

	tr := failedRun(t, store, "save the document")
	next, err := m.Recover(context.Background(), tr, 0)
	require.NoError(t, err)

	plan := next.Plan()
	assert.Equal(t, 2, plan.Version)
	require.Len(t, plan.Actions, 3)
	assert.Equal(t, "click open", plan.Actions[0].Reasoning)
	assert.Equal(t, "click save again", plan.Actions[1].Reasoning)

	state := next.State()
	assert.Equal(t, 1, state.CurrentStep)
	require.NotNil(t, state.ReplacesVersion)
	assert.Equal(t, 1, *state.ReplacesVersion)
	assert.Empty(t, state.Steps)

	// Request carries the failure context and the latest snapshot.
	req := planner.lastReq
	require.NotNil(t, req.Failed)
	assert.Equal(t, "save button not found", req.FailedError)
	assert.Len(t, req.Completed, 1)
	assert.Len(t, req.Pending, 2)
	require.NotNil(t, req.Snapshot)
	assert.Equal(t, "Window: Editor", *req.Snapshot)
}

func TestRecoverEnforcesAttemptLimit(t *testing.T) {
	store := planstore.NewStore(t.TempDir())
	planner := &stubPlanner{plan: model.NewPlan([]model.Action{clickAction("retry")}, "")}
	m, _, _ := newManager(t, store, planner, 3)

	tr := failedRun(t, store, "limited task")
	_, err := m.Recover(context.Background(), tr, 3)

	var limitErr *ReplanLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 3, limitErr.Attempts)
	assert.Zero(t, planner.reqCount)
}

func TestRecoverPropagatesPlannerError(t *testing.T) {
	store := planstore.NewStore(t.TempDir())
	planner := &stubPlanner{err: &oracle.PlanningError{Op: "recovery", Err: errors.New("timeout")}}
	m, _, _ := newManager(t, store, planner, 0)

	tr := failedRun(t, store, "doomed task")
	_, err := m.Recover(context.Background(), tr, 0)

	var planErr *oracle.PlanningError
	require.ErrorAs(t, err, &planErr)
}

func TestRecoverRejectsUnknownTools(t *testing.T) {
	store := planstore.NewStore(t.TempDir())
	planner := &stubPlanner{plan: model.NewPlan([]model.Action{{ToolName: "levitate"}}, "")}
	m, _, _ := newManager(t, store, planner, 0)

	tr := failedRun(t, store, "strange task")
	_, err := m.Recover(context.Background(), tr, 0)

	var planErr *oracle.PlanningError
	require.ErrorAs(t, err, &planErr)
	assert.Contains(t, err.Error(), "levitate")
}

func TestRecoverRequiresFailedStep(t *testing.T) {
	store := planstore.NewStore(t.TempDir())
	planner := &stubPlanner{}
	m, _, _ := newManager(t, store, planner, 0)

	plan := model.NewPlan([]model.Action{clickAction("only")}, "")
	tr, err := tracker.Start(store, "healthy task", plan, planstore.Metadata{}, 0, nil, discardLogger())
	require.NoError(t, err)

	_, err = m.Recover(context.Background(), tr, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no step has failed")
}

func TestRecoverDecaysSourcedKnowledge(t *testing.T) {
	store := planstore.NewStore(t.TempDir())
	planner := &stubPlanner{plan: model.NewPlan([]model.Action{clickAction("retry")}, "use the toolbar instead")}
	m, kn, _ := newManager(t, store, planner, 0)

	require.NoError(t, kn.Add(model.KnowledgeItem{ID: "kn-save", Description: "saving documents", TrustScore: model.TrustInitial}))

	plan := model.NewPlan([]model.Action{
		{ToolName: "click", Arguments: model.Arguments{"coordinate": model.CoordinateArg(3, 4)}, KnowledgeSourceID: "kn-save"},
	}, "")
	tr, err := tracker.Start(store, "save task", plan, planstore.Metadata{}, 0, nil, discardLogger())
	require.NoError(t, err)
	require.NoError(t, tr.MarkFailed(0, "menu closed unexpectedly"))

	_, err = m.Recover(context.Background(), tr, 0)
	require.NoError(t, err)

	item, ok := kn.Get("kn-save")
	require.True(t, ok)
	assert.InDelta(t, model.TrustInitial*model.TrustDecayFactor, item.TrustScore, 1e-9)
	require.Len(t, item.Learnings, 1)
	assert.Equal(t, "menu closed unexpectedly", item.Learnings[0].ErrorText)
	assert.Equal(t, "use the toolbar instead", item.Learnings[0].RecoveryApproach)
}
