// Package tracker records per-step outcomes for one plan version and keeps
// them persisted so execution state survives a crash between steps.
package tracker

import (
	"fmt"
	"log/slog"

	"github.com/tinkerloft/deskpilot/internal/model"
	"github.com/tinkerloft/deskpilot/internal/planstore"
)

// Summary is the derived view of a plan's progress. The pending window
// starts AT the first failed step, so a retried step is always the failed
// one, not the one following it.
type Summary struct {
	CompletedActions []model.Action
	FailedAction     *model.Action
	FailedError      string
	PendingActions   []model.Action
}

// Tracker attaches execution state to one plan version. Every mutation is
// written through to the plan store before returning.
type Tracker struct {
	store  *planstore.Store
	rec    planstore.Record
	logger *slog.Logger
}

// Start creates a tracker for a fresh plan version and persists the initial
// record. startStep is the index of the first unexecuted action; recovery
// plans start past their carried-over completed prefix.
func Start(store *planstore.Store, task string, plan model.Plan, meta planstore.Metadata, startStep int, replaces *int, logger *slog.Logger) (*Tracker, error) {
	state := model.NewExecutionState()
	state.CurrentStep = startStep
	state.ReplacesVersion = replaces

	t := &Tracker{
		store: store,
		rec: planstore.Record{
			Task:           task,
			Plan:           plan,
			Metadata:       meta,
			ExecutionState: state,
		},
		logger: logger,
	}
	if err := t.persist(); err != nil {
		return nil, err
	}
	return t, nil
}

// Resume loads the latest persisted version for a task.
func Resume(store *planstore.Store, task string, logger *slog.Logger) (*Tracker, error) {
	rec, err := store.LoadLatest(task)
	if err != nil {
		return nil, err
	}
	return &Tracker{store: store, rec: rec, logger: logger}, nil
}

// Plan returns the tracked plan version.
func (t *Tracker) Plan() model.Plan {
	return t.rec.Plan
}

// State returns a copy of the current execution state.
func (t *Tracker) State() model.ExecutionState {
	return t.rec.ExecutionState
}

// Record returns the full persisted record.
func (t *Tracker) Record() planstore.Record {
	return t.rec
}

// Status returns the overall execution status.
func (t *Tracker) Status() model.OverallStatus {
	return t.rec.ExecutionState.OverallStatus
}

// MarkCompleted upserts a completed outcome for a step. Steps complete in
// plan order: marking step k requires step k-1 to be done already.
func (t *Tracker) MarkCompleted(step int, evidence string) error {
	state := &t.rec.ExecutionState
	if step > state.CurrentStep {
		return fmt.Errorf("cannot complete step %d: step %d is still pending", step, state.CurrentStep)
	}

	state.Record(model.StepStatus{Step: step, Status: model.StepCompleted, Evidence: evidence})
	if step == state.CurrentStep {
		state.CurrentStep = step + 1
	}
	if state.CurrentStep >= len(t.rec.Plan.Actions) && state.FirstFailedStep() < 0 {
		state.OverallStatus = model.StatusCompleted
	}

	t.logger.Info("step completed", "step", step, "version", t.rec.Plan.Version)
	return t.persist()
}

// MarkFailed upserts a failed outcome for a step and transitions the plan
// version to failed, triggering recovery in the caller.
func (t *Tracker) MarkFailed(step int, errText string) error {
	state := &t.rec.ExecutionState
	state.Record(model.StepStatus{Step: step, Status: model.StepFailed, Error: errText})
	state.OverallStatus = model.StatusFailed

	t.logger.Warn("step failed", "step", step, "version", t.rec.Plan.Version, "error", errText)
	return t.persist()
}

// Summarize derives the completed/failed/pending partition of the plan.
func (t *Tracker) Summarize() Summary {
	actions := t.rec.Plan.Actions
	state := t.rec.ExecutionState

	if failedStep := state.FirstFailedStep(); failedStep >= 0 {
		sum := Summary{
			CompletedActions: actions[:failedStep],
			FailedAction:     &actions[failedStep],
			PendingActions:   actions[failedStep:],
		}
		if st, ok := state.StepFor(failedStep); ok {
			sum.FailedError = st.Error
		}
		return sum
	}

	cur := state.CurrentStep
	if cur > len(actions) {
		cur = len(actions)
	}
	return Summary{
		CompletedActions: actions[:cur],
		PendingActions:   actions[cur:],
	}
}

func (t *Tracker) persist() error {
	if err := t.store.Save(t.rec); err != nil {
		return fmt.Errorf("persisting execution state: %w", err)
	}
	return nil
}
