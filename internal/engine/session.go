// Package engine drives one task from planning through execution and
// recovery to a terminal state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinkerloft/deskpilot/internal/catalog"
	"github.com/tinkerloft/deskpilot/internal/executor"
	"github.com/tinkerloft/deskpilot/internal/knowledge"
	"github.com/tinkerloft/deskpilot/internal/metrics"
	"github.com/tinkerloft/deskpilot/internal/model"
	"github.com/tinkerloft/deskpilot/internal/oracle"
	"github.com/tinkerloft/deskpilot/internal/planstore"
	"github.com/tinkerloft/deskpilot/internal/recovery"
	"github.com/tinkerloft/deskpilot/internal/skills"
	"github.com/tinkerloft/deskpilot/internal/snapshot"
	"github.com/tinkerloft/deskpilot/internal/tracker"
)

// How many knowledge items accompany an initial planning request.
const planningKnowledgeTopK = 3

// Event is a progress notification emitted while a session runs.
type Event struct {
	Type      string    `json:"type"`
	Task      string    `json:"task"`
	Version   int       `json:"version,omitempty"`
	Step      int       `json:"step,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event types emitted over the session's lifetime.
const (
	EventPlanned       = "planned"
	EventSkillReused   = "skill_reused"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventReplanned     = "replanned"
	EventCompleted     = "completed"
	EventFailed        = "failed"
)

// EventSink receives session events. A nil sink is ignored.
type EventSink func(Event)

// Notifier reports terminal task outcomes to an external channel.
type Notifier interface {
	NotifyOutcome(ctx context.Context, task string, success bool, detail string) error
}

// RunResult summarizes a finished (or terminally failed) run.
type RunResult struct {
	Record  planstore.Record
	SkillID string
	Replans int
}

// Session wires the planning oracle, executor, stores and recovery manager
// into the run loop for a single task at a time.
type Session struct {
	planner   oracle.Planner
	exec      *executor.Executor
	store     *planstore.Store
	knowledge *knowledge.Catalog
	skills    *skills.Index
	recovery  *recovery.Manager
	catalog   *catalog.Catalog
	cache     *snapshot.Cache
	metrics   *metrics.Metrics
	notifier  Notifier
	events    EventSink
	logger    *slog.Logger

	similarityThreshold float64
	minSuccessRate      float64
}

// Deps carries the session's collaborators. Notifier and Events may be nil.
type Deps struct {
	Planner   oracle.Planner
	Executor  *executor.Executor
	Store     *planstore.Store
	Knowledge *knowledge.Catalog
	Skills    *skills.Index
	Recovery  *recovery.Manager
	Catalog   *catalog.Catalog
	Cache     *snapshot.Cache
	Metrics   *metrics.Metrics
	Notifier  Notifier
	Events    EventSink
	Logger    *slog.Logger
}

// NewSession creates a session. Zero thresholds select the skill index
// defaults.
func NewSession(d Deps, similarityThreshold, minSuccessRate float64) *Session {
	if similarityThreshold <= 0 {
		similarityThreshold = skills.DefaultSimilarityThreshold
	}
	if minSuccessRate <= 0 {
		minSuccessRate = skills.DefaultMinSuccessRate
	}
	return &Session{
		planner:             d.Planner,
		exec:                d.Executor,
		store:               d.Store,
		knowledge:           d.Knowledge,
		skills:              d.Skills,
		recovery:            d.Recovery,
		catalog:             d.Catalog,
		cache:               d.Cache,
		metrics:             d.Metrics,
		notifier:            d.Notifier,
		events:              d.Events,
		logger:              d.Logger,
		similarityThreshold: similarityThreshold,
		minSuccessRate:      minSuccessRate,
	}
}

// Run executes a task to a terminal state. On success the returned record is
// the completed plan version; on terminal failure the record holds the last
// state and the error explains why no further recovery happened.
func (s *Session) Run(ctx context.Context, task string) (RunResult, error) {
	plan, skillID, meta, err := s.initialPlan(ctx, task)
	if err != nil {
		return RunResult{}, err
	}

	tr, err := tracker.Start(s.store, task, plan, meta, 0, nil, s.logger)
	if err != nil {
		return RunResult{}, err
	}
	s.emit(Event{Type: EventPlanned, Task: task, Version: plan.Version, Message: plan.Reasoning})

	return s.loop(ctx, task, tr, skillID)
}

// Resume continues a previously persisted run from its current step, e.g.
// after a crash between steps. A run that already completed is returned
// as-is.
func (s *Session) Resume(ctx context.Context, task string) (RunResult, error) {
	tr, err := tracker.Resume(s.store, task, s.logger)
	if err != nil {
		return RunResult{}, err
	}
	if tr.Status() == model.StatusCompleted {
		return RunResult{Record: tr.Record()}, nil
	}
	s.logger.Info("resuming task", "task", task,
		"version", tr.Plan().Version, "step", tr.State().CurrentStep)
	return s.loop(ctx, task, tr, "")
}

func (s *Session) loop(ctx context.Context, task string, tr *tracker.Tracker, skillID string) (RunResult, error) {
	replans := 0
	for {
		if err := s.executePlan(ctx, task, tr); err != nil {
			return s.finish(ctx, task, tr, skillID, replans, err)
		}

		switch tr.Status() {
		case model.StatusCompleted:
			return s.finish(ctx, task, tr, skillID, replans, nil)

		case model.StatusFailed:
			next, rerr := s.recovery.Recover(ctx, tr, replans)
			if rerr != nil {
				return s.finish(ctx, task, tr, skillID, replans, rerr)
			}
			replans++
			tr = next
			s.emit(Event{Type: EventReplanned, Task: task, Version: tr.Plan().Version,
				Step: tr.State().CurrentStep, Message: tr.Plan().Reasoning})

		default:
			return s.finish(ctx, task, tr, skillID, replans,
				fmt.Errorf("plan version %d stalled in state %q", tr.Plan().Version, tr.Status()))
		}
	}
}

// initialPlan tries the skill index first, then falls back to the oracle.
func (s *Session) initialPlan(ctx context.Context, task string) (model.Plan, string, planstore.Metadata, error) {
	if skill, ok := s.skills.FindMatch(task, s.similarityThreshold, s.minSuccessRate); ok {
		s.metrics.SkillIndexLookup.WithLabelValues("hit").Inc()
		s.emit(Event{Type: EventSkillReused, Task: task, Message: skill.SkillID})
		s.logger.Info("reusing verified skill", "task", task, "skill_id", skill.SkillID)
		plan := model.NewPlan(skill.ActionPlan, "reused verified skill "+skill.SkillID)
		return plan, skill.SkillID, planstore.Metadata{}, nil
	}
	s.metrics.SkillIndexLookup.WithLabelValues("miss").Inc()

	items := s.knowledge.Retrieve(task, planningKnowledgeTopK)
	var snapText *string
	if snap, ok := s.cache.Latest(); ok {
		snapText = &snap.Text
	}

	plan, err := s.planner.GeneratePlan(ctx, task, items, snapText)
	if err != nil {
		return model.Plan{}, "", planstore.Metadata{}, fmt.Errorf("planning task %q: %w", task, err)
	}
	if err := s.catalog.ValidatePlan(plan); err != nil {
		return model.Plan{}, "", planstore.Metadata{}, &oracle.PlanningError{Op: "plan", Err: err}
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return plan, "", planstore.Metadata{RetrievedKnowledgeIDs: ids}, nil
}

// executePlan runs the tracked plan from its current step until it either
// finishes or a step fails. The context is checked between actions so a
// cancelled session stops at a step boundary with state intact.
func (s *Session) executePlan(ctx context.Context, task string, tr *tracker.Tracker) error {
	actions := tr.Plan().Actions
	for step := tr.State().CurrentStep; step < len(actions); step = tr.State().CurrentStep {
		select {
		case <-ctx.Done():
			return fmt.Errorf("session interrupted before step %d: %w", step, ctx.Err())
		default:
		}

		action := actions[step]
		res := s.exec.Execute(ctx, action, actions[:step])
		if !res.Success {
			if err := tr.MarkFailed(step, res.Error); err != nil {
				return err
			}
			s.emit(Event{Type: EventStepFailed, Task: task, Version: tr.Plan().Version,
				Step: step, Message: res.Error})
			return nil
		}

		if err := tr.MarkCompleted(step, res.Evidence); err != nil {
			return err
		}
		s.emit(Event{Type: EventStepCompleted, Task: task, Version: tr.Plan().Version, Step: step})
	}
	return nil
}

// finish settles skill usage stats, notifies, and shapes the final result.
func (s *Session) finish(ctx context.Context, task string, tr *tracker.Tracker, skillID string, replans int, runErr error) (RunResult, error) {
	success := runErr == nil && tr.Status() == model.StatusCompleted

	if skillID != "" {
		if err := s.skills.UpdateUsageStats(skillID, success); err != nil {
			s.logger.Warn("updating skill usage stats", "skill_id", skillID, "error", err)
		}
	}

	detail := ""
	if runErr != nil {
		detail = runErr.Error()
	}
	if success {
		s.emit(Event{Type: EventCompleted, Task: task, Version: tr.Plan().Version})
		s.logger.Info("task completed", "task", task, "version", tr.Plan().Version, "replans", replans)
	} else {
		s.emit(Event{Type: EventFailed, Task: task, Version: tr.Plan().Version, Message: detail})
		s.logger.Error("task failed", "task", task, "version", tr.Plan().Version, "error", detail)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyOutcome(ctx, task, success, detail); err != nil {
			s.logger.Warn("notifying outcome", "error", err)
		}
	}

	result := RunResult{Record: tr.Record(), SkillID: skillID, Replans: replans}
	if runErr != nil {
		return result, runErr
	}
	if !success {
		return result, errors.New("task ended without completing")
	}
	return result, nil
}

// CaptureSkill persists the completed latest plan version of a task as a
// verified skill. It refuses plans that have not finished successfully.
func (s *Session) CaptureSkill(task string, tags []string) (model.VerifiedSkill, error) {
	rec, err := s.store.LoadLatest(task)
	if err != nil {
		return model.VerifiedSkill{}, err
	}
	if rec.ExecutionState.OverallStatus != model.StatusCompleted {
		return model.VerifiedSkill{}, fmt.Errorf("task %q is %s, only completed plans become skills",
			task, rec.ExecutionState.OverallStatus)
	}
	skill, err := s.skills.AddSkill(task, rec.Plan.Actions, tags)
	if err != nil {
		return model.VerifiedSkill{}, err
	}
	s.logger.Info("captured verified skill", "task", task, "skill_id", skill.SkillID)
	return skill, nil
}

func (s *Session) emit(e Event) {
	if s.events == nil {
		return
	}
	e.Timestamp = time.Now().UTC()
	s.events(e)
}
