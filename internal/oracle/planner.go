// Package oracle defines the planning interfaces the engine consumes and a
// Claude-backed implementation of them.
package oracle

import (
	"context"
	"fmt"

	"github.com/tinkerloft/deskpilot/internal/model"
)

// RecoveryRequest carries everything the oracle needs to plan the remaining
// objective after a failure. Completed work is context only; the returned
// plan must cover just the unsolved tail.
type RecoveryRequest struct {
	Task        string
	Completed   []model.Action
	Failed      *model.Action
	FailedError string
	Pending     []model.Action
	Knowledge   []model.KnowledgeItem
	Snapshot    *string
}

// Planner is the planning oracle. Implementations must only reference tool
// names from the allow-list they were constructed with; the engine validates
// this and treats violations as fatal planning errors.
type Planner interface {
	GeneratePlan(ctx context.Context, task string, knowledge []model.KnowledgeItem, snapshot *string) (model.Plan, error)
	GenerateRecoveryPlan(ctx context.Context, req RecoveryRequest) (model.Plan, error)
}

// Adapter reinterprets one action that could not be executed as written,
// potentially expanding it into several concrete actions.
type Adapter interface {
	AdaptAction(ctx context.Context, action model.Action, reason string, snapshot *string) ([]model.Action, error)
}

// PlanningError wraps any failure of the planning oracle: timeouts,
// malformed responses, disallowed tool names. It is never locally retried.
type PlanningError struct {
	Op  string
	Err error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning oracle %s failed: %v", e.Op, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }
