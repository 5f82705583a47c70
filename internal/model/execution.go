package model

import (
	"sort"
	"time"
)

// OverallStatus is the lifecycle state of one plan version's execution.
type OverallStatus string

const (
	StatusInProgress OverallStatus = "in_progress"
	StatusCompleted  OverallStatus = "completed"
	StatusFailed     OverallStatus = "failed"
)

// StepState is the recorded outcome of a single step.
type StepState string

const (
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
)

// StepStatus records the outcome of one executed step.
type StepStatus struct {
	Step      int       `json:"step"`
	Status    StepState `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Evidence  string    `json:"evidence,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ExecutionState is attached 1:1 to a specific plan version. Steps holds at
// most one StepStatus per step index; Record replaces rather than duplicates.
type ExecutionState struct {
	CurrentStep     int           `json:"current_step"`
	OverallStatus   OverallStatus `json:"overall_status"`
	Steps           []StepStatus  `json:"step_statuses"`
	ReplacesVersion *int          `json:"replaces_version,omitempty"`
}

// NewExecutionState creates a fresh in-progress state.
func NewExecutionState() ExecutionState {
	return ExecutionState{OverallStatus: StatusInProgress}
}

// Record upserts a step outcome keyed by step index, keeping Steps ordered.
func (s *ExecutionState) Record(status StepStatus) {
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now().UTC()
	}
	for i := range s.Steps {
		if s.Steps[i].Step == status.Step {
			s.Steps[i] = status
			return
		}
	}
	s.Steps = append(s.Steps, status)
	sort.Slice(s.Steps, func(i, j int) bool { return s.Steps[i].Step < s.Steps[j].Step })
}

// StepFor returns the recorded status for a step index, if any.
func (s *ExecutionState) StepFor(step int) (StepStatus, bool) {
	for _, st := range s.Steps {
		if st.Step == step {
			return st, true
		}
	}
	return StepStatus{}, false
}

// FirstFailedStep returns the lowest failed step index, or -1 if none failed.
func (s *ExecutionState) FirstFailedStep() int {
	for _, st := range s.Steps {
		if st.Status == StepFailed {
			return st.Step
		}
	}
	return -1
}

// Snapshot is a cached textual description of the UI at one point in time.
// Snapshots are created when the UI automation interface is queried for
// state, retained for one execution session and never mutated.
type Snapshot struct {
	SequenceID int       `json:"sequence_id"`
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"captured_at"`
}

// Coordinates is a resolved on-screen position.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}
