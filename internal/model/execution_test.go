package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionState_RecordUpserts(t *testing.T) {
	state := NewExecutionState()

	state.Record(StepStatus{Step: 0, Status: StepCompleted, Evidence: "first"})
	state.Record(StepStatus{Step: 0, Status: StepCompleted, Evidence: "second"})

	require.Len(t, state.Steps, 1)
	st, ok := state.StepFor(0)
	require.True(t, ok)
	assert.Equal(t, "second", st.Evidence)
}

func TestExecutionState_RecordKeepsOrder(t *testing.T) {
	state := NewExecutionState()
	state.Record(StepStatus{Step: 2, Status: StepFailed, Error: "element not found"})
	state.Record(StepStatus{Step: 0, Status: StepCompleted})
	state.Record(StepStatus{Step: 1, Status: StepCompleted})

	require.Len(t, state.Steps, 3)
	for i, st := range state.Steps {
		assert.Equal(t, i, st.Step)
	}
	assert.Equal(t, 2, state.FirstFailedStep())
}

func TestExecutionState_FirstFailedStep_NoneFailed(t *testing.T) {
	state := NewExecutionState()
	state.Record(StepStatus{Step: 0, Status: StepCompleted})
	assert.Equal(t, -1, state.FirstFailedStep())
}

func TestExecutionState_RecordSetsTimestamp(t *testing.T) {
	state := NewExecutionState()
	state.Record(StepStatus{Step: 0, Status: StepCompleted})
	st, _ := state.StepFor(0)
	assert.WithinDuration(t, time.Now().UTC(), st.Timestamp, time.Minute)
}
