package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgValue_JSONRoundTrip(t *testing.T) {
	args := Arguments{
		"coordinate": ListArg(NumberArg(120), NumberArg(340)),
		"text":       StringArg("hello"),
		"clear":      BoolArg(true),
		"options":    MapArg(map[string]ArgValue{"retries": NumberArg(2)}),
	}

	data, err := json.Marshal(args)
	require.NoError(t, err)

	var decoded Arguments
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, ArgKindList, decoded["coordinate"].Kind)
	require.Len(t, decoded["coordinate"].List, 2)
	assert.Equal(t, 120.0, decoded["coordinate"].List[0].Num)
	assert.Equal(t, "hello", decoded["text"].Str)
	assert.True(t, decoded["clear"].Bool)
	assert.Equal(t, 2.0, decoded["options"].Map["retries"].Num)
}

func TestArgValue_ToAny(t *testing.T) {
	v := MapArg(map[string]ArgValue{
		"pos":  CoordinateArg(10, 20),
		"name": StringArg("Save"),
	})

	out, ok := v.ToAny().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Save", out["name"])
	assert.Equal(t, []any{10.0, 20.0}, out["pos"])
}

func TestArgFromAny_Unsupported(t *testing.T) {
	_, err := ArgFromAny(struct{}{})
	assert.Error(t, err)
}

func TestMergeRecovery(t *testing.T) {
	completed := []Action{
		{ToolName: "click", Reasoning: "open menu"},
	}
	recovery := Plan{
		Actions: []Action{
			{ToolName: "type", Reasoning: "enter name"},
			{ToolName: "click", Reasoning: "confirm"},
		},
		Reasoning: "retry from the failed step",
	}

	merged := MergeRecovery(completed, recovery, 1)

	require.Len(t, merged.Actions, 3)
	assert.Equal(t, 2, merged.Version)
	assert.Equal(t, completed[0], merged.Actions[0])
	assert.Equal(t, recovery.Actions[0], merged.Actions[1])
	assert.Equal(t, recovery.Actions[1], merged.Actions[2])
}

func TestMergeRecovery_EmptyCompleted(t *testing.T) {
	recovery := Plan{Actions: []Action{{ToolName: "click"}}}
	merged := MergeRecovery(nil, recovery, 3)
	assert.Equal(t, 4, merged.Version)
	assert.Len(t, merged.Actions, 1)
}
