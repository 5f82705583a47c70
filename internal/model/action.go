// Package model contains data models for the deskpilot execution engine.
package model

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ArgKind discriminates the variants of an ArgValue.
type ArgKind string

const (
	ArgKindString ArgKind = "string"
	ArgKindNumber ArgKind = "number"
	ArgKindBool   ArgKind = "bool"
	ArgKindList   ArgKind = "list"
	ArgKindMap    ArgKind = "map"
)

// ArgValue is a tagged union holding one tool-argument value. Tool arguments
// arrive in arbitrary shapes from the planning oracle; keeping them in a
// closed set of variants lets the executor inspect them (symbolic reference
// substitution) without reflection on open interface values.
type ArgValue struct {
	Kind ArgKind
	Str  string
	Num  float64
	Bool bool
	List []ArgValue
	Map  map[string]ArgValue
}

// StringArg creates a string-valued argument.
func StringArg(s string) ArgValue { return ArgValue{Kind: ArgKindString, Str: s} }

// NumberArg creates a number-valued argument.
func NumberArg(n float64) ArgValue { return ArgValue{Kind: ArgKindNumber, Num: n} }

// BoolArg creates a boolean argument.
func BoolArg(b bool) ArgValue { return ArgValue{Kind: ArgKindBool, Bool: b} }

// ListArg creates a list argument.
func ListArg(items ...ArgValue) ArgValue { return ArgValue{Kind: ArgKindList, List: items} }

// MapArg creates a nested map argument.
func MapArg(fields map[string]ArgValue) ArgValue { return ArgValue{Kind: ArgKindMap, Map: fields} }

// CoordinateArg creates the two-element number list the UI automation
// interface expects for resolved screen coordinates.
func CoordinateArg(x, y int) ArgValue {
	return ListArg(NumberArg(float64(x)), NumberArg(float64(y)))
}

// ToAny converts the value to its natural JSON shape (string, float64, bool,
// []any, map[string]any) for schema validation and tool dispatch.
func (v ArgValue) ToAny() any {
	switch v.Kind {
	case ArgKindString:
		return v.Str
	case ArgKindNumber:
		return v.Num
	case ArgKindBool:
		return v.Bool
	case ArgKindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.ToAny()
		}
		return out
	case ArgKindMap:
		out := make(map[string]any, len(v.Map))
		for k, item := range v.Map {
			out[k] = item.ToAny()
		}
		return out
	default:
		return nil
	}
}

// ArgFromAny converts a decoded JSON value into an ArgValue.
func ArgFromAny(raw any) (ArgValue, error) {
	switch val := raw.(type) {
	case string:
		return StringArg(val), nil
	case float64:
		return NumberArg(val), nil
	case int:
		return NumberArg(float64(val)), nil
	case int64:
		return NumberArg(float64(val)), nil
	case bool:
		return BoolArg(val), nil
	case []any:
		items := make([]ArgValue, 0, len(val))
		for _, item := range val {
			av, err := ArgFromAny(item)
			if err != nil {
				return ArgValue{}, err
			}
			items = append(items, av)
		}
		return ArgValue{Kind: ArgKindList, List: items}, nil
	case map[string]any:
		fields := make(map[string]ArgValue, len(val))
		for k, item := range val {
			av, err := ArgFromAny(item)
			if err != nil {
				return ArgValue{}, err
			}
			fields[k] = av
		}
		return ArgValue{Kind: ArgKindMap, Map: fields}, nil
	case nil:
		return StringArg(""), nil
	default:
		return ArgValue{}, fmt.Errorf("unsupported argument type %T", raw)
	}
}

// MarshalJSON writes the natural JSON shape, not the union struct.
func (v ArgValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON reads any JSON value into the union.
func (v *ArgValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	av, err := ArgFromAny(raw)
	if err != nil {
		return err
	}
	*v = av
	return nil
}

// MarshalYAML writes the natural YAML shape, mirroring MarshalJSON.
func (v ArgValue) MarshalYAML() (any, error) {
	return v.ToAny(), nil
}

// UnmarshalYAML reads any YAML value into the union.
func (v *ArgValue) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	av, err := ArgFromAny(raw)
	if err != nil {
		return err
	}
	*v = av
	return nil
}

// Arguments maps argument names to values. Order is irrelevant.
type Arguments map[string]ArgValue

// ToAny converts the whole argument map to map[string]any.
func (a Arguments) ToAny() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v.ToAny()
	}
	return out
}

// Action is one unit of automation work. Immutable once created.
type Action struct {
	ToolName          string    `json:"tool_name" yaml:"tool_name"`
	Arguments         Arguments `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Reasoning         string    `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	KnowledgeSourceID string    `json:"knowledge_source_id,omitempty" yaml:"knowledge_source_id,omitempty"`
}

// Plan is an ordered sequence of actions plus the rationale for the plan as a
// whole. Plans are versioned: regeneration produces version N+1 and never
// mutates version N.
type Plan struct {
	Version                  int      `json:"version"`
	Actions                  []Action `json:"actions"`
	Reasoning                string   `json:"reasoning,omitempty"`
	EstimatedDurationSeconds *float64 `json:"estimated_duration_seconds,omitempty"`
}

// NewPlan creates a version-1 plan.
func NewPlan(actions []Action, reasoning string) Plan {
	return Plan{Version: 1, Actions: actions, Reasoning: reasoning}
}

// MergeRecovery combines the completed prefix of a failed plan with a
// recovery plan covering the remaining objective. The completed actions are
// carried over verbatim so already-done work is never re-executed.
func MergeRecovery(completed []Action, recovery Plan, previousVersion int) Plan {
	merged := make([]Action, 0, len(completed)+len(recovery.Actions))
	merged = append(merged, completed...)
	merged = append(merged, recovery.Actions...)
	return Plan{
		Version:                  previousVersion + 1,
		Actions:                  merged,
		Reasoning:                recovery.Reasoning,
		EstimatedDurationSeconds: recovery.EstimatedDurationSeconds,
	}
}
