package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tinkerloft/deskpilot/internal/model"
)

// rawAction is the JSON shape Claude returns for one action.
type rawAction struct {
	ToolName          string         `json:"tool_name"`
	Arguments         map[string]any `json:"arguments"`
	Reasoning         string         `json:"reasoning"`
	KnowledgeSourceID string         `json:"knowledge_source_id"`
}

// rawPlan is the JSON shape Claude returns for a whole plan.
type rawPlan struct {
	Reasoning                string      `json:"reasoning"`
	EstimatedDurationSeconds *float64    `json:"estimated_duration_seconds"`
	Actions                  []rawAction `json:"actions"`
}

// jsonObjectRE matches a JSON object (possibly fenced in markdown code blocks).
var jsonObjectRE = regexp.MustCompile(`(?s)\{.*\}`)

// ParsePlan parses a model response into a Plan. Handles JSON wrapped in
// markdown code fences. Exported so it can be tested independently.
func ParsePlan(rawText string) (model.Plan, error) {
	cleaned := extractJSONObject(rawText)

	var raw rawPlan
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return model.Plan{}, fmt.Errorf("parsing plan JSON: %w", err)
	}
	if len(raw.Actions) == 0 {
		return model.Plan{}, fmt.Errorf("plan contains no actions")
	}

	actions := make([]model.Action, 0, len(raw.Actions))
	for i, ra := range raw.Actions {
		if ra.ToolName == "" {
			return model.Plan{}, fmt.Errorf("plan action %d has no tool name", i)
		}
		args := make(model.Arguments, len(ra.Arguments))
		for k, v := range ra.Arguments {
			av, err := model.ArgFromAny(v)
			if err != nil {
				return model.Plan{}, fmt.Errorf("plan action %d argument %q: %w", i, k, err)
			}
			args[k] = av
		}
		actions = append(actions, model.Action{
			ToolName:          ra.ToolName,
			Arguments:         args,
			Reasoning:         ra.Reasoning,
			KnowledgeSourceID: ra.KnowledgeSourceID,
		})
	}

	return model.Plan{
		Version:                  1,
		Actions:                  actions,
		Reasoning:                raw.Reasoning,
		EstimatedDurationSeconds: raw.EstimatedDurationSeconds,
	}, nil
}

// extractJSONObject strips markdown code fences and extracts the first JSON
// object from free text.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)

	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx:]
		if nl := strings.Index(s, "\n"); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	if strings.HasPrefix(s, "{") {
		return s
	}

	if loc := jsonObjectRE.FindString(s); loc != "" {
		return loc
	}

	return s
}
