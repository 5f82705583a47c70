package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/tinkerloft/deskpilot/internal/model"
)

// ToolSpec describes one allowed tool for prompt construction.
type ToolSpec struct {
	Name        string
	Description string
}

// Claude is the Claude-backed planning oracle. It also serves as the element
// locator for reference resolution.
type Claude struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	tools     []ToolSpec
	logger    *slog.Logger
}

// NewClaude creates a Claude oracle restricted to the given tool allow-list.
func NewClaude(tools []ToolSpec, logger *slog.Logger) *Claude {
	return &Claude{
		client:    anthropic.NewClient(),
		model:     anthropic.ModelClaudeHaiku4_5,
		maxTokens: 4096,
		tools:     tools,
		logger:    logger,
	}
}

// GeneratePlan asks Claude for an initial plan for the task.
func (c *Claude) GeneratePlan(ctx context.Context, task string, knowledge []model.KnowledgeItem, snapshot *string) (model.Plan, error) {
	prompt := c.buildPlanPrompt(task, knowledge, snapshot)
	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return model.Plan{}, &PlanningError{Op: "generate", Err: err}
	}
	plan, err := ParsePlan(raw)
	if err != nil {
		return model.Plan{}, &PlanningError{Op: "generate", Err: err}
	}
	return plan, nil
}

// GenerateRecoveryPlan asks Claude for a plan covering only the remaining
// objective after a failure.
func (c *Claude) GenerateRecoveryPlan(ctx context.Context, req RecoveryRequest) (model.Plan, error) {
	prompt := c.buildRecoveryPrompt(req)
	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return model.Plan{}, &PlanningError{Op: "recovery", Err: err}
	}
	plan, err := ParsePlan(raw)
	if err != nil {
		return model.Plan{}, &PlanningError{Op: "recovery", Err: err}
	}
	return plan, nil
}

// AdaptAction asks Claude to reinterpret one unexecutable action as one or
// more concrete actions against the current UI.
func (c *Claude) AdaptAction(ctx context.Context, action model.Action, reason string, snapshot *string) ([]model.Action, error) {
	var sb strings.Builder
	sb.WriteString("An automation action could not be executed as written.\n\n")
	actionJSON, _ := json.Marshal(action)
	fmt.Fprintf(&sb, "Action: %s\nProblem: %s\n", actionJSON, reason)
	if snapshot != nil {
		fmt.Fprintf(&sb, "\nCurrent UI state:\n%s\n", *snapshot)
	}
	sb.WriteString("\nRewrite it as one or more concrete actions using explicit coordinates from the UI state.\n")
	c.writeToolList(&sb)
	sb.WriteString("\nRespond with only a JSON object: {\"reasoning\": ..., \"actions\": [{\"tool_name\": ..., \"arguments\": {...}, \"reasoning\": ...}]}\n")

	raw, err := c.complete(ctx, sb.String())
	if err != nil {
		return nil, &PlanningError{Op: "adapt", Err: err}
	}
	plan, err := ParsePlan(raw)
	if err != nil {
		return nil, &PlanningError{Op: "adapt", Err: err}
	}
	return plan.Actions, nil
}

// rawLocation is the JSON shape Claude returns for element location.
type rawLocation struct {
	Found bool `json:"found"`
	X     int  `json:"x"`
	Y     int  `json:"y"`
}

// Locate asks Claude to find an element's coordinates in a snapshot,
// satisfying the resolver's Locator interface.
func (c *Claude) Locate(ctx context.Context, elementType, elementName, snapshotText string) (model.Coordinates, bool, error) {
	prompt := fmt.Sprintf(
		"Find the %s named %q in this UI state description:\n\n%s\n\n"+
			"Respond with only a JSON object: {\"found\": true|false, \"x\": <int>, \"y\": <int>}.",
		elementType, elementName, snapshotText)

	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return model.Coordinates{}, false, fmt.Errorf("locating element: %w", err)
	}

	var loc rawLocation
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &loc); err != nil {
		return model.Coordinates{}, false, fmt.Errorf("parsing location JSON: %w", err)
	}
	if !loc.Found {
		return model.Coordinates{}, false, nil
	}
	return model.Coordinates{X: loc.X, Y: loc.Y}, true, nil
}

func (c *Claude) complete(ctx context.Context, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					{OfText: &anthropic.TextBlockParam{Text: prompt}},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	var rawText string
	for _, block := range msg.Content {
		if block.Type == "text" {
			rawText += block.Text
		}
	}
	return rawText, nil
}

func (c *Claude) buildPlanPrompt(task string, knowledge []model.KnowledgeItem, snapshot *string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan the GUI automation steps for this task:\n\n%s\n", task)
	c.writeToolList(&sb)
	writeKnowledge(&sb, knowledge)
	if snapshot != nil {
		fmt.Fprintf(&sb, "\nCurrent UI state:\n%s\n", *snapshot)
	}
	sb.WriteString("\nUse symbolic element references of the form \"latest:<elementType>:<elementName>\" " +
		"wrapped in a one-element list for any coordinate argument.\n")
	sb.WriteString("\nRespond with only a JSON object: {\"reasoning\": ..., \"estimated_duration_seconds\": ..., " +
		"\"actions\": [{\"tool_name\": ..., \"arguments\": {...}, \"reasoning\": ..., \"knowledge_source_id\": ...}]}\n")
	return sb.String()
}

func (c *Claude) buildRecoveryPrompt(req RecoveryRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "A GUI automation plan for this task failed partway:\n\n%s\n\n", req.Task)

	fmt.Fprintf(&sb, "Completed steps (%d), do NOT repeat these:\n", len(req.Completed))
	for i, a := range req.Completed {
		fmt.Fprintf(&sb, "  %d. %s - %s\n", i+1, a.ToolName, a.Reasoning)
	}
	if req.Failed != nil {
		fmt.Fprintf(&sb, "\nFailed step: %s - %s\nError: %s\n", req.Failed.ToolName, req.Failed.Reasoning, req.FailedError)
	}
	fmt.Fprintf(&sb, "\nRemaining objective (%d pending steps, starting with the failed one):\n", len(req.Pending))
	for i, a := range req.Pending {
		fmt.Fprintf(&sb, "  %d. %s - %s\n", i+1, a.ToolName, a.Reasoning)
	}

	c.writeToolList(&sb)
	writeKnowledge(&sb, req.Knowledge)
	if req.Snapshot != nil {
		fmt.Fprintf(&sb, "\nCurrent UI state:\n%s\n", *req.Snapshot)
	}
	sb.WriteString("\nPlan ONLY the remaining objective. " +
		"Respond with only a JSON object: {\"reasoning\": ..., \"actions\": [...]}.\n")
	return sb.String()
}

func (c *Claude) writeToolList(sb *strings.Builder) {
	sb.WriteString("\nAllowed tools (any other tool name is rejected):\n")
	for _, t := range c.tools {
		fmt.Fprintf(sb, "  - %s: %s\n", t.Name, t.Description)
	}
}

func writeKnowledge(sb *strings.Builder, items []model.KnowledgeItem) {
	if len(items) == 0 {
		return
	}
	sb.WriteString("\nRelevant knowledge from previous runs:\n")
	for _, item := range items {
		fmt.Fprintf(sb, "- [%s, trust %.2f] %s\n", item.ID, item.TrustScore, item.Description)
		for _, step := range item.ActionSequence {
			fmt.Fprintf(sb, "    %s\n", step)
		}
		for _, l := range item.Learnings {
			fmt.Fprintf(sb, "    previously failed: %s (%s)", l.FailedAction, l.ErrorText)
			if l.RecoveryApproach != "" {
				fmt.Fprintf(sb, " - recovered by: %s", l.RecoveryApproach)
			}
			sb.WriteString("\n")
		}
	}
}
