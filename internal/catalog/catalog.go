// Package catalog defines the allow-list of automation tools and validates
// action arguments against each tool's JSON Schema.
package catalog

import (
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tinkerloft/deskpilot/internal/model"
)

// Tool describes one automation capability offered by the UI driver.
type Tool struct {
	Name        string
	Description string
	// StateQuery marks read-only tools whose evidence is cached as a snapshot.
	StateQuery bool
	schema     *jsonschema.Schema
}

// Catalog is the set of tools a plan is allowed to reference.
type Catalog struct {
	tools map[string]*Tool
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{tools: make(map[string]*Tool)}
}

// Register adds a tool with its argument schema. The schema is compiled once
// here; a nil error means later ValidateArgs calls cannot fail structurally.
func (c *Catalog) Register(name, description, schemaJSON string, stateQuery bool) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := c.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	var schema *jsonschema.Schema
	if schemaJSON != "" {
		compiled, err := jsonschema.CompileString(name+".schema.json", schemaJSON)
		if err != nil {
			return fmt.Errorf("compiling schema for tool %q: %w", name, err)
		}
		schema = compiled
	}

	c.tools[name] = &Tool{
		Name:        name,
		Description: description,
		StateQuery:  stateQuery,
		schema:      schema,
	}
	return nil
}

// Get returns the tool by name.
func (c *Catalog) Get(name string) (*Tool, bool) {
	t, ok := c.tools[name]
	return t, ok
}

// IsStateQuery reports whether a tool is a read-only UI state query.
func (c *Catalog) IsStateQuery(name string) bool {
	t, ok := c.tools[name]
	return ok && t.StateQuery
}

// Names returns all registered tool names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateArgs checks arguments against the tool's schema.
func (c *Catalog) ValidateArgs(name string, args model.Arguments) error {
	t, ok := c.tools[name]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if t.schema == nil {
		return nil
	}
	if err := t.schema.Validate(args.ToAny()); err != nil {
		return fmt.Errorf("invalid arguments for tool %q: %w", name, err)
	}
	return nil
}

// ValidatePlan rejects plans referencing tools outside the allow-list.
// An unknown tool name is a fatal planning error, not a runtime one.
func (c *Catalog) ValidatePlan(plan model.Plan) error {
	for i, action := range plan.Actions {
		if _, ok := c.tools[action.ToolName]; !ok {
			return fmt.Errorf("plan action %d references unknown tool %q", i, action.ToolName)
		}
	}
	return nil
}
