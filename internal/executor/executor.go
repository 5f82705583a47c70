// Package executor runs single actions against the UI automation interface,
// resolving symbolic references and caching state-query results.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tinkerloft/deskpilot/internal/catalog"
	"github.com/tinkerloft/deskpilot/internal/metrics"
	"github.com/tinkerloft/deskpilot/internal/model"
	"github.com/tinkerloft/deskpilot/internal/oracle"
	"github.com/tinkerloft/deskpilot/internal/resolver"
	"github.com/tinkerloft/deskpilot/internal/snapshot"
)

// UIDriver executes one automation tool call against the live application
// and reports free-text evidence. Implementations must honour ctx deadlines.
type UIDriver interface {
	Execute(ctx context.Context, toolName string, args map[string]any) (evidence string, err error)
}

// ToolExecutionError indicates the UI automation interface reported failure.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// Result is the outcome of executing one action, possibly after adaptation.
type Result struct {
	Success  bool
	Evidence string
	Error    string
}

// Executor executes plan actions one at a time.
type Executor struct {
	driver      UIDriver
	catalog     *catalog.Catalog
	resolver    *resolver.Resolver
	cache       *snapshot.Cache
	adapter     oracle.Adapter
	metrics     *metrics.Metrics
	toolTimeout time.Duration
	logger      *slog.Logger
}

// New creates an Executor. adapter may be nil, in which case resolution
// failures fail the action directly.
func New(driver UIDriver, cat *catalog.Catalog, res *resolver.Resolver, cache *snapshot.Cache,
	adapter oracle.Adapter, m *metrics.Metrics, toolTimeout time.Duration, logger *slog.Logger) *Executor {
	if toolTimeout <= 0 {
		toolTimeout = 30 * time.Second
	}
	return &Executor{
		driver:      driver,
		catalog:     cat,
		resolver:    res,
		cache:       cache,
		adapter:     adapter,
		metrics:     m,
		toolTimeout: toolTimeout,
		logger:      logger,
	}
}

// Execute runs one action. Symbolic references in the arguments are resolved
// to coordinates first; state-query actions skip resolution and have their
// evidence cached as a snapshot. If resolution fails, the executor requests
// one adaptation, which may expand the action into several concrete ones.
// priorActions give the adaptation context of what already ran.
func (e *Executor) Execute(ctx context.Context, action model.Action, priorActions []model.Action) Result {
	if e.catalog.IsStateQuery(action.ToolName) {
		return e.executeStateQuery(ctx, action)
	}

	resolved, err := e.resolveArguments(ctx, action.Arguments)
	if err != nil {
		e.logger.Warn("reference resolution failed, requesting adaptation",
			"tool", action.ToolName, "error", err)
		return e.adaptAndExecute(ctx, action, err, priorActions)
	}

	return e.dispatch(ctx, action.ToolName, resolved)
}

func (e *Executor) executeStateQuery(ctx context.Context, action model.Action) Result {
	res := e.dispatch(ctx, action.ToolName, action.Arguments)
	if res.Success {
		seq := e.cache.Add(res.Evidence)
		e.metrics.SnapshotsCached.Inc()
		e.logger.Info("cached UI snapshot", "sequence_id", seq)
	}
	return res
}

// resolveArguments replaces every argument value shaped like a one-element
// list holding a symbolic reference string with resolved coordinates.
func (e *Executor) resolveArguments(ctx context.Context, args model.Arguments) (model.Arguments, error) {
	out := make(model.Arguments, len(args))
	for name, value := range args {
		ref, ok := symbolicReference(value)
		if !ok {
			out[name] = value
			continue
		}
		coords, err := e.resolver.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolving argument %q: %w", name, err)
		}
		out[name] = model.CoordinateArg(coords.X, coords.Y)
	}
	return out, nil
}

// symbolicReference detects the one-element-list-of-reference-string shape.
func symbolicReference(v model.ArgValue) (resolver.Reference, bool) {
	if v.Kind != model.ArgKindList || len(v.List) != 1 || v.List[0].Kind != model.ArgKindString {
		return resolver.Reference{}, false
	}
	return resolver.ParseReference(v.List[0].Str)
}

func (e *Executor) adaptAndExecute(ctx context.Context, action model.Action, cause error, priorActions []model.Action) Result {
	if e.adapter == nil {
		return Result{Error: cause.Error()}
	}

	var snapText *string
	if snap, ok := e.cache.Latest(); ok {
		snapText = &snap.Text
	}

	reason := cause.Error()
	if len(priorActions) > 0 {
		reason = fmt.Sprintf("%s (after %d prior actions)", reason, len(priorActions))
	}

	adapted, err := e.adapter.AdaptAction(ctx, action, reason, snapText)
	if err != nil || len(adapted) == 0 {
		e.logger.Warn("adaptation failed", "tool", action.ToolName, "error", err)
		return Result{Error: fmt.Sprintf("%s; adaptation failed: %v", cause, err)}
	}

	var evidence []string
	for i, sub := range adapted {
		if _, ok := e.catalog.Get(sub.ToolName); !ok {
			return Result{Error: fmt.Sprintf("adaptation produced unknown tool %q", sub.ToolName)}
		}
		if e.catalog.IsStateQuery(sub.ToolName) {
			res := e.executeStateQuery(ctx, sub)
			if !res.Success {
				return Result{Error: fmt.Sprintf("adapted action %d failed: %s", i, res.Error)}
			}
			evidence = append(evidence, res.Evidence)
			continue
		}

		resolved, rerr := e.resolveArguments(ctx, sub.Arguments)
		if rerr != nil {
			// One adaptation attempt only; a second resolution failure is final.
			return Result{Error: fmt.Sprintf("adapted action %d unresolvable: %v", i, rerr)}
		}
		res := e.dispatch(ctx, sub.ToolName, resolved)
		if !res.Success {
			return Result{Error: fmt.Sprintf("adapted action %d failed: %s", i, res.Error)}
		}
		evidence = append(evidence, res.Evidence)
	}

	e.logger.Info("action executed via adaptation", "tool", action.ToolName, "expanded_to", len(adapted))
	return Result{Success: true, Evidence: strings.Join(evidence, "\n")}
}

func (e *Executor) dispatch(ctx context.Context, toolName string, args model.Arguments) Result {
	if err := e.catalog.ValidateArgs(toolName, args); err != nil {
		e.observe(toolName, "invalid", 0)
		return Result{Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()

	start := time.Now()
	evidence, err := e.driver.Execute(ctx, toolName, args.ToAny())
	elapsed := time.Since(start)

	if err != nil {
		e.observe(toolName, "failure", elapsed)
		toolErr := &ToolExecutionError{Tool: toolName, Err: err}
		return Result{Error: toolErr.Error()}
	}

	e.observe(toolName, "success", elapsed)
	return Result{Success: true, Evidence: evidence}
}

func (e *Executor) observe(tool, result string, elapsed time.Duration) {
	e.metrics.ActionsTotal.WithLabelValues(tool, result).Inc()
	e.metrics.ActionDuration.WithLabelValues(tool, result).Observe(elapsed.Seconds())
}
