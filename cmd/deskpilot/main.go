// Package main is the deskpilot CLI entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tinkerloft/deskpilot/internal/catalog"
	"github.com/tinkerloft/deskpilot/internal/config"
	"github.com/tinkerloft/deskpilot/internal/engine"
	"github.com/tinkerloft/deskpilot/internal/executor"
	"github.com/tinkerloft/deskpilot/internal/knowledge"
	"github.com/tinkerloft/deskpilot/internal/logging"
	"github.com/tinkerloft/deskpilot/internal/metrics"
	"github.com/tinkerloft/deskpilot/internal/model"
	"github.com/tinkerloft/deskpilot/internal/notify"
	"github.com/tinkerloft/deskpilot/internal/oracle"
	"github.com/tinkerloft/deskpilot/internal/planstore"
	"github.com/tinkerloft/deskpilot/internal/recovery"
	"github.com/tinkerloft/deskpilot/internal/resolver"
	"github.com/tinkerloft/deskpilot/internal/server"
	"github.com/tinkerloft/deskpilot/internal/skills"
	"github.com/tinkerloft/deskpilot/internal/snapshot"
	"github.com/tinkerloft/deskpilot/internal/state"
)

var rootCmd = &cobra.Command{
	Use:   "deskpilot",
	Short: "Deskpilot desktop automation engine",
	Long:  "Plans, executes and recovers GUI automation tasks against a UI bridge",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a task to completion",
	Long:  "Plan a task, execute it step by step and recover from failures",
	RunE:  runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted task from its last persisted step",
	RunE:  runResume,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest state of a task",
	RunE:  runStatus,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP status API",
	RunE:  runServe,
}

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect and grow the verified skill library",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List verified skills",
	RunE:  runSkillsList,
}

var skillsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Capture a completed task's plan as a verified skill",
	RunE:  runSkillsAdd,
}

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Inspect the knowledge catalog",
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge items with trust scores",
	RunE:  runKnowledgeList,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "deskpilot.yaml", "Path to the run spec YAML")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	runCmd.Flags().String("task", "", "Task text (overrides the spec's task field)")
	resumeCmd.Flags().String("task", "", "Task text (overrides the spec's task field)")
	statusCmd.Flags().String("task", "", "Task text (overrides the spec's task field)")

	skillsAddCmd.Flags().String("task", "", "Task text (overrides the spec's task field)")
	skillsAddCmd.Flags().StringArray("tag", nil, "Tag for the captured skill (can be repeated)")

	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsAddCmd)
	knowledgeCmd.AddCommand(knowledgeListCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(knowledgeCmd)
}

// app bundles everything a command needs after loading the spec.
type app struct {
	spec      *config.Spec
	logger    *slog.Logger
	store     *planstore.Store
	knowledge *knowledge.Catalog
	skills    *skills.Index
	cache     *snapshot.Cache
	catalog   *catalog.Catalog
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	broker    *server.Broker
}

func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")

	logger, err := logging.New(os.Stderr, level)
	if err != nil {
		return nil, err
	}

	spec, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading spec: %w", err)
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.Register(registry)
	if err != nil {
		return nil, err
	}

	a := &app{
		spec:      spec,
		logger:    logger,
		store:     planstore.NewStore(spec.PlansDir),
		knowledge: knowledge.Open(spec.KnowledgeFile, logging.WithComponent(logger, "knowledge")),
		skills:    skills.Load(spec.SkillsFile, logging.WithComponent(logger, "skills")),
		cache:     snapshot.NewCache(),
		catalog:   catalog.Default(),
		metrics:   m,
		registry:  registry,
		broker:    server.NewBroker(),
	}

	if spec.SnippetsDir != "" {
		n, err := a.knowledge.ImportSnippets(spec.SnippetsDir)
		if err != nil {
			logger.Warn("importing knowledge snippets", "dir", spec.SnippetsDir, "error", err)
		} else if n > 0 {
			logger.Info("imported knowledge snippets", "dir", spec.SnippetsDir, "count", n)
		}
	}
	return a, nil
}

// session assembles the full run loop, including the Claude oracle and the
// bridge driver. Commands that only read stores never call this.
func (a *app) session() (*engine.Session, error) {
	driver, err := executor.NewCommandDriver(a.spec.DriverCommand)
	if err != nil {
		return nil, fmt.Errorf("driver: %w (set driver.command in the spec)", err)
	}

	tools := make([]oracle.ToolSpec, 0)
	for _, name := range a.catalog.Names() {
		tool, _ := a.catalog.Get(name)
		tools = append(tools, oracle.ToolSpec{Name: tool.Name, Description: tool.Description})
	}
	claude := oracle.NewClaude(tools, logging.WithComponent(a.logger, "oracle"))

	res := resolver.NewResolver(a.cache, claude, logging.WithComponent(a.logger, "resolver"))
	exec := executor.New(driver, a.catalog, res, a.cache, claude, a.metrics, a.spec.ToolTimeout,
		logging.WithComponent(a.logger, "executor"))
	rec := recovery.NewManager(a.store, a.knowledge, claude, a.catalog, a.cache, a.metrics,
		a.spec.MaxReplanAttempts, logging.WithComponent(a.logger, "recovery"))

	deps := engine.Deps{
		Planner:   claude,
		Executor:  exec,
		Store:     a.store,
		Knowledge: a.knowledge,
		Skills:    a.skills,
		Recovery:  rec,
		Catalog:   a.catalog,
		Cache:     a.cache,
		Metrics:   a.metrics,
		Events:    a.broker.Publish,
		Logger:    logging.WithComponent(a.logger, "engine"),
	}
	if a.spec.SlackChannel != nil {
		if n := notify.NewSlackNotifier(os.Getenv("SLACK_TOKEN"), *a.spec.SlackChannel,
			logging.WithComponent(a.logger, "notify")); n != nil {
			deps.Notifier = n
		}
	}
	return engine.NewSession(deps, a.spec.SimilarityThreshold, a.spec.MinSuccessRate), nil
}

// taskText resolves the task for a command: the --task flag wins, then the
// spec's task field, then the last task run from this machine.
func (a *app) taskText(cmd *cobra.Command) (string, error) {
	task, _ := cmd.Flags().GetString("task")
	if task == "" {
		task = a.spec.Task
	}
	if task == "" {
		last, err := state.GetLastTask()
		if err != nil {
			return "", fmt.Errorf("no task given: set --task or the spec's task field")
		}
		task = last
	}
	return task, nil
}

// signalContext cancels on SIGINT/SIGTERM so runs stop at step boundaries.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	task, err := a.taskText(cmd)
	if err != nil {
		return err
	}
	sess, err := a.session()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := state.SaveLastTask(task); err != nil {
		a.logger.Warn("saving last task", "error", err)
	}

	res, err := sess.Run(ctx, task)
	if err != nil {
		return fmt.Errorf("task failed after %d replans: %w", res.Replans, err)
	}

	fmt.Printf("Task completed: %s\n", task)
	fmt.Printf("  Plan version: %d\n", res.Record.Plan.Version)
	fmt.Printf("  Steps: %d\n", len(res.Record.Plan.Actions))
	fmt.Printf("  Replans: %d\n", res.Replans)
	if res.SkillID != "" {
		fmt.Printf("  Reused skill: %s\n", res.SkillID)
	}
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	task, err := a.taskText(cmd)
	if err != nil {
		return err
	}
	sess, err := a.session()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := sess.Resume(ctx, task)
	if err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}

	fmt.Printf("Task completed: %s (version %d, %d replans)\n", task, res.Record.Plan.Version, res.Replans)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	task, err := a.taskText(cmd)
	if err != nil {
		return err
	}

	rec, err := a.store.LoadLatest(task)
	if err != nil {
		return fmt.Errorf("no recorded run: %w", err)
	}

	fmt.Printf("Task: %s\n", rec.Task)
	fmt.Printf("Plan version: %d", rec.Plan.Version)
	if rec.ExecutionState.ReplacesVersion != nil {
		fmt.Printf(" (replaces v%d)", *rec.ExecutionState.ReplacesVersion)
	}
	fmt.Println()
	fmt.Printf("Status: %s\n", rec.ExecutionState.OverallStatus)
	fmt.Printf("Step: %d of %d\n", rec.ExecutionState.CurrentStep, len(rec.Plan.Actions))

	for _, st := range rec.ExecutionState.Steps {
		line := fmt.Sprintf("  [%d] %s", st.Step, st.Status)
		if st.Error != "" {
			line += ": " + st.Error
		}
		fmt.Println(line)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	srv := server.New(a.store, a.skills, a.knowledge, a.broker, a.registry)
	a.logger.Info("serving status API", "addr", a.spec.ListenAddr)

	httpServer := &http.Server{Addr: a.spec.ListenAddr, Handler: srv}

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func runSkillsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	stored := a.skills.Skills()
	if len(stored) == 0 {
		fmt.Println("No verified skills")
		return nil
	}

	fmt.Printf("%-10s %-8s %-6s %s\n", "ID", "SUCCESS", "USES", "TASK")
	fmt.Println(strings.Repeat("-", 80))
	for _, s := range stored {
		fmt.Printf("%-10s %-8.2f %-6d %s\n", s.SkillID, s.Metadata.SuccessRate, s.Metadata.TimesUsed, s.TaskDescription)
	}
	return nil
}

func runSkillsAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	task, err := a.taskText(cmd)
	if err != nil {
		return err
	}
	tags, _ := cmd.Flags().GetStringArray("tag")

	// Capture straight from the stores; no oracle or driver needed.
	rec, err := a.store.LoadLatest(task)
	if err != nil {
		return err
	}
	if rec.ExecutionState.OverallStatus != model.StatusCompleted {
		return fmt.Errorf("task is %s, only completed plans become skills", rec.ExecutionState.OverallStatus)
	}
	skill, err := a.skills.AddSkill(task, rec.Plan.Actions, tags)
	if err != nil {
		return err
	}

	fmt.Printf("Captured skill %s (%d actions)\n", skill.SkillID, len(skill.ActionPlan))
	return nil
}

func runKnowledgeList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	items := a.knowledge.Items()
	if len(items) == 0 {
		fmt.Println("No knowledge items")
		return nil
	}

	fmt.Printf("%-10s %-6s %-9s %s\n", "ID", "TRUST", "LEARNINGS", "DESCRIPTION")
	fmt.Println(strings.Repeat("-", 80))
	for _, it := range items {
		fmt.Printf("%-10s %-6.2f %-9d %s\n", it.ID, it.TrustScore, len(it.Learnings), it.Description)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
