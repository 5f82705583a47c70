package server

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinkerloft/deskpilot/internal/engine"
	"github.com/tinkerloft/deskpilot/internal/knowledge"
	"github.com/tinkerloft/deskpilot/internal/metrics"
	"github.com/tinkerloft/deskpilot/internal/model"
	"github.com/tinkerloft/deskpilot/internal/planstore"
	"github.com/tinkerloft/deskpilot/internal/skills"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testServer(t *testing.T) (*Server, *planstore.Store, *Broker) {
	t.Helper()
	dir := t.TempDir()
	store := planstore.NewStore(filepath.Join(dir, "plans"))
	idx := skills.Load(filepath.Join(dir, "skills.yaml"), discardLogger())
	kn := knowledge.Open(filepath.Join(dir, "knowledge.yaml"), discardLogger())
	broker := NewBroker()

	registry := prometheus.NewRegistry()
	_, err := metrics.Register(registry)
	require.NoError(t, err)

	return New(store, idx, kn, broker, registry), store, broker
}

func seedRecord(t *testing.T, store *planstore.Store, task string, version int) planstore.Record {
	t.Helper()
	rec := planstore.Record{
		Task: task,
		Plan: model.Plan{
			Version: version,
			Actions: []model.Action{{ToolName: "click", Arguments: model.Arguments{
				"coordinate": model.CoordinateArg(1, 2),
			}}},
		},
		ExecutionState: model.NewExecutionState(),
	}
	require.NoError(t, store.Save(rec))
	return rec
}

func getJSON(t *testing.T, srv *Server, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if out != nil && rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
	}
	return rr.Code
}

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	var body map[string]string
	code := getJSON(t, srv, "/api/v1/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestListTasks(t *testing.T) {
	srv, store, _ := testServer(t)
	seedRecord(t, store, "open the settings menu", 1)
	seedRecord(t, store, "open the settings menu", 2)
	seedRecord(t, store, "close all windows", 1)

	var body struct {
		Tasks []TaskSummary `json:"tasks"`
	}
	code := getJSON(t, srv, "/api/v1/tasks", &body)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body.Tasks, 2)

	byTask := map[string]TaskSummary{}
	for _, s := range body.Tasks {
		byTask[s.Task] = s
	}
	assert.Equal(t, 2, byTask["open the settings menu"].PlanVersion)
	assert.Equal(t, 1, byTask["open the settings menu"].TotalSteps)
}

func TestGetTaskAndVersions(t *testing.T) {
	srv, store, _ := testServer(t)
	seedRecord(t, store, "open the settings menu", 1)
	seedRecord(t, store, "open the settings menu", 2)
	id := planstore.TaskID("open the settings menu")

	var rec planstore.Record
	code := getJSON(t, srv, "/api/v1/tasks/"+id, &rec)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, rec.Plan.Version)

	var versions struct {
		Versions []int `json:"versions"`
	}
	code = getJSON(t, srv, "/api/v1/tasks/"+id+"/versions", &versions)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []int{1, 2}, versions.Versions)

	code = getJSON(t, srv, "/api/v1/tasks/ffffffffffff", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListSkillsAndKnowledge(t *testing.T) {
	srv, _, _ := testServer(t)

	var skillsBody struct {
		Skills []model.VerifiedSkill `json:"skills"`
	}
	code := getJSON(t, srv, "/api/v1/skills", &skillsBody)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, skillsBody.Skills)

	var knBody struct {
		Items []model.KnowledgeItem `json:"items"`
	}
	code = getJSON(t, srv, "/api/v1/knowledge", &knBody)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, knBody.Items)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTaskEventsStream(t *testing.T) {
	srv, store, broker := testServer(t)
	seedRecord(t, store, "open the settings menu", 1)
	id := planstore.TaskID("open the settings menu")

	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/tasks/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: status\n", line)

	// Drain the rest of the initial frame.
	for line != "\n" {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
	}

	// A live event for this task comes through; one for another task does not.
	broker.Publish(engine.Event{Type: engine.EventStepCompleted, Task: "some other task", Step: 3})
	broker.Publish(engine.Event{Type: engine.EventStepCompleted, Task: "open the settings menu", Step: 0})

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: step_completed\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))
	var evt engine.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt))
	assert.Equal(t, "open the settings menu", evt.Task)
}

func TestBrokerDropsSlowSubscribers(t *testing.T) {
	broker := NewBroker()
	ch, cancel := broker.Subscribe()
	defer cancel()

	// Overflow the buffer; Publish must not block.
	for i := 0; i < 100; i++ {
		broker.Publish(engine.Event{Type: engine.EventStepCompleted, Step: i})
	}
	assert.Len(t, ch, 16)
}
