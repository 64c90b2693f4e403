package scripted

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/QuantForge/internal/adapter/marketdata"
	"github.com/Strob0t/QuantForge/internal/adapter/sandbox"
	"github.com/Strob0t/QuantForge/internal/domain/plan"
	"github.com/Strob0t/QuantForge/internal/domain/refine"
	"github.com/Strob0t/QuantForge/internal/domain/worker"
	"github.com/Strob0t/QuantForge/internal/gateway"
	"github.com/Strob0t/QuantForge/internal/port/workerbackend"
	"github.com/Strob0t/QuantForge/internal/resilience"
	"github.com/Strob0t/QuantForge/internal/workspace"
)

func TestCoversEveryRole(t *testing.T) {
	b := New()
	if len(b.Roles()) != len(worker.All()) {
		t.Fatalf("Roles = %v", b.Roles())
	}
	for _, role := range worker.All() {
		_, err := b.Perform(context.Background(), workerbackend.Request{Role: role, Goal: "g"})
		if err != nil {
			t.Fatalf("Perform(%s): %v", role, err)
		}
	}
}

func TestPlannerOutputIsAValidPlan(t *testing.T) {
	b := New()
	resp, err := b.Perform(context.Background(), workerbackend.Request{Role: worker.RolePlanner, Goal: "g"})
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	var steps []plan.Step
	if err := json.Unmarshal(resp.Output, &steps); err != nil {
		t.Fatalf("decode steps: %v", err)
	}
	p := plan.Plan{SessionID: "s", Version: 1, Goal: "g", Steps: steps}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestJudgeScoreRisesPerIteration(t *testing.T) {
	b := New()
	last := 0
	for n := 1; n <= 6; n++ {
		resp, err := b.Perform(context.Background(), workerbackend.Request{Role: worker.RoleJudge, Goal: "g", Iteration: n})
		if err != nil {
			t.Fatalf("Perform: %v", err)
		}
		j, err := refine.ParseJudgment(resp.Output)
		if err != nil {
			t.Fatalf("ParseJudgment: %v", err)
		}
		if j.Score < last || j.Score > 10 {
			t.Fatalf("iteration %d score = %d (previous %d)", n, j.Score, last)
		}
		last = j.Score
	}
	if last != 10 {
		t.Fatalf("score never capped at 10, got %d", last)
	}
}

func TestWriterEchoesContext(t *testing.T) {
	b := New()
	resp, err := b.Perform(context.Background(), workerbackend.Request{
		Role: worker.RoleWriter, Goal: "g", Context: "journal excerpt",
	})
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if !strings.Contains(string(resp.Output), "journal excerpt") {
		t.Fatalf("report = %q", resp.Output)
	}
}

func TestPerformObservesCancellation(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Perform(ctx, workerbackend.Request{Role: worker.RoleExecutor, Goal: "g"}); err == nil {
		t.Fatal("Perform on cancelled context = nil, want error")
	}
}

// stubSearch stands in for the web search tool so the fan-out is
// observable without the network.
type stubSearch struct{}

func (stubSearch) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{
		Name:       "web_search",
		Dependency: "websearch",
		Idempotent: true,
		Params:     []gateway.Param{{Name: "keywords", Type: "string", Required: true}},
	}
}

func (stubSearch) Invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"results": "three relevant articles"})
}

func testRetryPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxTries: 2, InitialInterval: time.Millisecond, Multiplier: 1.5, MaxInterval: 5 * time.Millisecond}
}

func newToolWorkspace(t *testing.T) (*workspace.Store, string) {
	t.Helper()
	store, err := workspace.New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	t.Cleanup(store.Close)
	ws, err := store.Create("momentum goal", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return store, ws
}

func TestExecutorDrivesToolFanOut(t *testing.T) {
	store, ws := newToolWorkspace(t)

	quotes := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Date,Open,High,Low,Close,Volume\n2024-01-02,100,101,99,100.5,1200\n"))
	}))
	defer quotes.Close()

	registry := gateway.NewRegistry()
	registry.Register(marketdata.New(quotes.URL, store))
	registry.Register(stubSearch{})
	b := New()
	b.Tools = gateway.New(registry, resilience.NewRegistry(3, time.Minute, time.Minute), testRetryPolicy())

	resp, err := b.Perform(context.Background(), workerbackend.Request{
		Role:      worker.RoleExecutor,
		Goal:      "momentum goal",
		Objective: "gather research",
		SessionID: "sess-1",
		Workspace: ws,
	})
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}

	notes := string(resp.Output)
	if !strings.Contains(notes, "data_v1.csv") {
		t.Fatalf("notes do not reference the downloaded data:\n%s", notes)
	}
	if !strings.Contains(notes, "three relevant articles") {
		t.Fatalf("notes do not include search results:\n%s", notes)
	}
	if _, err := store.ReadArtifact(ws, "data_v1.csv"); err != nil {
		t.Fatalf("data artifact missing: %v", err)
	}
}

func TestExecutorToleratesToolFailures(t *testing.T) {
	_, ws := newToolWorkspace(t)

	// No tools registered: both calls come back as terminal errors and
	// the turn still produces research notes.
	b := New()
	b.Tools = gateway.New(gateway.NewRegistry(), resilience.NewRegistry(3, time.Minute, time.Minute), testRetryPolicy())

	resp, err := b.Perform(context.Background(), workerbackend.Request{
		Role:      worker.RoleExecutor,
		Goal:      "g",
		Objective: "gather research",
		SessionID: "sess-1",
		Workspace: ws,
	})
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if !strings.Contains(string(resp.Output), "unavailable") {
		t.Fatalf("notes do not record the tool failures:\n%s", resp.Output)
	}
}

func TestEvaluatorRunsStrategyInSandbox(t *testing.T) {
	exec := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"stdout":"backtest ok","stderr":"","exit_code":0}`))
	}))
	defer exec.Close()

	registry := gateway.NewRegistry()
	registry.Register(sandbox.New(exec.URL, 1, 0))
	b := New()
	b.Tools = gateway.New(registry, resilience.NewRegistry(3, time.Minute, time.Minute), testRetryPolicy())

	resp, err := b.Perform(context.Background(), workerbackend.Request{
		Role:      worker.RoleEvaluator,
		Goal:      "g",
		SessionID: "sess-1",
		Iteration: 1,
		Context:   "print('x')",
	})
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if !strings.Contains(string(resp.Output), "backtest ok") {
		t.Fatalf("evaluation does not capture the sandbox output:\n%s", resp.Output)
	}
}
