package renderer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/QuantForge/internal/domain"
	"github.com/Strob0t/QuantForge/internal/workspace"
)

func newStoreWithReport(t *testing.T) (*workspace.Store, string) {
	t.Helper()
	store, err := workspace.New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	t.Cleanup(store.Close)
	ws, err := store.Create("goal", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.WriteArtifact(ws, workspace.StageReport, 1, []byte("# Final report\n")); err != nil {
		t.Fatalf("write report: %v", err)
	}
	return store, ws
}

func renderArgs(t *testing.T, ws, artifact string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"workspace": ws, "artifact": artifact})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return raw
}

func TestInvokePostsArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/render" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "# Final report\n" {
			t.Errorf("body = %q", body)
		}
		_, _ = w.Write([]byte(`{"path":"/rendered/report.pdf"}`))
	}))
	t.Cleanup(srv.Close)

	store, ws := newStoreWithReport(t)
	tool := New(srv.URL, store)

	raw, err := tool.Invoke(context.Background(), renderArgs(t, ws, "report_v1.md"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var res renderResult
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Path != "/rendered/report.pdf" {
		t.Fatalf("path = %q", res.Path)
	}
}

func TestInvokeMissingArtifact(t *testing.T) {
	store, ws := newStoreWithReport(t)
	tool := New("http://127.0.0.1:1", store)
	_, err := tool.Invoke(context.Background(), renderArgs(t, ws, "report_v2.md"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Invoke = %v, want ErrNotFound", err)
	}
}

func TestInvokeServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	store, ws := newStoreWithReport(t)
	tool := New(srv.URL, store)
	if _, err := tool.Invoke(context.Background(), renderArgs(t, ws, "report_v1.md")); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("Invoke = %v, want ErrTransient", err)
	}
}
