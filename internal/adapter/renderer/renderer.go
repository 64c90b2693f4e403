// Package renderer exposes the report rendering service as a gateway
// tool: it posts a markdown artifact and returns the rendered document's
// location.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/QuantForge/internal/domain"
	"github.com/Strob0t/QuantForge/internal/gateway"
	"github.com/Strob0t/QuantForge/internal/workspace"
)

// Dependency is the circuit-breaker key for the rendering service.
const Dependency = "renderer"

// Tool renders markdown report artifacts into shareable documents.
type Tool struct {
	baseURL string
	store   *workspace.Store
	client  *http.Client
}

// New creates the renderer tool against baseURL.
func New(baseURL string, store *workspace.Store) *Tool {
	return &Tool{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		client: &http.Client{
			Timeout:   time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (t *Tool) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{
		Name:        "render_report",
		Description: "Render a markdown report artifact into a formatted document.",
		Dependency:  Dependency,
		Idempotent:  true,
		Params: []gateway.Param{
			{Name: "workspace", Type: "string", Description: "session workspace directory", Required: true},
			{Name: "artifact", Type: "string", Description: "report artifact file name", Required: true},
		},
	}
}

type renderResult struct {
	Path string `json:"path"`
}

// Invoke reads the artifact, posts it to the renderer, and returns the
// rendered document's path as reported by the service.
func (t *Tool) Invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a struct {
		Workspace string `json:"workspace"`
		Artifact  string `json:"artifact"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	md, err := t.store.ReadArtifact(a.Workspace, a.Artifact)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/render", bytes.NewReader(md))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/markdown")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: renderer: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: renderer returned %d", domain.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("renderer returned %d", resp.StatusCode)
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read renderer response: %v", domain.ErrTransient, err)
	}
	var res renderResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("decode renderer response: %w", err)
	}
	return json.Marshal(res)
}
