// Package sandbox exposes remote code execution as a gateway tool. The
// execution service keeps interpreter state per session id, so successive
// calls from one session share variables and loaded data. A semaphore
// lease pool bounds how many concurrent executions the service sees.
package sandbox

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
	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/QuantForge/internal/domain"
	"github.com/Strob0t/QuantForge/internal/gateway"
)

// Dependency is the circuit-breaker key for the execution service.
const Dependency = "sandbox"

// Tool is the sandboxed code execution client.
type Tool struct {
	baseURL   string
	client    *http.Client
	slots     *semaphore.Weighted
	leaseWait time.Duration // 0 = fail fast when no slot is free
}

// New creates the sandbox tool with a pool of n execution slots.
func New(baseURL string, n int, leaseWait time.Duration) *Tool {
	if n < 1 {
		n = 1
	}
	return &Tool{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   5 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		slots:     semaphore.NewWeighted(int64(n)),
		leaseWait: leaseWait,
	}
}

func (t *Tool) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{
		Name:        "execute_code",
		Description: "Run code in the session's persistent sandbox and capture stdout, stderr, and produced files.",
		Dependency:  Dependency,
		Idempotent:  false,
		Params: []gateway.Param{
			{Name: "session_id", Type: "string", Description: "session owning the sandbox state", Required: true},
			{Name: "code", Type: "string", Description: "source to execute", Required: true},
		},
	}
}

type execRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

// ExecResult is what the execution service reports back.
type ExecResult struct {
	Stdout    string   `json:"stdout"`
	Stderr    string   `json:"stderr"`
	ExitCode  int      `json:"exit_code"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// Invoke acquires a slot lease, runs the code remotely, and releases the
// lease. Lease acquisition waits at most leaseWait; with a zero wait an
// exhausted pool fails immediately.
func (t *Tool) Invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a execRequest
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.slots.Release(1)

	body, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sandbox: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: sandbox returned %d", domain.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned %d", resp.StatusCode)
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read sandbox response: %v", domain.ErrTransient, err)
	}
	var res ExecResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("decode sandbox response: %w", err)
	}
	return json.Marshal(res)
}

func (t *Tool) acquire(ctx context.Context) error {
	if t.leaseWait <= 0 {
		if !t.slots.TryAcquire(1) {
			return fmt.Errorf("%w: no execution slot available", domain.ErrTransient)
		}
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, t.leaseWait)
	defer cancel()
	if err := t.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: no execution slot within %s", domain.ErrTransient, t.leaseWait)
	}
	return nil
}
