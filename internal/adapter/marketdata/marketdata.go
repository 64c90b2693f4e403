// Package marketdata exposes historical price downloads as a gateway
// tool. Downloaded CSVs land in the session workspace as data artifacts,
// so workers reference files instead of re-fetching quotes.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/QuantForge/internal/domain"
	"github.com/Strob0t/QuantForge/internal/gateway"
	"github.com/Strob0t/QuantForge/internal/workspace"
)

// Dependency is the circuit-breaker key for the quote provider.
const Dependency = "marketdata"

// Tool downloads daily bars from a stooq-compatible CSV endpoint.
type Tool struct {
	baseURL string
	store   *workspace.Store
	client  *http.Client
}

// New creates the market data tool against baseURL.
func New(baseURL string, store *workspace.Store) *Tool {
	return &Tool{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (t *Tool) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{
		Name:        "download_market_data",
		Description: "Download historical OHLCV bars as CSV artifacts in the session workspace.",
		Dependency:  Dependency,
		Idempotent:  true,
		Params: []gateway.Param{
			{Name: "workspace", Type: "string", Description: "session workspace directory", Required: true},
			{Name: "tickers", Type: "array", Description: "ticker symbols, e.g. [\"aapl.us\"]", Required: true},
			{Name: "start", Type: "string", Description: "start date YYYYMMDD", Required: true},
			{Name: "end", Type: "string", Description: "end date YYYYMMDD", Required: true},
			{Name: "interval", Type: "string", Description: "bar interval", Enum: []string{"d", "w", "m"}},
		},
	}
}

type args struct {
	Workspace string   `json:"workspace"`
	Tickers   []string `json:"tickers"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Interval  string   `json:"interval"`
}

type download struct {
	Ticker   string `json:"ticker"`
	Artifact string `json:"artifact"`
	Bytes    int    `json:"bytes"`
}

// Invoke downloads one CSV per ticker and returns the artifact names.
func (t *Tool) Invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a args
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if a.Interval == "" {
		a.Interval = "d"
	}

	out := make([]download, 0, len(a.Tickers))
	for _, ticker := range a.Tickers {
		body, err := t.fetch(ctx, ticker, a.Start, a.End, a.Interval)
		if err != nil {
			return nil, err
		}
		ver, err := t.store.NextVersion(a.Workspace, workspace.StageData)
		if err != nil {
			return nil, err
		}
		name, err := t.store.WriteArtifact(a.Workspace, workspace.StageData, ver, body)
		if err != nil {
			return nil, err
		}
		out = append(out, download{Ticker: ticker, Artifact: name, Bytes: len(body)})
	}
	return json.Marshal(out)
}

func (t *Tool) fetch(ctx context.Context, ticker, start, end, interval string) ([]byte, error) {
	q := url.Values{}
	q.Set("s", ticker)
	q.Set("d1", start)
	q.Set("d2", end)
	q.Set("i", interval)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", domain.ErrTransient, ticker, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: quote provider returned %d for %s", domain.ErrTransient, resp.StatusCode, ticker)
	default:
		return nil, fmt.Errorf("quote provider returned %d for %s", resp.StatusCode, ticker)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrTransient, ticker, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response for %s", ticker)
	}
	return body, nil
}
