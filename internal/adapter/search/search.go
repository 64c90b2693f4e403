// Package search exposes DuckDuckGo web search as a gateway tool.
package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/tools/duckduckgo"

	"github.com/Strob0t/QuantForge/internal/domain"
	"github.com/Strob0t/QuantForge/internal/gateway"
)

// Dependency is the circuit-breaker key for the search provider.
const Dependency = "websearch"

const defaultMaxResults = 10

// Tool runs web searches through the DuckDuckGo HTML endpoint.
type Tool struct {
	client *duckduckgo.Tool
}

// New creates the search tool. maxResults caps how many hits a query
// returns; 0 uses the default.
func New(maxResults int) (*Tool, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo client: %w", err)
	}
	return &Tool{client: ddg}, nil
}

func (t *Tool) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{
		Name:        "web_search",
		Description: "Search the web for recent articles and documentation.",
		Dependency:  Dependency,
		Idempotent:  true,
		Params: []gateway.Param{
			{Name: "keywords", Type: "string", Description: "search query", Required: true},
		},
	}
}

type result struct {
	Results string `json:"results"`
}

// Invoke runs the query and returns the raw result text.
func (t *Tool) Invoke(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var a struct {
		Keywords string `json:"keywords"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	res, err := t.client.Call(ctx, a.Keywords)
	if err != nil {
		// The HTML endpoint throttles aggressively; treat every provider
		// error as retryable.
		return nil, fmt.Errorf("%w: search: %v", domain.ErrTransient, err)
	}
	return json.Marshal(result{Results: res})
}
