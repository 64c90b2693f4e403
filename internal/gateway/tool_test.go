package gateway

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Strob0t/QuantForge/internal/domain"
)

func TestValidateArgs(t *testing.T) {
	desc := Descriptor{
		Name: "download_market_data",
		Params: []Param{
			{Name: "workspace", Type: "string", Required: true},
			{Name: "tickers", Type: "array", Required: true},
			{Name: "interval", Type: "string", Enum: []string{"d", "w", "m"}},
			{Name: "limit", Type: "integer"},
			{Name: "threshold", Type: "number"},
			{Name: "dry_run", Type: "boolean"},
			{Name: "options", Type: "object"},
		},
	}

	tests := []struct {
		name string
		args string
		ok   bool
	}{
		{"minimal valid", `{"workspace":"ws","tickers":["AAPL"]}`, true},
		{"all fields valid", `{"workspace":"ws","tickers":[],"interval":"w","limit":5,"threshold":0.5,"dry_run":true,"options":{}}`, true},
		{"not an object", `[1,2]`, false},
		{"missing required", `{"workspace":"ws"}`, false},
		{"wrong string type", `{"workspace":1,"tickers":[]}`, false},
		{"wrong array type", `{"workspace":"ws","tickers":"AAPL"}`, false},
		{"enum violation", `{"workspace":"ws","tickers":[],"interval":"h"}`, false},
		{"fractional integer", `{"workspace":"ws","tickers":[],"limit":1.5}`, false},
		{"wrong number type", `{"workspace":"ws","tickers":[],"threshold":"high"}`, false},
		{"wrong boolean type", `{"workspace":"ws","tickers":[],"dry_run":"yes"}`, false},
		{"wrong object type", `{"workspace":"ws","tickers":[],"options":[]}`, false},
		{"undeclared argument", `{"workspace":"ws","tickers":[],"extra":1}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs(desc, json.RawMessage(tt.args))
			if tt.ok && err != nil {
				t.Fatalf("ValidateArgs = %v, want nil", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("ValidateArgs = nil, want error")
				}
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("ValidateArgs = %v, want ErrValidation", err)
				}
			}
		})
	}
}

func TestValidateArgsEmptyPayload(t *testing.T) {
	// No params declared, no args sent.
	if err := ValidateArgs(Descriptor{Name: "noop"}, nil); err != nil {
		t.Fatalf("ValidateArgs = %v, want nil", err)
	}
	// Required param but empty payload.
	d := Descriptor{Name: "t", Params: []Param{{Name: "x", Type: "string", Required: true}}}
	if err := ValidateArgs(d, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ValidateArgs = %v, want ErrValidation", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{desc: Descriptor{Name: "b_tool"}})
	r.Register(&fakeTool{desc: Descriptor{Name: "a_tool"}})

	if _, err := r.Get("a_tool"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Get(missing) = %v, want ErrValidation", err)
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "a_tool" || names[1] != "b_tool" {
		t.Fatalf("Names = %v", names)
	}
}
