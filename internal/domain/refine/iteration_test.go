package refine

import (
	"errors"
	"strings"
	"testing"

	"github.com/Strob0t/QuantForge/internal/domain"
)

func TestParseJudgment(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Judgment
	}{
		{
			name: "minimal",
			raw:  `{"score":7,"critique":"solid but slow","suggestions":[]}`,
			want: Judgment{Score: 7, Critique: "solid but slow", Suggestions: []string{}},
		},
		{
			name: "with suggestions",
			raw:  `{"score":10,"critique":"ship it","suggestions":["add tests"]}`,
			want: Judgment{Score: 10, Critique: "ship it", Suggestions: []string{"add tests"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJudgment([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseJudgment: %v", err)
			}
			if got.Score != tt.want.Score || got.Critique != tt.want.Critique || len(got.Suggestions) != len(tt.want.Suggestions) {
				t.Fatalf("ParseJudgment = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseJudgmentMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `the strategy is great, 8/10`},
		{name: "float score", raw: `{"score":7.5,"critique":"x","suggestions":[]}`},
		{name: "string score", raw: `{"score":"8","critique":"x","suggestions":[]}`},
		{name: "score below range", raw: `{"score":0,"critique":"x","suggestions":[]}`},
		{name: "score above range", raw: `{"score":11,"critique":"x","suggestions":[]}`},
		{name: "empty critique", raw: `{"score":5,"critique":"","suggestions":[]}`},
		{name: "missing suggestions", raw: `{"score":5,"critique":"x"}`},
		{name: "extra field", raw: `{"score":5,"critique":"x","suggestions":[],"confidence":0.9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJudgment([]byte(tt.raw)); !errors.Is(err, domain.ErrJudgeMalformed) {
				t.Fatalf("ParseJudgment(%s) = %v, want ErrJudgeMalformed", tt.raw, err)
			}
		})
	}
}

func TestFeedback(t *testing.T) {
	j := Judgment{
		Score:       6,
		Critique:    "entry rules too loose",
		Suggestions: []string{"tighten stops", "add volume filter"},
	}
	fb := j.Feedback()
	for _, want := range []string{"6", "entry rules too loose", "tighten stops", "add volume filter"} {
		if !strings.Contains(fb, want) {
			t.Fatalf("Feedback() = %q, missing %q", fb, want)
		}
	}
}
