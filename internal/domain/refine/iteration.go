// Package refine defines the data model of the refinement sub-loop: one
// Iteration per synthesize→evaluate→judge pass over the working artifact.
package refine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/QuantForge/internal/domain"
)

// Judgment is the validated output of the judge worker for one iteration.
type Judgment struct {
	Score       int      `json:"score"`
	Critique    string   `json:"critique"`
	Suggestions []string `json:"suggestions"`
}

// Iteration records one pass of the refinement loop. Once the judgment is
// recorded the iteration is immutable.
type Iteration struct {
	Number            int       `json:"number"`
	StrategyVersion   int       `json:"strategy_version"`
	EvaluationVersion int       `json:"evaluation_version"`
	Judgment          Judgment  `json:"judgment"`
	CompletedAt       time.Time `json:"completed_at"`
}

// ParseJudgment decodes raw judge output into a Judgment, enforcing the
// declared shape: integer score in [1,10], non-empty critique, suggestions
// as an ordered list. Any deviation is a judge-malformed error; lenient
// parsing is deliberately not attempted.
func ParseJudgment(raw []byte) (Judgment, error) {
	var probe struct {
		Score       json.Number `json:"score"`
		Critique    string      `json:"critique"`
		Suggestions []string    `json:"suggestions"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&probe); err != nil {
		return Judgment{}, fmt.Errorf("%w: %v", domain.ErrJudgeMalformed, err)
	}
	score, err := probe.Score.Int64()
	if err != nil {
		return Judgment{}, fmt.Errorf("%w: score %q is not an integer", domain.ErrJudgeMalformed, probe.Score)
	}
	if score < 1 || score > 10 {
		return Judgment{}, fmt.Errorf("%w: score %d outside [1,10]", domain.ErrJudgeMalformed, score)
	}
	if probe.Critique == "" {
		return Judgment{}, fmt.Errorf("%w: critique is empty", domain.ErrJudgeMalformed)
	}
	if probe.Suggestions == nil {
		return Judgment{}, fmt.Errorf("%w: suggestions list missing", domain.ErrJudgeMalformed)
	}
	return Judgment{
		Score:       int(score),
		Critique:    probe.Critique,
		Suggestions: probe.Suggestions,
	}, nil
}

// Feedback renders the judgment as the feedback text consumed by the next
// synthesis step.
func (j Judgment) Feedback() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Score: %d/10\n\nCritique:\n%s\n", j.Score, j.Critique)
	if len(j.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for i, s := range j.Suggestions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	return b.String()
}
