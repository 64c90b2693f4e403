package workspace

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Stage names every artifact kind the core persists. The stage determines
// the file extension; versions are per (session, stage).
const (
	StageSession    = "session"
	StagePlan       = "plan"
	StageTask       = "task"
	StageJournal    = "journal"
	StageData       = "data"
	StageResearch   = "research"
	StageStrategy   = "strategy"
	StageResults    = "results"
	StageEvaluation = "evaluation"
	StageFeedback   = "feedback"
	StageIteration  = "iteration"
	StageReport     = "report"
	StageEscalation = "escalation"
	StageFailure    = "failure"
)

// stageExt maps each stage to its file extension.
var stageExt = map[string]string{
	StageSession:    ".json",
	StagePlan:       ".json",
	StageTask:       ".json",
	StageJournal:    ".md",
	StageData:       ".csv",
	StageResearch:   ".md",
	StageStrategy:   ".py",
	StageResults:    ".json",
	StageEvaluation: ".md",
	StageFeedback:   ".txt",
	StageIteration:  ".json",
	StageReport:     ".md",
	StageEscalation: ".json",
	StageFailure:    ".json",
}

// KnownStage reports whether stage is one of the declared stages.
func KnownStage(stage string) bool {
	_, ok := stageExt[stage]
	return ok
}

// ArtifactName returns the canonical file name for (stage, version),
// e.g. "strategy_v2.py".
func ArtifactName(stage string, version int) string {
	return fmt.Sprintf("%s_v%d%s", stage, version, stageExt[stage])
}

// ParseArtifactName splits a file name back into (stage, version).
// Returns ok=false for names that do not follow the convention.
func ParseArtifactName(name string) (stage string, version int, ok bool) {
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return "", 0, false
	}
	base := name[:dot]
	idx := strings.LastIndex(base, "_v")
	if idx < 0 {
		return "", 0, false
	}
	stage = base[:idx]
	v, err := strconv.Atoi(base[idx+2:])
	if err != nil || v < 1 {
		return "", 0, false
	}
	if !KnownStage(stage) || stageExt[stage] != name[dot:] {
		return "", 0, false
	}
	return stage, v, true
}

// DirName builds the workspace directory name for a session: creation
// timestamp plus a slug derived from the goal text.
func DirName(goal string, createdAt time.Time) string {
	return createdAt.UTC().Format("2006-01-02_15-04-05") + "_" + Slug(goal)
}

// Slug reduces goal text to a filesystem-safe fragment: lowercase
// alphanumerics with underscores, capped at 30 characters.
func Slug(goal string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(goal) {
		if b.Len() >= 30 {
			break
		}
		if unicode.IsLetter(r) && r < 128 || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		s = "session"
	}
	return s
}
