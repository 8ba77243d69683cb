// Package types defines the core data model shared across the refinement
// loop, the sweep orchestrator, and the results layer.
package types

import (
	"fmt"
	"strings"
	"time"
)

// TaskKind identifies the benchmark domain a task belongs to. Domain-specific
// prompt templates and few-shot examples are selected by this tag.
type TaskKind string

const (
	KindQA   TaskKind = "qa"   // Natural-language question answering
	KindMath TaskKind = "math" // Word problems answered with program output
	KindCode TaskKind = "code" // Code generation against unit tests
)

// IsValid checks if the task kind value is valid
func (k TaskKind) IsValid() bool {
	switch k {
	case KindQA, KindMath, KindCode:
		return true
	}
	return false
}

// Task is the immutable input unit for a refinement run. Identity is its
// content; nothing in the pipeline mutates it.
type Task struct {
	ID       string   `json:"id"`
	Kind     TaskKind `json:"kind"`
	Question string   `json:"question"`
	// Context carries optional structured material: a table for math tasks,
	// unit tests for code tasks, supporting passages for QA.
	Context string `json:"context,omitempty"`
	// Key is the gold answer when known. The loop never reads it; it exists
	// for post-hoc scoring by callers.
	Key string `json:"key,omitempty"`
}

// Validate checks if the task has valid field values
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if !t.Kind.IsValid() {
		return fmt.Errorf("invalid task kind: %s", t.Kind)
	}
	if strings.TrimSpace(t.Question) == "" {
		return fmt.Errorf("task question is required")
	}
	return nil
}

// CandidateSource records which capability produced a candidate.
type CandidateSource string

const (
	SourceSolver    CandidateSource = "solver"
	SourceRefine    CandidateSource = "refine"
	SourceWarmStart CandidateSource = "warm_start"
)

// Candidate is a proposed answer at a given loop iteration.
type Candidate struct {
	Iteration int             `json:"iteration"`
	Source    CandidateSource `json:"source"`
	Content   string          `json:"content"`
	// Trace holds the raw reasoning emitted alongside the answer, when the
	// capability exposes one.
	Trace string `json:"trace,omitempty"`
}

// ContentEquals reports whether two candidates carry the same answer text.
// Leading/trailing whitespace is ignored; refinement that only reflows
// whitespace has not made progress.
func (c Candidate) ContentEquals(other Candidate) bool {
	return strings.TrimSpace(c.Content) == strings.TrimSpace(other.Content)
}

// Snippet is one piece of retrieved evidence used by a critique.
type Snippet struct {
	Query string `json:"query"`
	Text  string `json:"text"`
}

// Judgment is the structured output of the critique capability for one
// candidate.
type Judgment struct {
	Valid    bool      `json:"valid"`
	Feedback string    `json:"feedback"`
	Evidence []Snippet `json:"evidence,omitempty"`
	// UsedTool records whether evidence retrieval actually ran.
	UsedTool bool `json:"used_tool"`
	// Degraded marks a judgment produced without evidence because the
	// retrieval tool was unavailable, not because it was disabled.
	Degraded bool `json:"degraded,omitempty"`
}

// Outcome says why a refinement run stopped. Callers branch on this, never
// on iteration counts.
type Outcome string

const (
	// OutcomeValid means the critique accepted a candidate.
	OutcomeValid Outcome = "valid"
	// OutcomeBudgetExhausted means the interaction budget ran out; the last
	// candidate is still returned as the best-effort answer.
	OutcomeBudgetExhausted Outcome = "budget_exhausted"
	// OutcomeStable means refinement stopped making progress (identical
	// candidate or judgment unchanged past patience).
	OutcomeStable Outcome = "stable"
	// OutcomeErrored means a capability failed fatally (solver error).
	OutcomeErrored Outcome = "errored"
	// OutcomeCancelled means the run was cut off at a state boundary by
	// context cancellation or a budget ceiling.
	OutcomeCancelled Outcome = "cancelled"
)

// IsValid checks if the outcome value is valid
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeValid, OutcomeBudgetExhausted, OutcomeStable, OutcomeErrored, OutcomeCancelled:
		return true
	}
	return false
}

// IsTerminalSuccess reports whether the run produced a usable final answer
// (converged, exhausted its budget, or stabilized - all of which return the
// last candidate).
func (o Outcome) IsTerminalSuccess() bool {
	return o == OutcomeValid || o == OutcomeBudgetExhausted || o == OutcomeStable
}

// RunKey identifies one sweep cell: a task crossed with a budget, a
// warm-start ratio, and the sweep seed.
type RunKey struct {
	TaskID string  `json:"task_id"`
	Budget int     `json:"budget"`
	Ratio  float64 `json:"ratio"`
	Seed   int64   `json:"seed"`
}

// String renders the key in a stable, log-friendly form.
func (k RunKey) String() string {
	return fmt.Sprintf("%s/b%d/r%.2f/s%d", k.TaskID, k.Budget, k.Ratio, k.Seed)
}

// RunResult is the aggregated outcome of one refinement run.
type RunResult struct {
	Key        RunKey        `json:"key"`
	Kind       TaskKind      `json:"kind"`
	Outcome    Outcome       `json:"outcome"`
	Final      Candidate     `json:"final"`
	Iterations int           `json:"iterations"`
	TokensIn   int64         `json:"tokens_in"`
	TokensOut  int64         `json:"tokens_out"`
	CostUSD    float64       `json:"cost_usd"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	// Err carries the failure message for errored runs and the stop reason
	// for cancelled ones.
	Err       string    `json:"err,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Validate checks if the run result has valid field values
func (r *RunResult) Validate() error {
	if r.Key.TaskID == "" {
		return fmt.Errorf("run result task ID is required")
	}
	if r.Key.Budget < 1 {
		return fmt.Errorf("run result budget must be >= 1 (got %d)", r.Key.Budget)
	}
	if r.Key.Ratio < 0 || r.Key.Ratio > 1 {
		return fmt.Errorf("run result ratio must be in [0,1] (got %g)", r.Key.Ratio)
	}
	if !r.Outcome.IsValid() {
		return fmt.Errorf("invalid outcome: %s", r.Outcome)
	}
	if r.Iterations < 0 {
		return fmt.Errorf("iterations cannot be negative")
	}
	return nil
}
