package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/refinelab/refinery/internal/types"
)

// Solver produces the initial candidate for a task. It is invoked exactly
// once per run, at iteration 0, unless the run was warm-started.
type Solver interface {
	Solve(ctx context.Context, task types.Task) (types.Candidate, error)
}

// Critic evaluates a candidate and produces a structured judgment.
type Critic interface {
	Critique(ctx context.Context, task types.Task, cand types.Candidate) (types.Judgment, error)
}

// Refiner produces a revised candidate from the current one plus critique
// feedback.
type Refiner interface {
	Refine(ctx context.Context, task types.Task, cand types.Candidate, feedback string) (types.Candidate, error)
}

// BudgetGate is consulted at every state boundary. A denied gate stops the
// run deterministically with a cancelled outcome; the in-flight candidate is
// still returned.
type BudgetGate interface {
	CanProceed(runID string) (bool, string)
}

// Resettable is implemented by capabilities that carry per-run state (for
// example the critic's query history). Reset clears it between tasks.
type Resettable interface {
	Reset()
}

// Config controls the refinement iteration behavior.
type Config struct {
	// MaxInteractions is the interaction budget, inclusive of the initial
	// solve. Must be >= 1. A budget-exhausted run returns its last candidate;
	// exhaustion is not an error.
	MaxInteractions int

	// Patience is the number of consecutive critiques with unchanged feedback
	// tolerated before the run is forced to a stable stop. Zero disables the
	// check. This is distinct from the identical-candidate short-circuit,
	// which always applies.
	Patience int

	// Timeout bounds the whole run. Zero means no timeout; the interaction
	// budget is the only limit.
	Timeout time.Duration
}

// Validate checks the config for usable values.
func (c Config) Validate() error {
	if c.MaxInteractions < 1 {
		return fmt.Errorf("MaxInteractions must be >= 1 (got %d)", c.MaxInteractions)
	}
	if c.Patience < 0 {
		return fmt.Errorf("Patience cannot be negative: %d", c.Patience)
	}
	return nil
}

// Step is one completed solve-or-refine cycle: the candidate that was
// produced and the judgment it received.
type Step struct {
	Candidate types.Candidate
	Judgment  types.Judgment
}

// State is the run-scoped record owned exclusively by the loop. It is
// created fresh for every run and never shared across concurrent runs.
type State struct {
	Iteration  int
	Current    types.Candidate
	Judgment   types.Judgment
	History    []Step
	Terminated bool
}

// reset returns the state to its initial values.
func (s *State) reset() {
	s.Iteration = 0
	s.Current = types.Candidate{}
	s.Judgment = types.Judgment{}
	s.History = nil
	s.Terminated = false
}

// Result captures the outcome of a refinement run. The final candidate is
// populated for every terminal-success outcome, including budget exhaustion
// and stability stops.
type Result struct {
	Outcome    types.Outcome
	Final      types.Candidate
	Iterations int
	History    []Step
	Elapsed    time.Duration
	// Reason explains policy-terminal and cancelled stops in one line.
	Reason string
}

// Loop runs the solve -> critique -> refine state machine for one task at a
// time. The same instance may be reused across unrelated tasks; Run resets
// all run-scoped state first, and Reset is exported for callers that want to
// drop state eagerly.
//
// A Loop is not safe for concurrent use. Sweeps create one Loop per cell and
// share only the (stateless) capabilities behind it.
type Loop struct {
	solver  Solver
	critic  Critic
	refiner Refiner
	config  Config

	gate      BudgetGate
	collector MetricsCollector

	task  types.Task
	runID string
	state State
}

// Option configures optional loop collaborators.
type Option func(*Loop)

// WithGate installs a budget gate checked at every state boundary.
func WithGate(gate BudgetGate) Option {
	return func(l *Loop) { l.gate = gate }
}

// WithCollector installs a metrics collector. Nil disables collection.
func WithCollector(c MetricsCollector) Option {
	return func(l *Loop) { l.collector = c }
}

// New creates a refinement loop over the three capabilities.
func New(solver Solver, critic Critic, refiner Refiner, cfg Config, opts ...Option) (*Loop, error) {
	if solver == nil || critic == nil || refiner == nil {
		return nil, fmt.Errorf("solver, critic, and refiner are all required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loop config: %w", err)
	}

	l := &Loop{
		solver:  solver,
		critic:  critic,
		refiner: refiner,
		config:  cfg,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Reset clears the loop's run-scoped state (history, iteration counter,
// current candidate and judgment) and the per-run state of any capability
// that carries some.
func (l *Loop) Reset() {
	l.state.reset()
	for _, cap := range []any{l.solver, l.critic, l.refiner} {
		if r, ok := cap.(Resettable); ok {
			r.Reset()
		}
	}
}

// State exposes the run-scoped record for post-hoc inspection.
func (l *Loop) State() *State {
	return &l.state
}

// runOptions carries per-run overrides.
type runOptions struct {
	warmStart bool
	seed      types.Candidate
	consumed  int
}

// RunOption configures a single Run call.
type RunOption func(*runOptions)

// WithWarmStart seeds the run with a cached candidate instead of a cold
// solver call. The consumed count is subtracted from the interaction budget;
// the loop does not otherwise care where candidate #0 came from.
func WithWarmStart(cand types.Candidate, consumed int) RunOption {
	return func(o *runOptions) {
		o.warmStart = true
		o.seed = cand
		o.consumed = consumed
	}
}

// Run executes the refinement loop for one task.
//
// The state machine: the solver produces candidate #0, the critic judges it,
// and while the judgment is invalid and budget remains the refiner produces
// the next candidate for re-judging. Terminal states:
//
//   - valid: the critic accepted a candidate
//   - budget_exhausted: the interaction budget ran out (last candidate returned)
//   - stable: refinement returned an identical candidate, or the judgment
//     went unchanged past the configured patience
//   - cancelled: context cancellation or budget-gate denial at a state
//     boundary (never mid-call)
//
// A solver failure is fatal for the run and surfaced as an error; the loop
// does not retry it. All other stops return a Result and a nil error.
func (l *Loop) Run(ctx context.Context, task types.Task, opts ...RunOption) (*Result, error) {
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	l.Reset()
	l.task = task
	start := time.Now()
	runID := uuid.NewString()
	l.runID = runID

	if l.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()
	}

	budget := l.config.MaxInteractions
	if ro.warmStart {
		budget -= ro.consumed
		if budget < 1 {
			budget = 1
		}
	}

	// INIT -> SOLVED
	var current types.Candidate
	if ro.warmStart {
		current = ro.seed
		current.Iteration = 0
		current.Source = types.SourceWarmStart
	} else {
		if res := l.boundaryCheck(ctx, runID, current, start); res != nil {
			return res, nil
		}
		cand, err := l.solver.Solve(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("solve failed for task %s: %w", task.ID, err)
		}
		current = cand
		current.Iteration = 0
		current.Source = types.SourceSolver
	}

	var prevFeedback string
	stalls := 0

	for {
		// SOLVED/REFINING -> CRITIQUED
		if res := l.boundaryCheck(ctx, runID, current, start); res != nil {
			return res, nil
		}

		if l.collector != nil {
			l.collector.RecordIterationStart(runID, l.state.Iteration)
		}
		iterStart := time.Now()

		judgment, err := l.critic.Critique(ctx, task, current)
		if err != nil {
			return nil, fmt.Errorf("critique failed at iteration %d for task %s: %w",
				l.state.Iteration, task.ID, err)
		}

		answerChanged := true
		if len(l.state.History) > 0 {
			answerChanged = !current.ContentEquals(l.state.History[len(l.state.History)-1].Candidate)
		}

		l.state.Current = current
		l.state.Judgment = judgment
		l.state.History = append(l.state.History, Step{Candidate: current, Judgment: judgment})
		l.state.Iteration++

		if l.collector != nil {
			l.collector.RecordIterationEnd(runID, l.state.Iteration, &IterationMetrics{
				Iteration:     l.state.Iteration,
				Duration:      time.Since(iterStart),
				AnswerChanged: answerChanged,
				Valid:         judgment.Valid,
				UsedTool:      judgment.UsedTool,
			})
		}

		// CRITIQUED -> TERMINAL_VALID
		if judgment.Valid {
			return l.finish(current, types.OutcomeValid, "critique accepted candidate", start), nil
		}

		// CRITIQUED -> TERMINAL_BUDGET_EXHAUSTED
		if l.state.Iteration >= budget {
			return l.finish(current, types.OutcomeBudgetExhausted,
				fmt.Sprintf("interaction budget of %d exhausted", budget), start), nil
		}

		// Patience: unchanged feedback across consecutive critiques means the
		// critic has stopped saying anything new.
		if l.config.Patience > 0 && l.state.Iteration > 1 {
			if judgment.Feedback == prevFeedback {
				stalls++
			} else {
				stalls = 0
			}
			if stalls >= l.config.Patience {
				return l.finish(current, types.OutcomeStable,
					fmt.Sprintf("judgment unchanged for %d iterations", stalls), start), nil
			}
		}
		prevFeedback = judgment.Feedback

		// CRITIQUED -> REFINING
		if res := l.boundaryCheck(ctx, runID, current, start); res != nil {
			return res, nil
		}
		refined, err := l.refiner.Refine(ctx, task, current, judgment.Feedback)
		if err != nil {
			return nil, fmt.Errorf("refine failed at iteration %d for task %s: %w",
				l.state.Iteration, task.ID, err)
		}
		refined.Iteration = l.state.Iteration
		refined.Source = types.SourceRefine

		// TERMINAL_STABLE: refining an unchanged candidate cannot converge,
		// so stop before spending more budget on it.
		if refined.ContentEquals(current) {
			return l.finish(refined, types.OutcomeStable,
				"refinement produced no change", start), nil
		}

		current = refined
	}
}

// boundaryCheck enforces cancellation and budget ceilings between state
// transitions. It returns a cancelled Result when the run must stop, nil
// otherwise.
func (l *Loop) boundaryCheck(ctx context.Context, runID string, current types.Candidate, start time.Time) *Result {
	if err := ctx.Err(); err != nil {
		return l.finish(current, types.OutcomeCancelled,
			fmt.Sprintf("run cancelled after %d iterations: %v", l.state.Iteration, err), start)
	}
	if l.gate != nil {
		if ok, reason := l.gate.CanProceed(runID); !ok {
			return l.finish(current, types.OutcomeCancelled,
				fmt.Sprintf("budget ceiling reached after %d iterations: %s", l.state.Iteration, reason), start)
		}
	}
	return nil
}

// finish marks the state terminated and assembles the result.
func (l *Loop) finish(final types.Candidate, outcome types.Outcome, reason string, start time.Time) *Result {
	l.state.Terminated = true
	result := &Result{
		Outcome:    outcome,
		Final:      final,
		Iterations: l.state.Iteration,
		History:    l.state.History,
		Elapsed:    time.Since(start),
		Reason:     reason,
	}
	if l.collector != nil {
		l.collector.RecordRunComplete(l.runID, result, &RunMetrics{
			TaskID:     l.task.ID,
			Kind:       l.task.Kind,
			Outcome:    outcome,
			Iterations: result.Iterations,
			Duration:   result.Elapsed,
		})
	}
	return result
}
