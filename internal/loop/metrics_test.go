package loop

import (
	"testing"
	"time"

	"github.com/refinelab/refinery/internal/types"
)

func recordRun(c *InMemoryMetricsCollector, taskID string, kind types.TaskKind, outcome types.Outcome, iterations int) {
	runID := "run-" + taskID
	for i := 1; i <= iterations; i++ {
		c.RecordIterationStart(runID, i-1)
		c.RecordIterationEnd(runID, i, &IterationMetrics{
			Iteration:     i,
			Duration:      10 * time.Millisecond,
			AnswerChanged: i > 1,
			Valid:         outcome == types.OutcomeValid && i == iterations,
		})
	}
	c.RecordRunComplete(runID, &Result{Outcome: outcome, Iterations: iterations}, &RunMetrics{
		TaskID:     taskID,
		Kind:       kind,
		Outcome:    outcome,
		Iterations: iterations,
		Duration:   time.Duration(iterations) * 10 * time.Millisecond,
	})
}

func TestInMemoryCollector_CyclesAttachToRun(t *testing.T) {
	c := NewInMemoryMetricsCollector()

	recordRun(c, "t1", types.KindQA, types.OutcomeValid, 3)
	recordRun(c, "t2", types.KindMath, types.OutcomeBudgetExhausted, 5)

	runs := c.GetRuns()
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if len(runs[0].Cycles) != 3 {
		t.Errorf("expected 3 cycles on first run, got %d", len(runs[0].Cycles))
	}
	if len(runs[1].Cycles) != 5 {
		t.Errorf("expected 5 cycles on second run, got %d", len(runs[1].Cycles))
	}
	// Cycles must not bleed between runs
	if runs[1].Cycles[0].Iteration != 1 {
		t.Errorf("expected second run's cycles to start at 1, got %d", runs[1].Cycles[0].Iteration)
	}
}

func TestInMemoryCollector_Aggregates(t *testing.T) {
	c := NewInMemoryMetricsCollector()

	recordRun(c, "t1", types.KindQA, types.OutcomeValid, 2)
	recordRun(c, "t2", types.KindQA, types.OutcomeValid, 4)
	recordRun(c, "t3", types.KindMath, types.OutcomeBudgetExhausted, 6)
	recordRun(c, "t4", types.KindCode, types.OutcomeStable, 3)

	agg := c.GetAggregateMetrics()

	if agg.TotalRuns != 4 {
		t.Errorf("expected 4 runs, got %d", agg.TotalRuns)
	}
	if agg.TotalIterations != 15 {
		t.Errorf("expected 15 total iterations, got %d", agg.TotalIterations)
	}
	if agg.MeanIterations != 3.75 {
		t.Errorf("expected mean 3.75, got %f", agg.MeanIterations)
	}
	if agg.ByOutcome[types.OutcomeValid] != 2 {
		t.Errorf("expected 2 valid runs, got %d", agg.ByOutcome[types.OutcomeValid])
	}
	if agg.ByKind[types.KindQA] != 2 {
		t.Errorf("expected 2 qa runs, got %d", agg.ByKind[types.KindQA])
	}
	if rate := agg.ConvergenceRate(); rate != 0.5 {
		t.Errorf("expected convergence rate 0.5, got %f", rate)
	}
	// Percentiles cover converged runs only
	if agg.P50Iterations != 4 {
		t.Errorf("expected p50 of 4, got %d", agg.P50Iterations)
	}
}

func TestInMemoryCollector_Empty(t *testing.T) {
	c := NewInMemoryMetricsCollector()

	agg := c.GetAggregateMetrics()
	if agg.TotalRuns != 0 || agg.MeanIterations != 0 {
		t.Errorf("expected zero aggregates, got %+v", agg)
	}
	if rate := agg.ConvergenceRate(); rate != 0 {
		t.Errorf("expected zero convergence rate, got %f", rate)
	}
}
