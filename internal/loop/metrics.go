package loop

import (
	"sort"
	"sync"
	"time"

	"github.com/refinelab/refinery/internal/types"
)

// MetricsCollector provides instrumentation for refinement runs. It is
// optional: a nil collector disables collection entirely. The runID ties
// iteration records to their run when concurrent runs share one collector.
type MetricsCollector interface {
	// RecordIterationStart is called at the beginning of each critique cycle
	RecordIterationStart(runID string, iteration int)

	// RecordIterationEnd is called when a critique cycle completes
	RecordIterationEnd(runID string, iteration int, m *IterationMetrics)

	// RecordRunComplete is called once per run, at any terminal state
	RecordRunComplete(runID string, result *Result, m *RunMetrics)
}

// IterationMetrics captures one solve-or-refine cycle.
type IterationMetrics struct {
	// Iteration is the 1-based cycle count after this cycle completed
	Iteration int

	// Duration is the time spent critiquing this candidate
	Duration time.Duration

	// AnswerChanged reports whether the candidate differed from the previous one
	AnswerChanged bool

	// Valid is the judgment's verdict for this cycle
	Valid bool

	// UsedTool reports whether evidence retrieval ran during the critique
	UsedTool bool
}

// RunMetrics captures an entire refinement run.
type RunMetrics struct {
	TaskID     string
	Kind       types.TaskKind
	Outcome    types.Outcome
	Iterations int
	Duration   time.Duration

	// Iterations per cycle, attached by the collector
	Cycles []*IterationMetrics
}

// AggregateMetrics provides rolled-up statistics across runs.
type AggregateMetrics struct {
	TotalRuns int

	// ByOutcome counts runs per terminal state
	ByOutcome map[types.Outcome]int

	// ByKind counts runs per task kind
	ByKind map[types.TaskKind]int

	TotalIterations int
	MeanIterations  float64

	// P50Iterations is the median iterations for converged runs
	P50Iterations int

	// P95Iterations is the 95th percentile for converged runs
	P95Iterations int

	TotalDuration time.Duration
}

// ConvergenceRate is the fraction of runs that ended with a valid judgment.
func (a *AggregateMetrics) ConvergenceRate() float64 {
	if a.TotalRuns == 0 {
		return 0
	}
	return float64(a.ByOutcome[types.OutcomeValid]) / float64(a.TotalRuns)
}

// InMemoryMetricsCollector stores all metrics in memory for analysis and
// testing. Safe for use by concurrent runs sharing one collector: in-flight
// cycles are keyed by run ID until the run completes.
type InMemoryMetricsCollector struct {
	mu sync.Mutex

	runs     []*RunMetrics
	inFlight map[string][]*IterationMetrics
}

// NewInMemoryMetricsCollector creates a new in-memory metrics collector
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		inFlight: make(map[string][]*IterationMetrics),
	}
}

// RecordIterationStart implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordIterationStart(runID string, iteration int) {
	// Nothing to do - metrics are recorded at iteration end
	_, _ = runID, iteration
}

// RecordIterationEnd implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordIterationEnd(runID string, iteration int, metrics *IterationMetrics) {
	if metrics == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[runID] = append(m.inFlight[runID], metrics)
}

// RecordRunComplete implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordRunComplete(runID string, result *Result, metrics *RunMetrics) {
	if metrics == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics.Cycles = m.inFlight[runID]
	delete(m.inFlight, runID)
	m.runs = append(m.runs, metrics)
}

// GetRuns returns all collected run metrics (useful for analysis)
func (m *InMemoryMetricsCollector) GetRuns() []*RunMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RunMetrics, len(m.runs))
	copy(out, m.runs)
	return out
}

// GetAggregateMetrics returns rolled-up statistics across all runs.
func (m *InMemoryMetricsCollector) GetAggregateMetrics() *AggregateMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := &AggregateMetrics{
		ByOutcome: make(map[types.Outcome]int),
		ByKind:    make(map[types.TaskKind]int),
	}

	var convergedIterations []int
	for _, run := range m.runs {
		agg.TotalRuns++
		agg.TotalIterations += run.Iterations
		agg.TotalDuration += run.Duration
		agg.ByOutcome[run.Outcome]++
		if run.Kind != "" {
			agg.ByKind[run.Kind]++
		}
		if run.Outcome == types.OutcomeValid {
			convergedIterations = append(convergedIterations, run.Iterations)
		}
	}

	if agg.TotalRuns > 0 {
		agg.MeanIterations = float64(agg.TotalIterations) / float64(agg.TotalRuns)
	}
	if len(convergedIterations) > 0 {
		sort.Ints(convergedIterations)
		agg.P50Iterations = percentile(convergedIterations, 50)
		agg.P95Iterations = percentile(convergedIterations, 95)
	}

	return agg
}

// percentile calculates the Nth percentile from a sorted slice
func percentile(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}
	index := (len(sorted) * p) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
