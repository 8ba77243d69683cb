package sweep

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/refinelab/refinery/internal/agent"
	"github.com/refinelab/refinery/internal/loop"
	"github.com/refinelab/refinery/internal/types"
)

// ResultSink receives results as cells finish, in completion order.
type ResultSink interface {
	Write(types.RunResult)
}

// ResultStore archives results for later querying.
type ResultStore interface {
	InsertResult(ctx context.Context, r types.RunResult) error
}

// Deps are the collaborators a sweep threads through every cell. Completer
// and Searcher are shared (they are safe for concurrent use); the loop and
// its capabilities are constructed fresh per cell because they hold run
// state.
type Deps struct {
	Completer agent.Completer
	Searcher  agent.Searcher
	Gate      loop.BudgetGate
	Collector loop.MetricsCollector
	Sink      ResultSink
	Store     ResultStore
}

// cell is one point of the sweep grid.
type cell struct {
	task   types.Task
	budget int
	ratio  float64
}

// Runner executes a sweep grid.
type Runner struct {
	cfg   *Config
	tasks []types.Task
	deps  Deps

	warmMu sync.RWMutex
	warm   map[string]types.Candidate
}

// NewRunner creates a sweep runner over the given tasks.
func NewRunner(cfg *Config, tasks []types.Task, deps Deps) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sweep config: %w", err)
	}
	if deps.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("at least one task is required")
	}
	return &Runner{
		cfg:   cfg,
		tasks: tasks,
		deps:  deps,
		warm:  make(map[string]types.Candidate),
	}, nil
}

// Run executes every cell of the grid and returns the results in grid order
// (task, then budget, then ratio), independent of completion order. Cell
// failures are isolated: a failed cell yields an errored result and its
// siblings run to completion. Run itself errors only on setup problems.
func (r *Runner) Run(ctx context.Context) ([]types.RunResult, error) {
	cells := r.grid()

	if err := r.buildWarmCache(ctx, cells); err != nil {
		return nil, err
	}

	results := make([]types.RunResult, len(cells))

	g := &errgroup.Group{}
	g.SetLimit(r.cfg.Concurrency)
	for i, c := range cells {
		g.Go(func() error {
			res := r.runCell(ctx, c)
			results[i] = res
			if r.deps.Sink != nil {
				r.deps.Sink.Write(res)
			}
			if r.deps.Store != nil {
				if err := r.deps.Store.InsertResult(ctx, res); err != nil {
					fmt.Fprintf(os.Stderr, "failed to store result for %s: %v\n", res.Key, err)
				}
			}
			return nil
		})
	}
	// Cells never return errors; Wait is a join
	_ = g.Wait()

	return results, nil
}

// grid expands the Cartesian product of tasks, budgets, and ratios.
func (r *Runner) grid() []cell {
	var cells []cell
	for _, task := range r.tasks {
		for _, budget := range r.cfg.Budgets {
			for _, ratio := range r.cfg.Ratios {
				cells = append(cells, cell{task: task, budget: budget, ratio: ratio})
			}
		}
	}
	return cells
}

// buildWarmCache cold-solves each task that at least one warm cell needs, so
// warm-started cells skip their solver call and share one candidate #0 per
// task. A failed warm solve is logged and the affected cells fall back to
// cold runs.
func (r *Runner) buildWarmCache(ctx context.Context, cells []cell) error {
	needed := make(map[string]types.Task)
	for _, c := range cells {
		if SeedIterations(c.ratio, c.budget) > 0 {
			needed[c.task.ID] = c.task
		}
	}
	if len(needed) == 0 {
		return nil
	}

	solver := agent.NewSolver(r.deps.Completer, r.cfg.Model)

	g := &errgroup.Group{}
	g.SetLimit(r.cfg.Concurrency)
	for _, task := range needed {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cand, err := solver.Solve(ctx, task)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warm solve failed for task %s, cells run cold: %v\n",
					task.ID, err)
				return nil
			}
			r.warmMu.Lock()
			r.warm[task.ID] = cand
			r.warmMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("warm cache build cancelled: %w", err)
	}
	return nil
}

// runCell executes one grid cell with a fresh loop and capabilities.
func (r *Runner) runCell(ctx context.Context, c cell) types.RunResult {
	key := types.RunKey{TaskID: c.task.ID, Budget: c.budget, Ratio: c.ratio, Seed: r.cfg.Seed}
	started := time.Now()

	meter := &meteredCompleter{inner: r.deps.Completer}
	solver := agent.NewSolver(meter, r.cfg.Model)
	critic := agent.NewCritic(meter, r.deps.Searcher, r.cfg.EvalModel, r.cfg.UseTool)
	refiner := agent.NewRefiner(meter, r.cfg.Model)

	var opts []loop.Option
	if r.deps.Gate != nil {
		opts = append(opts, loop.WithGate(r.deps.Gate))
	}
	if r.deps.Collector != nil {
		opts = append(opts, loop.WithCollector(r.deps.Collector))
	}

	l, err := loop.New(solver, critic, refiner, loop.Config{
		MaxInteractions: c.budget,
		Patience:        r.cfg.Patience,
		Timeout:         r.cfg.RunTimeout,
	}, opts...)
	if err != nil {
		return r.erroredResult(key, c.task.Kind, started, meter, err)
	}

	var runOpts []loop.RunOption
	if k := SeedIterations(c.ratio, c.budget); k > 0 {
		r.warmMu.RLock()
		seed, ok := r.warm[c.task.ID]
		r.warmMu.RUnlock()
		if ok {
			runOpts = append(runOpts, loop.WithWarmStart(seed, k))
		}
	}

	res, err := l.Run(ctx, c.task, runOpts...)
	if err != nil {
		return r.erroredResult(key, c.task.Kind, started, meter, err)
	}

	in, out := meter.totals()
	result := types.RunResult{
		Key:        key,
		Kind:       c.task.Kind,
		Outcome:    res.Outcome,
		Final:      res.Final,
		Iterations: res.Iterations,
		TokensIn:   in,
		TokensOut:  out,
		CostUSD:    r.costUSD(in, out),
		Elapsed:    res.Elapsed,
		StartedAt:  started,
	}
	if res.Outcome == types.OutcomeCancelled {
		result.Err = res.Reason
	}
	return result
}

func (r *Runner) erroredResult(key types.RunKey, kind types.TaskKind, started time.Time, meter *meteredCompleter, err error) types.RunResult {
	in, out := meter.totals()
	return types.RunResult{
		Key:       key,
		Kind:      kind,
		Outcome:   types.OutcomeErrored,
		TokensIn:  in,
		TokensOut: out,
		CostUSD:   r.costUSD(in, out),
		Elapsed:   time.Since(started),
		Err:       err.Error(),
		StartedAt: started,
	}
}

func (r *Runner) costUSD(in, out int64) float64 {
	return float64(in)/1e6*r.cfg.InputTokenCost + float64(out)/1e6*r.cfg.OutputTokenCost
}

// meteredCompleter counts tokens flowing through a shared completer so each
// cell's result carries its own accounting.
type meteredCompleter struct {
	inner agent.Completer

	mu  sync.Mutex
	in  int64
	out int64
}

func (m *meteredCompleter) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.Completion, error) {
	comp, err := m.inner.Complete(ctx, req)
	if comp != nil {
		m.mu.Lock()
		m.in += comp.InputTokens
		m.out += comp.OutputTokens
		m.mu.Unlock()
	}
	return comp, err
}

func (m *meteredCompleter) totals() (int64, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.in, m.out
}
