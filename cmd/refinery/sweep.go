package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/refinelab/refinery/internal/agent"
	"github.com/refinelab/refinery/internal/cost"
	"github.com/refinelab/refinery/internal/evidence"
	"github.com/refinelab/refinery/internal/loop"
	"github.com/refinelab/refinery/internal/results"
	"github.com/refinelab/refinery/internal/sweep"
	"github.com/refinelab/refinery/internal/types"
)

var sweepConfigPath string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a refinement grid over tasks, budgets, and warm-start ratios",
	Long: `Run every task in the tasks file through the refinement loop once per
combination of interaction budget and warm-start ratio, concurrently.

Results stream to the configured JSONL file and SQLite database as cells
finish. A failed cell is recorded as errored and its siblings continue.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := sweep.Load(sweepConfigPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		tasks, err := sweep.LoadTasks(cfg.TasksFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		costCfg := cost.LoadFromEnv()
		costCfg.InputTokenCost = cfg.InputTokenCost
		costCfg.OutputTokenCost = cfg.OutputTokenCost
		if cfg.MaxTotalTokens > 0 {
			costCfg.MaxTotalTokens = cfg.MaxTotalTokens
		}
		tracker, err := cost.NewTracker(costCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to initialize cost tracker: %v\n", err)
			os.Exit(1)
		}

		client, err := agent.NewClient(&agent.Config{
			Model:    cfg.Model,
			Recorder: tracker,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		deps := sweep.Deps{
			Completer: client,
			Gate:      tracker,
			Collector: loop.NewInMemoryMetricsCollector(),
		}
		if cfg.UseTool {
			deps.Searcher = evidence.NewSearcher(evidence.Config{})
		}
		if cfg.Output != "" {
			sink, err := results.NewJSONLSink(cfg.Output)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer func() {
				if err := sink.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: results file: %v\n", err)
				}
			}()
			deps.Sink = sink
		}
		if cfg.DB != "" {
			store, err := results.NewStore(cfg.DB)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer store.Close()
			deps.Store = store
		}

		runner, err := sweep.NewRunner(cfg, tasks, deps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cells := len(tasks) * len(cfg.Budgets) * len(cfg.Ratios)
		fmt.Printf("Sweeping %d tasks x %d budgets x %d ratios = %d cells (concurrency %d)\n",
			len(tasks), len(cfg.Budgets), len(cfg.Ratios), cells, cfg.Concurrency)

		started := time.Now()
		res, err := runner.Run(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printSweepSummary(res, tracker, time.Since(started))
	},
}

func init() {
	sweepCmd.Flags().StringVarP(&sweepConfigPath, "config", "c", "sweep.yaml", "Sweep configuration file")
	rootCmd.AddCommand(sweepCmd)
}

func printSweepSummary(res []types.RunResult, tracker *cost.Tracker, elapsed time.Duration) {
	byOutcome := make(map[types.Outcome]int)
	var iterations int
	for _, r := range res {
		byOutcome[r.Outcome]++
		iterations += r.Iterations
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("=== Sweep Summary ==="))

	outcomes := make([]types.Outcome, 0, len(byOutcome))
	for o := range byOutcome {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })
	for _, o := range outcomes {
		fmt.Printf("  %-18s %d\n", outcomeColor(o).Sprint(o), byOutcome[o])
	}

	stats := tracker.GetStats()
	fmt.Println()
	fmt.Printf("Cells: %d   Iterations: %d   Elapsed: %s\n",
		len(res), iterations, elapsed.Round(time.Second))
	fmt.Printf("Tokens: %d in / %d out   Cost: $%.4f\n",
		stats.TotalInputTokens, stats.TotalOutputTokens, stats.TotalCostUSD)
	if stats.Status != cost.BudgetHealthy {
		fmt.Printf("Budget: %s\n", stats.Status)
	}
}
