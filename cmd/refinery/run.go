package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/refinelab/refinery/internal/agent"
	"github.com/refinelab/refinery/internal/cost"
	"github.com/refinelab/refinery/internal/evidence"
	"github.com/refinelab/refinery/internal/loop"
	"github.com/refinelab/refinery/internal/types"
)

var (
	runKind      string
	runContext   string
	runKey       string
	runBudget    int
	runPatience  int
	runTimeout   time.Duration
	runUseTool   bool
	runModel     string
	runEvalModel string
	runVerbose   bool
)

var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Refine an answer to a single question",
	Long: `Run the refinement loop on a single question.

The solver drafts an answer, the critic judges it, and the refiner revises
until the critic accepts or the interaction budget is exhausted. Pass
--tool to let the critic gather web evidence before rejecting an answer.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		question := strings.Join(args, " ")

		task := types.Task{
			ID:       "cli",
			Kind:     types.TaskKind(runKind),
			Question: question,
			Context:  runContext,
			Key:      runKey,
		}
		if err := task.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		tracker, err := cost.NewTracker(cost.LoadFromEnv())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to initialize cost tracker: %v\n", err)
			os.Exit(1)
		}

		client, err := agent.NewClient(&agent.Config{
			Model:    runModel,
			Recorder: tracker,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		var searcher agent.Searcher
		if runUseTool {
			searcher = evidence.NewSearcher(evidence.Config{})
		}

		evalModel := runEvalModel
		if evalModel == "" {
			evalModel = agent.GetEvalModel()
		}

		solver := agent.NewSolver(client, runModel)
		critic := agent.NewCritic(client, searcher, evalModel, runUseTool)
		refiner := agent.NewRefiner(client, runModel)

		l, err := loop.New(solver, critic, refiner, loop.Config{
			MaxInteractions: runBudget,
			Patience:        runPatience,
			Timeout:         runTimeout,
		}, loop.WithGate(tracker))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		res, err := l.Run(context.Background(), task)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printRunResult(res, tracker)
		if runVerbose {
			printHistory(res)
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&runKind, "kind", "qa", "Task kind: qa, math, or code")
	runCmd.Flags().StringVar(&runContext, "context", "", "Supporting context for the question")
	runCmd.Flags().StringVar(&runKey, "key", "", "Reference answer, shown next to the final answer")
	runCmd.Flags().IntVar(&runBudget, "budget", 3, "Interaction budget (initial solve included)")
	runCmd.Flags().IntVar(&runPatience, "patience", 0, "Stop after this many unchanged judgments (0 = disabled)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Overall run timeout (0 = none)")
	runCmd.Flags().BoolVar(&runUseTool, "tool", false, "Let the critic gather web evidence")
	runCmd.Flags().StringVar(&runModel, "model", "", "Generation model (default from REFINERY_MODEL)")
	runCmd.Flags().StringVar(&runEvalModel, "eval-model", "", "Critique model (default from REFINERY_MODEL_EVAL)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show every iteration, not just the final answer")
	rootCmd.AddCommand(runCmd)
}

func printRunResult(res *loop.Result, tracker *cost.Tracker) {
	fmt.Println()
	fmt.Printf("%s %s\n", outcomeIcon(res.Outcome), outcomeColor(res.Outcome).Sprint(res.Outcome))
	fmt.Printf("  %s\n", res.Reason)
	fmt.Println()

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("%s\n", cyan("Final answer:"))
	fmt.Println(indent(res.Final.Content, "  "))
	fmt.Println()

	stats := tracker.GetStats()
	fmt.Printf("Iterations: %d   Elapsed: %s   Tokens: %d in / %d out   Cost: $%.4f\n",
		res.Iterations,
		res.Elapsed.Round(time.Millisecond),
		stats.TotalInputTokens,
		stats.TotalOutputTokens,
		stats.TotalCostUSD)
}

func printHistory(res *loop.Result) {
	yellow := color.New(color.FgYellow).SprintFunc()
	for _, step := range res.History {
		fmt.Println()
		fmt.Printf("%s iteration %d (%s)\n", yellow("---"), step.Candidate.Iteration, step.Candidate.Source)
		fmt.Println(indent(step.Candidate.Content, "  "))
		verdict := "rejected"
		if step.Judgment.Valid {
			verdict = "accepted"
		}
		fmt.Printf("  critic: %s", verdict)
		if step.Judgment.UsedTool {
			fmt.Printf(" (with evidence)")
		}
		if step.Judgment.Degraded {
			fmt.Printf(" (evidence unavailable)")
		}
		fmt.Println()
		if step.Judgment.Feedback != "" {
			fmt.Printf("  feedback: %s\n", step.Judgment.Feedback)
		}
	}
}

func outcomeColor(o types.Outcome) *color.Color {
	switch o {
	case types.OutcomeValid:
		return color.New(color.FgGreen, color.Bold)
	case types.OutcomeBudgetExhausted, types.OutcomeStable:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func outcomeIcon(o types.Outcome) string {
	switch o {
	case types.OutcomeValid:
		return "✓"
	case types.OutcomeBudgetExhausted, types.OutcomeStable:
		return "⚠️"
	default:
		return "✗"
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
