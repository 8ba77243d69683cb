package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/refinelab/refinery/internal/results"
)

var (
	resultsDBPath string
	resultsList   bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Summarize archived sweep results",
	Long: `Summarize the results stored in the sweep database: run counts per
outcome, mean iterations, and total cost. Pass --list to print every
archived run.`,
	Run: func(cmd *cobra.Command, args []string) {
		store, err := results.NewStore(resultsDBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		ctx := context.Background()

		summary, err := store.Summarize(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan("=== Archived Runs ==="))

		if summary.TotalRuns == 0 {
			fmt.Println("No runs archived yet")
			return
		}

		for outcome, count := range summary.ByOutcome {
			fmt.Printf("  %-18s %d\n", outcomeColor(outcome).Sprint(outcome), count)
		}
		fmt.Println()
		fmt.Printf("Runs: %d   Mean iterations: %.2f   Total cost: $%.4f\n",
			summary.TotalRuns, summary.MeanIterations, summary.TotalCostUSD)

		if !resultsList {
			return
		}

		runs, err := store.List(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Println()
		for _, r := range runs {
			fmt.Printf("%s %-40s iter=%d  tokens=%d/%d  $%.4f  %s\n",
				outcomeColor(r.Outcome).Sprintf("%-17s", r.Outcome),
				r.Key,
				r.Iterations,
				r.TokensIn, r.TokensOut,
				r.CostUSD,
				r.Elapsed.Round(time.Millisecond))
			if r.Err != "" {
				fmt.Printf("  %s %s\n", color.New(color.FgRed).Sprint("error:"), r.Err)
			}
		}
	},
}

func init() {
	resultsCmd.Flags().StringVar(&resultsDBPath, "db", "refinery.db", "Results database path")
	resultsCmd.Flags().BoolVar(&resultsList, "list", false, "Print every archived run")
	rootCmd.AddCommand(resultsCmd)
}
