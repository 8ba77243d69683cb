package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/refinelab/refinery/internal/cost"
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show the cost budget configuration",
	Long: `Display the cost budget configuration that runs and sweeps will use.

Budgets are session-scoped: each run or sweep tracks its own usage against
these limits. Configure with REFINERY_COST_* environment variables.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := cost.LoadFromEnv()

		if !cfg.Enabled {
			fmt.Println("Cost budgeting is disabled")
			fmt.Println("Set REFINERY_COST_ENABLED=true to enable cost tracking")
			return
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan("=== Cost Budget Configuration ==="))

		fmt.Printf("%s\n", yellow("Limits (per session):"))
		if cfg.MaxTotalTokens > 0 {
			fmt.Printf("  Tokens:  %s\n", formatTokens(cfg.MaxTotalTokens))
		} else {
			fmt.Printf("  Tokens:  unlimited\n")
		}
		if cfg.MaxCostUSD > 0 {
			fmt.Printf("  Cost:    $%.2f\n", cfg.MaxCostUSD)
		} else {
			fmt.Printf("  Cost:    unlimited\n")
		}
		fmt.Printf("  Alert:   %.0f%% of budget\n", cfg.AlertThreshold*100)
		fmt.Println()

		fmt.Printf("%s\n", yellow("Pricing (per 1M tokens):"))
		fmt.Printf("  Input:   $%.2f\n", cfg.InputTokenCost)
		fmt.Printf("  Output:  $%.2f\n", cfg.OutputTokenCost)
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(costCmd)
}

// formatTokens formats a token count with magnitude suffixes for readability
func formatTokens(tokens int64) string {
	if tokens < 1000 {
		return fmt.Sprintf("%d", tokens)
	} else if tokens < 1_000_000 {
		return fmt.Sprintf("%.1fK", float64(tokens)/1000)
	}
	return fmt.Sprintf("%.2fM", float64(tokens)/1_000_000)
}
