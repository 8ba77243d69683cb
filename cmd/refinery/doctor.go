package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/refinelab/refinery/internal/agent"
	"github.com/refinelab/refinery/internal/results"
)

var doctorDBPath string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check installation and environment health",
	Long: `Run health checks to diagnose common configuration and environment issues.

This command checks for:
- API key configuration
- Model API client state
- Results database accessibility
- Evidence search endpoint reachability

Exit codes:
  0 - All checks passed
  1 - One or more checks failed`,
	Run: func(cmd *cobra.Command, args []string) {
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running health checks...\n\n")

		var failures []string
		var warnings []string

		// Check 1: API key
		fmt.Printf("%s API key\n", cyan("→"))
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			failures = append(failures, "ANTHROPIC_API_KEY is not set")
			fmt.Printf("  %s ANTHROPIC_API_KEY is not set\n", red("✗"))
		} else {
			fmt.Printf("  %s ANTHROPIC_API_KEY is set\n", green("✓"))

			// Check 2: client construction and circuit state
			fmt.Printf("%s Model API client\n", cyan("→"))
			client, err := agent.NewClient(&agent.Config{})
			if err != nil {
				failures = append(failures, fmt.Sprintf("Client construction failed: %v", err))
				fmt.Printf("  %s Cannot construct client: %v\n", red("✗"), err)
			} else if err := client.HealthCheck(context.Background()); err != nil {
				failures = append(failures, fmt.Sprintf("Client health check failed: %v", err))
				fmt.Printf("  %s %v\n", red("✗"), err)
			} else {
				fmt.Printf("  %s Client ready (model %s)\n", green("✓"), agent.GetDefaultModel())
			}
		}

		// Check 3: results database
		fmt.Printf("%s Results database\n", cyan("→"))
		store, err := results.NewStore(doctorDBPath)
		if err != nil {
			failures = append(failures, fmt.Sprintf("Cannot open results database: %v", err))
			fmt.Printf("  %s Cannot open %s: %v\n", red("✗"), doctorDBPath, err)
		} else {
			store.Close()
			fmt.Printf("  %s Database writable: %s\n", green("✓"), doctorDBPath)
		}

		// Check 4: search endpoint (non-fatal; only tool-assisted critiques
		// need it)
		fmt.Printf("%s Evidence search endpoint\n", cyan("→"))
		if err := probeSearchEndpoint(); err != nil {
			warnings = append(warnings, fmt.Sprintf("Search endpoint unreachable: %v", err))
			fmt.Printf("  %s Unreachable (critiques will run without evidence): %v\n", yellow("⚠"), err)
		} else {
			fmt.Printf("  %s Reachable\n", green("✓"))
		}

		fmt.Println()
		if len(failures) > 0 {
			fmt.Printf("%s %d check(s) failed\n", red("✗"), len(failures))
			os.Exit(1)
		}
		if len(warnings) > 0 {
			fmt.Printf("%s All required checks passed (%d warning(s))\n", yellow("⚠"), len(warnings))
			return
		}
		fmt.Printf("%s All checks passed\n", green("✓"))
	},
}

func init() {
	doctorCmd.Flags().StringVar(&doctorDBPath, "db", "refinery.db", "Results database path")
	rootCmd.AddCommand(doctorCmd)
}

func probeSearchEndpoint() error {
	client := &http.Client{Timeout: 5 * time.Second}
	probe := "https://api.duckduckgo.com/?" + url.Values{"q": {"ping"}, "format": {"json"}}.Encode()
	req, err := http.NewRequest(http.MethodGet, probe, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
