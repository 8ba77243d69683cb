package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/joho/godotenv/autoload"
)

var rootCmd = &cobra.Command{
	Use:   "refinery",
	Short: "Iterative answer refinement with a solver, critic, and refiner",
	Long: `Refinery runs language model answers through an iterative refinement
loop: a solver drafts an answer, a critic judges it (optionally gathering
web evidence), and a refiner revises it until the critic accepts or the
interaction budget runs out.

Single runs, parameter sweeps over budgets and warm-start ratios, and an
interactive shell are all available as subcommands.

Set ANTHROPIC_API_KEY (or put it in a .env file) before running.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
