package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/refinelab/refinery/internal/agent"
	"github.com/refinelab/refinery/internal/cost"
	"github.com/refinelab/refinery/internal/evidence"
	"github.com/refinelab/refinery/internal/repl"
)

var replModel string

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start the interactive refinement shell",
	Long: `Start an interactive shell for refining answers one question at a time.

Type a question at the prompt to run it through the refinement loop.
Session settings (task kind, budget, evidence retrieval) are adjustable
with shell commands; type 'help' for the list.`,
	Run: func(cmd *cobra.Command, args []string) {
		tracker, err := cost.NewTracker(cost.LoadFromEnv())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to initialize cost tracker: %v\n", err)
			os.Exit(1)
		}

		client, err := agent.NewClient(&agent.Config{
			Model:    replModel,
			Recorder: tracker,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		r, err := repl.New(&repl.Config{
			Completer: client,
			Searcher:  evidence.NewSearcher(evidence.Config{}),
			Tracker:   tracker,
			Model:     replModel,
			EvalModel: agent.GetEvalModel(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create shell: %v\n", err)
			os.Exit(1)
		}

		if err := r.Run(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	replCmd.Flags().StringVar(&replModel, "model", "", "Generation model (default from REFINERY_MODEL)")
	rootCmd.AddCommand(replCmd)
}
