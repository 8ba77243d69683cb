// Package repl provides an interactive shell for running refinement loops
// one question at a time, with adjustable budget, task kind, and evidence
// settings between runs.
package repl

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/refinelab/refinery/internal/agent"
	"github.com/refinelab/refinery/internal/cost"
	"github.com/refinelab/refinery/internal/loop"
	"github.com/refinelab/refinery/internal/types"
)

// REPL represents the interactive shell
type REPL struct {
	completer agent.Completer
	searcher  agent.Searcher
	tracker   *cost.Tracker
	rl        *readline.Instance
	ctx       context.Context
	commands  map[string]CommandHandler

	// Session settings, adjustable with commands
	kind      types.TaskKind
	budget    int
	patience  int
	useTool   bool
	model     string
	evalModel string

	runCount int
}

// CommandHandler handles a specific command
type CommandHandler func(args []string) error

// Config holds REPL configuration
type Config struct {
	Completer agent.Completer
	Searcher  agent.Searcher
	Tracker   *cost.Tracker
	Model     string
	EvalModel string
}

// New creates a new REPL instance
func New(cfg *Config) (*REPL, error) {
	if cfg.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}

	r := &REPL{
		completer: cfg.Completer,
		searcher:  cfg.Searcher,
		tracker:   cfg.Tracker,
		kind:      types.KindQA,
		budget:    3,
		useTool:   cfg.Searcher != nil,
		model:     cfg.Model,
		evalModel: cfg.EvalModel,
		commands:  make(map[string]CommandHandler),
	}

	// Register built-in commands
	r.registerCommands()

	return r, nil
}

// Run starts the REPL loop
func (r *REPL) Run(ctx context.Context) error {
	r.ctx = ctx

	// Create readline instance
	cyan := color.New(color.FgCyan).SprintFunc()
	prompt := cyan("refinery> ")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       "",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	r.rl = rl

	// Print welcome message
	r.printWelcome()

	// Main loop
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				// Ctrl+C - just show prompt again
				continue
			} else if err == io.EOF {
				// Ctrl+D - exit
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := r.processInput(line); err != nil {
			if err == io.EOF {
				// Exit command - graceful shutdown
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s %v\n", red("Error:"), err)
		}
	}
}

// processInput processes a single line of input. Registered commands run as
// commands; anything else is treated as a question and refined.
func (r *REPL) processInput(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	if handler, ok := r.commands[parts[0]]; ok {
		return handler(parts[1:])
	}

	return r.refine(line)
}

// refine runs one refinement loop on the given question with the current
// session settings.
func (r *REPL) refine(question string) error {
	r.runCount++
	task := types.Task{
		ID:       fmt.Sprintf("repl-%d", r.runCount),
		Kind:     r.kind,
		Question: question,
	}

	solver := agent.NewSolver(r.completer, r.model)
	critic := agent.NewCritic(r.completer, r.searcher, r.evalModel, r.useTool)
	refiner := agent.NewRefiner(r.completer, r.model)

	var opts []loop.Option
	if r.tracker != nil {
		opts = append(opts, loop.WithGate(r.tracker))
	}

	l, err := loop.New(solver, critic, refiner, loop.Config{
		MaxInteractions: r.budget,
		Patience:        r.patience,
	}, opts...)
	if err != nil {
		return err
	}

	res, err := l.Run(r.ctx, task)
	if err != nil {
		return err
	}

	outcome := color.New(color.FgYellow)
	if res.Outcome == types.OutcomeValid {
		outcome = color.New(color.FgGreen)
	} else if res.Outcome == types.OutcomeErrored || res.Outcome == types.OutcomeCancelled {
		outcome = color.New(color.FgRed)
	}

	fmt.Println()
	fmt.Println(res.Final.Content)
	fmt.Println()
	fmt.Printf("[%s after %d iterations in %s]\n",
		outcome.Sprint(res.Outcome), res.Iterations, res.Elapsed.Round(time.Millisecond))
	return nil
}

// registerCommands registers all built-in commands
func (r *REPL) registerCommands() {
	r.commands["help"] = r.cmdHelp
	r.commands["?"] = r.cmdHelp
	r.commands["exit"] = r.cmdExit
	r.commands["quit"] = r.cmdExit
	r.commands["kind"] = r.cmdKind
	r.commands["budget"] = r.cmdBudget
	r.commands["patience"] = r.cmdPatience
	r.commands["tool"] = r.cmdTool
	r.commands["stats"] = r.cmdStats
	r.commands["settings"] = r.cmdSettings
}

// printWelcome prints the welcome message
func (r *REPL) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n", cyan("Refinery interactive shell"))
	fmt.Println("Type a question to refine an answer, 'help' for commands, 'exit' to quit")
	fmt.Println()
}

// cmdHelp shows help information
func (r *REPL) cmdHelp(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("Available Commands:"))

	commands := []struct {
		name string
		desc string
	}{
		{"help, ?", "Show this help message"},
		{"exit, quit", "Exit the shell"},
		{"kind <qa|math|code>", "Set the task kind for new questions"},
		{"budget <n>", "Set the interaction budget"},
		{"patience <n>", "Stop after n unchanged judgments (0 disables)"},
		{"tool <on|off>", "Toggle evidence retrieval during critiques"},
		{"settings", "Show current session settings"},
		{"stats", "Show token and cost usage"},
	}
	for _, cmd := range commands {
		fmt.Printf("  %s  %s\n", green(fmt.Sprintf("%-22s", cmd.name)), cmd.desc)
	}

	fmt.Println()
	fmt.Println("Anything else is treated as a question:")
	fmt.Println("  'What is the boiling point of methanol?'")
	fmt.Println()
	return nil
}

// cmdExit exits the REPL
func (r *REPL) cmdExit(args []string) error {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("\n%s Goodbye!\n", green("✓"))
	r.rl.Close()
	return io.EOF // Signal to exit the loop
}

func (r *REPL) cmdKind(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kind <qa|math|code>")
	}
	kind := types.TaskKind(args[0])
	if !kind.IsValid() {
		return fmt.Errorf("unknown task kind %q", args[0])
	}
	r.kind = kind
	fmt.Printf("Task kind set to %s\n", kind)
	return nil
}

func (r *REPL) cmdBudget(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: budget <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return fmt.Errorf("budget must be a positive integer")
	}
	r.budget = n
	fmt.Printf("Interaction budget set to %d\n", n)
	return nil
}

func (r *REPL) cmdPatience(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: patience <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return fmt.Errorf("patience must be a non-negative integer")
	}
	r.patience = n
	fmt.Printf("Patience set to %d\n", n)
	return nil
}

func (r *REPL) cmdTool(args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("usage: tool <on|off>")
	}
	if args[0] == "on" && r.searcher == nil {
		return fmt.Errorf("no searcher configured for this session")
	}
	r.useTool = args[0] == "on"
	fmt.Printf("Evidence retrieval %s\n", args[0])
	return nil
}

func (r *REPL) cmdSettings(args []string) error {
	tool := "off"
	if r.useTool {
		tool = "on"
	}
	fmt.Printf("kind=%s budget=%d patience=%d tool=%s\n", r.kind, r.budget, r.patience, tool)
	return nil
}

func (r *REPL) cmdStats(args []string) error {
	if r.tracker == nil {
		fmt.Println("Cost tracking is not enabled for this session")
		return nil
	}
	stats := r.tracker.GetStats()
	fmt.Printf("Tokens: %d in / %d out   Cost: $%.4f   Status: %s\n",
		stats.TotalInputTokens, stats.TotalOutputTokens, stats.TotalCostUSD, stats.Status)
	for op, tokens := range stats.OperationTokens {
		fmt.Printf("  %-10s %d tokens\n", op, tokens)
	}
	return nil
}
