package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/refinelab/refinery/internal/types"
)

// Solver produces the initial candidate answer for a task.
type Solver struct {
	completer Completer
	model     string
}

// NewSolver creates a solver. An empty model uses the client default.
func NewSolver(completer Completer, model string) *Solver {
	return &Solver{completer: completer, model: model}
}

// Solve generates candidate #0 for the task.
func (s *Solver) Solve(ctx context.Context, task types.Task) (types.Candidate, error) {
	comp, err := s.completer.Complete(ctx, CompletionRequest{
		Prompt:    buildSolvePrompt(task),
		Operation: "solve",
		Model:     s.model,
	})
	if err != nil {
		return types.Candidate{}, fmt.Errorf("solve completion for task %s: %w", task.ID, err)
	}

	content := strings.TrimSpace(comp.Text)
	if content == "" {
		return types.Candidate{}, fmt.Errorf("solve returned empty output for task %s", task.ID)
	}

	return types.Candidate{
		Content: content,
		Trace:   comp.Text,
	}, nil
}
