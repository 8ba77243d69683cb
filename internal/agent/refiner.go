package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/refinelab/refinery/internal/types"
)

// Refiner produces a revised candidate from the prior one plus critique
// feedback.
type Refiner struct {
	completer Completer
	model     string
}

// NewRefiner creates a refiner. An empty model uses the client default.
func NewRefiner(completer Completer, model string) *Refiner {
	return &Refiner{completer: completer, model: model}
}

// Refine generates the next candidate.
func (r *Refiner) Refine(ctx context.Context, task types.Task, cand types.Candidate, feedback string) (types.Candidate, error) {
	comp, err := r.completer.Complete(ctx, CompletionRequest{
		Prompt:    buildRefinePrompt(task, cand.Content, feedback),
		Operation: "refine",
		Model:     r.model,
	})
	if err != nil {
		return types.Candidate{}, fmt.Errorf("refine completion for task %s: %w", task.ID, err)
	}

	content := strings.TrimSpace(comp.Text)
	if content == "" {
		// An empty revision is treated as no change rather than an error
		content = cand.Content
	}

	return types.Candidate{
		Content: content,
		Trace:   comp.Text,
	}, nil
}
