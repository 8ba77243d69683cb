package repl

import (
	"context"
	"strings"
	"testing"

	"github.com/refinelab/refinery/internal/agent"
	"github.com/refinelab/refinery/internal/types"
)

type noopCompleter struct{}

func (noopCompleter) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.Completion, error) {
	return &agent.Completion{Text: "{}"}, nil
}

func newTestREPL(t *testing.T) *REPL {
	t.Helper()
	r, err := New(&Config{Completer: noopCompleter{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r
}

func TestNew_RequiresCompleter(t *testing.T) {
	if _, err := New(&Config{}); err == nil {
		t.Error("expected error without a completer")
	}
}

func TestCommandKind(t *testing.T) {
	r := newTestREPL(t)

	if err := r.cmdKind([]string{"math"}); err != nil {
		t.Fatalf("cmdKind failed: %v", err)
	}
	if r.kind != types.KindMath {
		t.Errorf("expected kind math, got %s", r.kind)
	}

	if err := r.cmdKind([]string{"bogus"}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if err := r.cmdKind(nil); err == nil {
		t.Error("expected usage error without argument")
	}
}

func TestCommandBudget(t *testing.T) {
	r := newTestREPL(t)

	if err := r.cmdBudget([]string{"7"}); err != nil {
		t.Fatalf("cmdBudget failed: %v", err)
	}
	if r.budget != 7 {
		t.Errorf("expected budget 7, got %d", r.budget)
	}

	for _, bad := range []string{"0", "-1", "abc"} {
		if err := r.cmdBudget([]string{bad}); err == nil {
			t.Errorf("expected error for budget %q", bad)
		}
	}
}

func TestCommandPatience(t *testing.T) {
	r := newTestREPL(t)

	if err := r.cmdPatience([]string{"0"}); err != nil {
		t.Fatalf("cmdPatience rejected zero: %v", err)
	}
	if err := r.cmdPatience([]string{"-1"}); err == nil {
		t.Error("expected error for negative patience")
	}
}

func TestCommandTool(t *testing.T) {
	r := newTestREPL(t)

	// No searcher configured, so the tool cannot be enabled
	if err := r.cmdTool([]string{"on"}); err == nil {
		t.Error("expected error enabling tool without a searcher")
	}
	if err := r.cmdTool([]string{"off"}); err != nil {
		t.Fatalf("cmdTool off failed: %v", err)
	}
	if r.useTool {
		t.Error("expected tool off")
	}
	if err := r.cmdTool([]string{"maybe"}); err == nil {
		t.Error("expected usage error for bad argument")
	}
}

func TestCommandDispatch(t *testing.T) {
	r := newTestREPL(t)
	r.ctx = context.Background()

	// Registered commands dispatch to their handlers
	if err := r.processInput("budget 5"); err != nil {
		t.Fatalf("processInput failed: %v", err)
	}
	if r.budget != 5 {
		t.Errorf("expected budget 5, got %d", r.budget)
	}

	// Unregistered input runs a refinement; the noop completer returns an
	// unparsable verdict, which surfaces as an error rather than a panic
	err := r.processInput("what is two plus two?")
	if err == nil {
		t.Fatal("expected refinement error from noop completer")
	}
	if !strings.Contains(err.Error(), "critique") {
		t.Errorf("unexpected error: %v", err)
	}
}
