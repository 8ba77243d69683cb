package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/refinelab/refinery/internal/types"
)

// fakeCompleter returns scripted responses in order and records requests.
type fakeCompleter struct {
	responses []string
	err       error
	calls     []CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("no scripted response for call %d (%s)", len(f.calls), req.Operation)
	}
	text := f.responses[0]
	f.responses = f.responses[1:]
	return &Completion{Text: text, InputTokens: 10, OutputTokens: 20}, nil
}

// fakeSearcher records queries and returns canned snippets.
type fakeSearcher struct {
	snippets []types.Snippet
	err      error
	queries  []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]types.Snippet, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.snippets, nil
}

func qaTask() types.Task {
	return types.Task{ID: "t1", Kind: types.KindQA, Question: "Who was the best kickboxer?"}
}

func TestSolver_Solve(t *testing.T) {
	fc := &fakeCompleter{responses: []string{"  Badr Hari  \n"}}
	s := NewSolver(fc, "")

	cand, err := s.Solve(context.Background(), qaTask())
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if cand.Content != "Badr Hari" {
		t.Errorf("expected trimmed content, got %q", cand.Content)
	}
	if len(fc.calls) != 1 || fc.calls[0].Operation != "solve" {
		t.Errorf("expected one solve call, got %+v", fc.calls)
	}
	if !strings.Contains(fc.calls[0].Prompt, "Who was the best kickboxer?") {
		t.Error("expected question in the solve prompt")
	}
}

func TestSolver_EmptyOutput(t *testing.T) {
	fc := &fakeCompleter{responses: []string{"   \n  "}}
	s := NewSolver(fc, "")

	if _, err := s.Solve(context.Background(), qaTask()); err == nil {
		t.Fatal("expected error on empty solver output")
	}
}

func TestRefiner_Refine(t *testing.T) {
	fc := &fakeCompleter{responses: []string{"Badr Hari, the Dutch-Moroccan kickboxer"}}
	r := NewRefiner(fc, "")

	prev := types.Candidate{Content: "Badr Hari"}
	cand, err := r.Refine(context.Background(), qaTask(), prev, "name his nationality")
	if err != nil {
		t.Fatalf("Refine failed: %v", err)
	}
	if cand.Content != "Badr Hari, the Dutch-Moroccan kickboxer" {
		t.Errorf("unexpected refined content: %q", cand.Content)
	}
	if !strings.Contains(fc.calls[0].Prompt, "name his nationality") {
		t.Error("expected feedback in the refine prompt")
	}
	if !strings.Contains(fc.calls[0].Prompt, "Badr Hari") {
		t.Error("expected prior answer in the refine prompt")
	}
}

func TestRefiner_EmptyOutputKeepsPrior(t *testing.T) {
	fc := &fakeCompleter{responses: []string{""}}
	r := NewRefiner(fc, "")

	prev := types.Candidate{Content: "unchanged"}
	cand, err := r.Refine(context.Background(), qaTask(), prev, "fb")
	if err != nil {
		t.Fatalf("Refine failed: %v", err)
	}
	if cand.Content != "unchanged" {
		t.Errorf("expected prior content on empty revision, got %q", cand.Content)
	}
}

func TestCritic_ValidVerdictStillVerified(t *testing.T) {
	fc := &fakeCompleter{responses: []string{
		`{"valid": true, "feedback": "checks out", "search_query": ""}`,
		`{"valid": false, "feedback": "the evidence contradicts the claim", "search_query": ""}`,
	}}
	fs := &fakeSearcher{snippets: []types.Snippet{
		{Query: "Who was the best kickboxer?", Text: "Semmy Schilt won four K-1 World Grand Prix titles..."},
	}}
	c := NewCritic(fc, fs, "", true)

	j, err := c.Critique(context.Background(), qaTask(), types.Candidate{Content: "Badr Hari"})
	if err != nil {
		t.Fatalf("Critique failed: %v", err)
	}
	// A confident first-pass acceptance is not trusted on its own: the
	// retrieval still runs and the evidence-informed verdict wins
	if len(fs.queries) != 1 {
		t.Fatalf("expected exactly one search, got %v", fs.queries)
	}
	if fs.queries[0] != "Who was the best kickboxer?" {
		t.Errorf("expected the question as the fallback query, got %q", fs.queries[0])
	}
	if j.Valid {
		t.Error("expected the evidence-informed rejection to win")
	}
	if !j.UsedTool {
		t.Error("expected tool use recorded")
	}
	if len(fc.calls) != 2 {
		t.Errorf("expected 2 judge calls, got %d", len(fc.calls))
	}
}

func TestCritic_SearchThenSecondPass(t *testing.T) {
	fc := &fakeCompleter{responses: []string{
		`{"valid": false, "feedback": "unverified claim", "search_query": "best kickboxer controversies"}`,
		`{"valid": false, "feedback": "the evidence names a different fighter", "search_query": ""}`,
	}}
	fs := &fakeSearcher{snippets: []types.Snippet{
		{Query: "best kickboxer controversies", Text: "Badr Hari was once considered the best..."},
	}}
	c := NewCritic(fc, fs, "", true)

	j, err := c.Critique(context.Background(), qaTask(), types.Candidate{Content: "Rico Verhoeven"})
	if err != nil {
		t.Fatalf("Critique failed: %v", err)
	}
	if j.Valid {
		t.Error("expected invalid judgment")
	}
	if !j.UsedTool {
		t.Error("expected tool use recorded")
	}
	if j.Feedback != "the evidence names a different fighter" {
		t.Errorf("expected second-pass feedback to win, got %q", j.Feedback)
	}
	if len(j.Evidence) != 1 {
		t.Fatalf("expected 1 evidence snippet, got %d", len(j.Evidence))
	}
	if len(fc.calls) != 2 {
		t.Errorf("expected 2 judge calls, got %d", len(fc.calls))
	}
	// Evidence must be inlined in the second prompt
	if !strings.Contains(fc.calls[1].Prompt, "Badr Hari was once considered") {
		t.Error("expected evidence in the second critique prompt")
	}
}

func TestCritic_SearchFailureDegrades(t *testing.T) {
	fc := &fakeCompleter{responses: []string{
		`{"valid": false, "feedback": "needs verification", "search_query": "some query"}`,
	}}
	fs := &fakeSearcher{err: errors.New("network down")}
	c := NewCritic(fc, fs, "", true)

	j, err := c.Critique(context.Background(), qaTask(), types.Candidate{Content: "x"})
	if err != nil {
		t.Fatalf("search failure must not fail the critique: %v", err)
	}
	if !j.Degraded {
		t.Error("expected degraded judgment")
	}
	if j.UsedTool {
		t.Error("expected no tool use recorded on search failure")
	}
	if j.Feedback != "needs verification" {
		t.Errorf("expected first-pass feedback preserved, got %q", j.Feedback)
	}
}

func TestCritic_NoSearcherDegrades(t *testing.T) {
	fc := &fakeCompleter{responses: []string{
		`{"valid": false, "feedback": "needs verification", "search_query": "some query"}`,
	}}
	c := NewCritic(fc, nil, "", true)

	j, err := c.Critique(context.Background(), qaTask(), types.Candidate{Content: "x"})
	if err != nil {
		t.Fatalf("Critique failed: %v", err)
	}
	if !j.Degraded {
		t.Error("expected degraded judgment when no searcher is wired")
	}
}

func TestCritic_ToolDisabledSkipsSearch(t *testing.T) {
	fc := &fakeCompleter{responses: []string{
		`{"valid": false, "feedback": "needs verification", "search_query": "some query"}`,
	}}
	fs := &fakeSearcher{}
	c := NewCritic(fc, fs, "", false)

	j, err := c.Critique(context.Background(), qaTask(), types.Candidate{Content: "x"})
	if err != nil {
		t.Fatalf("Critique failed: %v", err)
	}
	if len(fs.queries) != 0 {
		t.Errorf("expected no searches with tool use disabled, got %v", fs.queries)
	}
	if j.Degraded || j.UsedTool {
		t.Errorf("expected plain judgment, got %+v", j)
	}
}

func TestCritic_RepeatedQueryNotRefetched(t *testing.T) {
	fc := &fakeCompleter{responses: []string{
		`{"valid": false, "feedback": "check it", "search_query": "same query"}`,
		`{"valid": false, "feedback": "still wrong", "search_query": ""}`,
		`{"valid": false, "feedback": "check it again", "search_query": "same query"}`,
	}}
	fs := &fakeSearcher{snippets: []types.Snippet{{Query: "same query", Text: "snippet"}}}
	c := NewCritic(fc, fs, "", true)

	task := qaTask()
	if _, err := c.Critique(context.Background(), task, types.Candidate{Content: "a"}); err != nil {
		t.Fatalf("first critique failed: %v", err)
	}
	j, err := c.Critique(context.Background(), task, types.Candidate{Content: "b"})
	if err != nil {
		t.Fatalf("second critique failed: %v", err)
	}

	if len(fs.queries) != 1 {
		t.Errorf("expected the repeated query to be fetched once, got %v", fs.queries)
	}
	if got := c.QueryHistory(); len(got) != 1 || got[0] != "same query" {
		t.Errorf("unexpected query history: %v", got)
	}
	// The second judgment was informed by the evidence inlined from the
	// first fetch, and reports as much
	if !j.UsedTool {
		t.Error("expected tool use recorded on an evidence-informed judgment")
	}
	if len(j.Evidence) != 1 {
		t.Errorf("expected carried evidence, got %d snippets", len(j.Evidence))
	}
}

func TestCritic_ResetClearsHistory(t *testing.T) {
	fc := &fakeCompleter{responses: []string{
		`{"valid": false, "feedback": "check it", "search_query": "q1"}`,
		`{"valid": true, "feedback": "verified", "search_query": ""}`,
		`{"valid": false, "feedback": "check it", "search_query": "q1"}`,
		`{"valid": true, "feedback": "verified", "search_query": ""}`,
	}}
	fs := &fakeSearcher{snippets: []types.Snippet{{Query: "q1", Text: "snippet"}}}
	c := NewCritic(fc, fs, "", true)

	if _, err := c.Critique(context.Background(), qaTask(), types.Candidate{Content: "a"}); err != nil {
		t.Fatalf("critique failed: %v", err)
	}

	c.Reset()

	if len(c.QueryHistory()) != 0 {
		t.Error("expected empty query history after reset")
	}
	// The same query is live again after reset
	if _, err := c.Critique(context.Background(), qaTask(), types.Candidate{Content: "a"}); err != nil {
		t.Fatalf("critique after reset failed: %v", err)
	}
	if len(fs.queries) != 2 {
		t.Errorf("expected refetch after reset, got %v", fs.queries)
	}
}

func TestCritic_UnparsableVerdict(t *testing.T) {
	fc := &fakeCompleter{responses: []string{"I think it looks fine overall."}}
	c := NewCritic(fc, nil, "", false)

	if _, err := c.Critique(context.Background(), qaTask(), types.Candidate{Content: "x"}); err == nil {
		t.Fatal("expected error on unparsable verdict")
	}
}

func TestCritic_RejectionWithoutFeedback(t *testing.T) {
	fc := &fakeCompleter{responses: []string{`{"valid": false, "feedback": "", "search_query": ""}`}}
	c := NewCritic(fc, nil, "", false)

	if _, err := c.Critique(context.Background(), qaTask(), types.Candidate{Content: "x"}); err == nil {
		t.Fatal("expected error on rejection without feedback")
	}
}
