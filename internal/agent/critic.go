package agent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/refinelab/refinery/internal/types"
)

// Searcher retrieves external evidence snippets for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]types.Snippet, error)
}

// verdict is the critic's structured reply.
type verdict struct {
	Valid       bool   `json:"valid"`
	Feedback    string `json:"feedback"`
	SearchQuery string `json:"search_query"`
}

// Critic judges candidates, optionally grounding the judgment in retrieved
// evidence. It keeps per-run query and evidence history so repeated
// iterations don't re-fetch or re-cite the same material; Reset clears that
// history between tasks.
//
// A Critic is not safe for concurrent use. Sweeps create one per cell.
type Critic struct {
	completer Completer
	searcher  Searcher
	model     string
	useTool   bool

	queryHistory     []string
	queriesSeen      map[string]bool
	evidenceSeen     map[string]bool
	gatheredEvidence []types.Snippet
}

// NewCritic creates a critic. A nil searcher or useTool=false disables
// evidence retrieval entirely; search failures at runtime degrade a single
// critique rather than failing it.
func NewCritic(completer Completer, searcher Searcher, model string, useTool bool) *Critic {
	return &Critic{
		completer:    completer,
		searcher:     searcher,
		model:        model,
		useTool:      useTool,
		queriesSeen:  make(map[string]bool),
		evidenceSeen: make(map[string]bool),
	}
}

// Reset clears the query and evidence history accumulated during a run.
func (c *Critic) Reset() {
	c.queryHistory = nil
	c.queriesSeen = make(map[string]bool)
	c.evidenceSeen = make(map[string]bool)
	c.gatheredEvidence = nil
}

// Critique judges one candidate. With tool use enabled, every critique
// verifies the verdict against retrieved evidence: the first pass's search
// query (or the question itself, when the model supplies none) drives a
// retrieval, and a second judging pass runs with the evidence inlined. The
// second pass's verdict wins, so a confidently wrong "valid" still gets
// checked against the evidence.
func (c *Critic) Critique(ctx context.Context, task types.Task, cand types.Candidate) (types.Judgment, error) {
	v, err := c.judge(ctx, task, cand.Content, c.gatheredEvidence)
	if err != nil {
		return types.Judgment{}, err
	}

	judgment := types.Judgment{
		Valid:    v.Valid,
		Feedback: v.Feedback,
		Evidence: c.gatheredEvidence,
		UsedTool: len(c.gatheredEvidence) > 0,
	}

	if !c.useTool {
		return judgment, nil
	}

	if c.searcher == nil {
		// Tool use configured but no searcher wired: judge on reasoning alone
		judgment.Degraded = true
		return judgment, nil
	}

	query := strings.TrimSpace(v.SearchQuery)
	if query == "" {
		query = strings.TrimSpace(task.Question)
	}

	// A repeated query brings nothing new: the first pass already saw all
	// gathered evidence, so its judgment stands
	if c.queriesSeen[query] {
		return judgment, nil
	}
	c.queriesSeen[query] = true
	c.queryHistory = append(c.queryHistory, query)

	snippets, searchErr := c.searcher.Search(ctx, query)
	if searchErr != nil {
		fmt.Fprintf(os.Stderr, "evidence search failed for task %s, critiquing without it: %v\n",
			task.ID, searchErr)
		judgment.Degraded = true
		return judgment, nil
	}
	for _, s := range snippets {
		if c.evidenceSeen[s.Text] {
			continue
		}
		c.evidenceSeen[s.Text] = true
		c.gatheredEvidence = append(c.gatheredEvidence, s)
	}

	// Second pass with evidence inlined
	v, err = c.judge(ctx, task, cand.Content, c.gatheredEvidence)
	if err != nil {
		return types.Judgment{}, err
	}

	return types.Judgment{
		Valid:    v.Valid,
		Feedback: v.Feedback,
		Evidence: c.gatheredEvidence,
		UsedTool: true,
	}, nil
}

// judge runs one critique completion and parses the structured verdict.
func (c *Critic) judge(ctx context.Context, task types.Task, answer string, evidence []types.Snippet) (verdict, error) {
	comp, err := c.completer.Complete(ctx, CompletionRequest{
		Prompt:    buildCritiquePrompt(task, answer, evidence),
		Operation: "critique",
		Model:     c.model,
		MaxTokens: 1024,
	})
	if err != nil {
		return verdict{}, fmt.Errorf("critique completion for task %s: %w", task.ID, err)
	}

	result := Parse[verdict](comp.Text, "critique verdict")
	if !result.Success {
		return verdict{}, fmt.Errorf("critique verdict unparsable for task %s: %s", task.ID, result.Error)
	}
	if result.Data.Feedback == "" && !result.Data.Valid {
		return verdict{}, fmt.Errorf("critique rejected candidate without feedback for task %s", task.ID)
	}
	return result.Data, nil
}

// QueryHistory returns the queries issued so far this run, in order.
func (c *Critic) QueryHistory() []string {
	return c.queryHistory
}
