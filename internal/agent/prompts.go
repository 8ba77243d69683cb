package agent

import (
	"fmt"
	"strings"

	"github.com/refinelab/refinery/internal/types"
)

// promptSet holds the instruction templates for one task kind. Solving,
// critiquing, and refining each get their own register: math tasks want
// executable-style reasoning, code tasks want a function body, QA tasks want
// a short factual answer.
type promptSet struct {
	solve    string
	critique string
	refine   string
}

var promptSets = map[types.TaskKind]promptSet{
	types.KindQA: {
		solve: `Answer the question below. Think step by step, then give your final answer as a short, direct statement.

%s
Question: %s

Answer:`,
		critique: `You are reviewing a proposed answer to a question. Judge whether the answer is plausible and truthful.

%s
Question: %s

Proposed answer: %s
%s
Respond with JSON only:
{"valid": true or false, "feedback": "what is wrong or missing, or why the answer holds", "search_query": "a query to verify the answer, or empty if no verification is needed"}`,
		refine: `Your previous answer to a question was reviewed and found lacking. Produce an improved answer.

%s
Question: %s

Previous answer: %s

Review feedback: %s

Give only the improved answer, as a short, direct statement.`,
	},
	types.KindMath: {
		solve: `Solve the math problem below. Reason step by step, then state the final numeric answer on its own last line.

%s
Problem: %s

Solution:`,
		critique: `You are reviewing a proposed solution to a math problem. Check each step of the reasoning and the final number.

%s
Problem: %s

Proposed solution: %s
%s
Respond with JSON only:
{"valid": true or false, "feedback": "which step is wrong and why, or why the solution is correct", "search_query": "a query to verify a fact used in the solution, or empty"}`,
		refine: `Your previous solution to a math problem contained an error. Produce a corrected solution.

%s
Problem: %s

Previous solution: %s

Review feedback: %s

Reason step by step and state the corrected final numeric answer on its own last line.`,
	},
	types.KindCode: {
		solve: `Write a solution to the programming task below. Output only the code, no commentary.

%s
Task: %s

Code:`,
		critique: `You are reviewing a proposed solution to a programming task. Check it for correctness, missed edge cases, and misread requirements.

%s
Task: %s

Proposed code: %s
%s
Respond with JSON only:
{"valid": true or false, "feedback": "the concrete defect and the input that triggers it, or why the code is correct", "search_query": "a query to check an API or algorithm detail, or empty"}`,
		refine: `Your previous solution to a programming task has a defect. Produce a fixed version.

%s
Task: %s

Previous code: %s

Review feedback: %s

Output only the corrected code, no commentary.`,
	},
}

// contextBlock formats optional task context for inclusion in a prompt.
func contextBlock(task types.Task) string {
	if task.Context == "" {
		return ""
	}
	return "Context:\n" + task.Context + "\n"
}

// evidenceBlock formats retrieved snippets for the critique prompt.
func evidenceBlock(snippets []types.Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nEvidence retrieved for verification:\n")
	for _, s := range snippets {
		fmt.Fprintf(&b, "- [%s] %s\n", s.Query, s.Text)
	}
	return b.String()
}

// buildSolvePrompt renders the initial generation prompt for a task.
func buildSolvePrompt(task types.Task) string {
	set := promptSets[task.Kind]
	return fmt.Sprintf(set.solve, contextBlock(task), task.Question)
}

// buildCritiquePrompt renders the judging prompt, with any evidence gathered
// so far inlined.
func buildCritiquePrompt(task types.Task, answer string, snippets []types.Snippet) string {
	set := promptSets[task.Kind]
	return fmt.Sprintf(set.critique, contextBlock(task), task.Question, answer, evidenceBlock(snippets))
}

// buildRefinePrompt renders the revision prompt from the prior answer and
// the critic's feedback.
func buildRefinePrompt(task types.Task, answer, feedback string) string {
	set := promptSets[task.Kind]
	return fmt.Sprintf(set.refine, contextBlock(task), task.Question, answer, feedback)
}
