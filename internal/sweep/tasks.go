package sweep

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/refinelab/refinery/internal/types"
)

// LoadTasks reads tasks from a JSONL file, one task object per line. Blank
// lines are skipped. Every task is validated and IDs must be unique, since
// the run key uses the task ID for attribution.
func LoadTasks(path string) ([]types.Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tasks file: %w", err)
	}
	defer f.Close()

	var tasks []types.Task
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	// Allow long lines: code tasks carry whole unit-test suites in Context
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var task types.Task
		if err := json.Unmarshal(line, &task); err != nil {
			return nil, fmt.Errorf("invalid task at %s:%d: %w", path, lineNo, err)
		}
		if err := task.Validate(); err != nil {
			return nil, fmt.Errorf("invalid task at %s:%d: %w", path, lineNo, err)
		}
		if seen[task.ID] {
			return nil, fmt.Errorf("duplicate task ID %q at %s:%d", task.ID, path, lineNo)
		}
		seen[task.ID] = true
		tasks = append(tasks, task)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks in %s", path)
	}
	return tasks, nil
}
