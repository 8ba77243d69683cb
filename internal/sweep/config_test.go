package sweep

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `
budgets: [1, 3, 5]
ratios: [0.0, 0.5, 1.0]
seed: 7
patience: 2
use_tool: true
concurrency: 8
run_timeout: 2m
max_total_tokens: 500000
model: test-model
tasks_file: tasks.jsonl
output: out.jsonl
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Budgets) != 3 || cfg.Budgets[2] != 5 {
		t.Errorf("unexpected budgets: %v", cfg.Budgets)
	}
	if len(cfg.Ratios) != 3 || cfg.Ratios[1] != 0.5 {
		t.Errorf("unexpected ratios: %v", cfg.Ratios)
	}
	if cfg.Seed != 7 {
		t.Errorf("expected seed 7, got %d", cfg.Seed)
	}
	if !cfg.UseTool {
		t.Error("expected use_tool true")
	}
	if cfg.RunTimeout != 2*time.Minute {
		t.Errorf("expected 2m timeout, got %v", cfg.RunTimeout)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Concurrency)
	}
	if cfg.MaxTotalTokens != 500000 {
		t.Errorf("expected token ceiling 500000, got %d", cfg.MaxTotalTokens)
	}
	// Pricing defaults survive a config that doesn't mention them
	if cfg.InputTokenCost != 3.00 || cfg.OutputTokenCost != 15.00 {
		t.Errorf("expected default pricing, got %g/%g", cfg.InputTokenCost, cfg.OutputTokenCost)
	}
}

func TestLoad_MinimalDefaults(t *testing.T) {
	path := writeTempConfig(t, `tasks_file: tasks.jsonl`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Budgets) != 1 || cfg.Budgets[0] != 3 {
		t.Errorf("expected default budgets [3], got %v", cfg.Budgets)
	}
	if len(cfg.Ratios) != 1 || cfg.Ratios[0] != 0 {
		t.Errorf("expected default ratios [0], got %v", cfg.Ratios)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", cfg.Concurrency)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero budget", "tasks_file: t.jsonl\nbudgets: [0]"},
		{"negative ratio", "tasks_file: t.jsonl\nratios: [-0.1]"},
		{"ratio above one", "tasks_file: t.jsonl\nratios: [1.5]"},
		{"negative patience", "tasks_file: t.jsonl\npatience: -1"},
		{"missing tasks file", "budgets: [3]"},
		{"not yaml", "{{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSeedIterations(t *testing.T) {
	tests := []struct {
		ratio    float64
		budget   int
		expected int
	}{
		{0, 1, 0},
		{0, 10, 0},
		{0.5, 5, 2},  // floor(0.5 * 4)
		{1.0, 5, 4},  // whole budget minus the live critique
		{1.0, 1, 0},  // budget 1 is always cold
		{0.4, 2, 0},  // floor(0.4 * 1)
		{0.9, 10, 8}, // floor(0.9 * 9)
	}

	for _, tt := range tests {
		if got := SeedIterations(tt.ratio, tt.budget); got != tt.expected {
			t.Errorf("SeedIterations(%g, %d) = %d, want %d", tt.ratio, tt.budget, got, tt.expected)
		}
	}
}
