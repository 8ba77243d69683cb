// Package sweep runs refinement grids: every task crossed with every
// interaction budget and warm-start ratio, executed concurrently with
// per-cell failure isolation.
package sweep

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes one sweep. Loaded from YAML; zero values take defaults.
type Config struct {
	// Budgets are the interaction budgets to cross. Each must be >= 1.
	Budgets []int `yaml:"budgets"`

	// Ratios are the warm-start ratios to cross, each in [0,1]. Ratio 0 is
	// a cold run; higher ratios pre-consume part of the budget from the
	// warm-start cache.
	Ratios []float64 `yaml:"ratios"`

	// Seed labels the sweep for result attribution.
	Seed int64 `yaml:"seed"`

	// Patience forces a stable stop after this many consecutive unchanged
	// judgments. 0 disables the check.
	Patience int `yaml:"patience"`

	// UseTool enables evidence retrieval during critiques.
	UseTool bool `yaml:"use_tool"`

	// Concurrency caps how many cells run at once. Default 4.
	Concurrency int `yaml:"concurrency"`

	// RunTimeout bounds each cell's run. 0 means no timeout.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// MaxTotalTokens caps token usage across the whole sweep. 0 falls back
	// to the environment-configured cost budget.
	MaxTotalTokens int64 `yaml:"max_total_tokens"`

	// Model and EvalModel override the client defaults for generation and
	// critique respectively.
	Model     string `yaml:"model"`
	EvalModel string `yaml:"eval_model"`

	// TasksFile is the JSONL file of tasks to sweep over.
	TasksFile string `yaml:"tasks_file"`

	// Output is the JSONL results file. Empty disables the file sink.
	Output string `yaml:"output"`

	// DB is the SQLite results database. Empty disables the store.
	DB string `yaml:"db"`

	// InputTokenCost and OutputTokenCost are USD per 1M tokens, used for
	// per-run cost attribution.
	InputTokenCost  float64 `yaml:"input_token_cost"`
	OutputTokenCost float64 `yaml:"output_token_cost"`
}

// DefaultConfig returns a sweep config with usable defaults.
func DefaultConfig() *Config {
	return &Config{
		Budgets:         []int{3},
		Ratios:          []float64{0},
		Seed:            42,
		Concurrency:     4,
		InputTokenCost:  3.00,
		OutputTokenCost: 15.00,
	}
}

// Load reads and validates a sweep config from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sweep config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse sweep config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sweep config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills fields an explicit YAML document may have zeroed.
func (c *Config) applyDefaults() {
	if len(c.Budgets) == 0 {
		c.Budgets = []int{3}
	}
	if len(c.Ratios) == 0 {
		c.Ratios = []float64{0}
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.InputTokenCost == 0 {
		c.InputTokenCost = 3.00
	}
	if c.OutputTokenCost == 0 {
		c.OutputTokenCost = 15.00
	}
}

// Validate checks the config for usable values.
func (c *Config) Validate() error {
	for _, b := range c.Budgets {
		if b < 1 {
			return fmt.Errorf("budgets must be >= 1 (got %d)", b)
		}
	}
	for _, r := range c.Ratios {
		if r < 0 || r > 1 {
			return fmt.Errorf("ratios must be in [0,1] (got %g)", r)
		}
	}
	if c.Patience < 0 {
		return fmt.Errorf("patience cannot be negative: %d", c.Patience)
	}
	if c.TasksFile == "" {
		return fmt.Errorf("tasks_file is required")
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("run_timeout cannot be negative: %v", c.RunTimeout)
	}
	if c.MaxTotalTokens < 0 {
		return fmt.Errorf("max_total_tokens cannot be negative: %d", c.MaxTotalTokens)
	}
	return nil
}

// SeedIterations converts a warm-start ratio and budget into the number of
// interactions treated as already consumed: floor(ratio * (budget-1)). The
// subtraction keeps at least one live critique in every cell; budget 1 is
// always a cold run.
func SeedIterations(ratio float64, budget int) int {
	return int(ratio * float64(budget-1))
}
