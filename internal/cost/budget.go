// Package cost tracks token spend across refinement runs and enforces
// session-wide ceilings.
package cost

import (
	"fmt"
	"sync"
	"time"
)

// BudgetStatus represents the current budget state
type BudgetStatus int

const (
	// BudgetHealthy indicates normal operation - under budget limits
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning indicates approaching budget limits (>80% by default)
	BudgetWarning
	// BudgetExceeded indicates budget limits have been exceeded
	BudgetExceeded
)

// String returns a human-readable string representation of the budget status
func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Tracker accumulates token usage and enforces the configured ceilings.
// It satisfies both the usage-recorder hook of the API client and the
// budget-gate hook of the refinement loop, so one Tracker instance threads
// cost control through an entire sweep.
type Tracker struct {
	config *Config
	mu     sync.RWMutex

	totalInputTokens  int64
	totalOutputTokens int64
	totalCostUSD      float64

	// Per-operation breakdown (solve/critique/refine)
	operationTokens map[string]int64

	warningLogged bool
	lastUpdated   time.Time
}

// NewTracker creates a new cost budget tracker
func NewTracker(cfg *Config) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Tracker{
		config:          cfg,
		operationTokens: make(map[string]int64),
		lastUpdated:     time.Now(),
	}, nil
}

// RecordUsage records token usage for one API call, labeled by operation.
func (t *Tracker) RecordUsage(operation string, inputTokens, outputTokens int64) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalInputTokens += inputTokens
	t.totalOutputTokens += outputTokens
	t.totalCostUSD += t.calculateCost(inputTokens, outputTokens)
	if operation != "" {
		t.operationTokens[operation] += inputTokens + outputTokens
	}
	t.lastUpdated = time.Now()

	status := t.statusLocked()
	if status == BudgetWarning && !t.warningLogged {
		t.warningLogged = true
		fmt.Printf("Warning: token budget at %.0f%% (%d/%d tokens, $%.2f spent)\n",
			t.usageFractionLocked()*100, t.totalTokensLocked(), t.config.MaxTotalTokens, t.totalCostUSD)
	}
}

// CanProceed returns true if another API call fits within the budget.
// The runID labels the denial reason for attribution; the ceiling itself is
// session-wide.
func (t *Tracker) CanProceed(runID string) (bool, string) {
	if !t.config.Enabled {
		return true, ""
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.isTokenLimitExceeded() {
		return false, fmt.Sprintf("token budget exceeded (%d/%d tokens used, run %s)",
			t.totalTokensLocked(), t.config.MaxTotalTokens, runID)
	}
	if t.isCostLimitExceeded() {
		return false, fmt.Sprintf("cost budget exceeded ($%.2f/$%.2f used, run %s)",
			t.totalCostUSD, t.config.MaxCostUSD, runID)
	}
	return true, ""
}

// CheckBudget returns the current budget status without recording usage
func (t *Tracker) CheckBudget() BudgetStatus {
	if !t.config.Enabled {
		return BudgetHealthy
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.statusLocked()
}

// Stats contains budget statistics
type Stats struct {
	Status            BudgetStatus     `json:"status"`
	TotalInputTokens  int64            `json:"total_input_tokens"`
	TotalOutputTokens int64            `json:"total_output_tokens"`
	TotalCostUSD      float64          `json:"total_cost_usd"`
	OperationTokens   map[string]int64 `json:"operation_tokens"`
	LastUpdated       time.Time        `json:"last_updated"`
}

// GetStats returns current budget statistics
func (t *Tracker) GetStats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ops := make(map[string]int64, len(t.operationTokens))
	for k, v := range t.operationTokens {
		ops[k] = v
	}

	return Stats{
		Status:            t.statusLocked(),
		TotalInputTokens:  t.totalInputTokens,
		TotalOutputTokens: t.totalOutputTokens,
		TotalCostUSD:      t.totalCostUSD,
		OperationTokens:   ops,
		LastUpdated:       t.lastUpdated,
	}
}

// calculateCost computes the USD cost of one call (must be called with lock
// held or on immutable config)
func (t *Tracker) calculateCost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*t.config.InputTokenCost +
		float64(outputTokens)/1e6*t.config.OutputTokenCost
}

func (t *Tracker) totalTokensLocked() int64 {
	return t.totalInputTokens + t.totalOutputTokens
}

func (t *Tracker) isTokenLimitExceeded() bool {
	return t.config.MaxTotalTokens > 0 && t.totalTokensLocked() >= t.config.MaxTotalTokens
}

func (t *Tracker) isCostLimitExceeded() bool {
	return t.config.MaxCostUSD > 0 && t.totalCostUSD >= t.config.MaxCostUSD
}

// usageFractionLocked returns the highest budget utilization across limits
func (t *Tracker) usageFractionLocked() float64 {
	var frac float64
	if t.config.MaxTotalTokens > 0 {
		frac = float64(t.totalTokensLocked()) / float64(t.config.MaxTotalTokens)
	}
	if t.config.MaxCostUSD > 0 {
		if costFrac := t.totalCostUSD / t.config.MaxCostUSD; costFrac > frac {
			frac = costFrac
		}
	}
	return frac
}

func (t *Tracker) statusLocked() BudgetStatus {
	if t.isTokenLimitExceeded() || t.isCostLimitExceeded() {
		return BudgetExceeded
	}
	if t.usageFractionLocked() >= t.config.AlertThreshold {
		return BudgetWarning
	}
	return BudgetHealthy
}
