package cost

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds cost budgeting configuration
type Config struct {
	// MaxTotalTokens is the maximum number of tokens (input + output)
	// allowed across the whole session or sweep
	// 0 = unlimited
	MaxTotalTokens int64 `json:"max_total_tokens"`

	// MaxCostUSD is the maximum spend in USD allowed across the session
	// 0.0 = unlimited (use token limits instead)
	MaxCostUSD float64 `json:"max_cost_usd"`

	// AlertThreshold is the fraction of budget usage that triggers a warning
	// Default: 0.80 (80%)
	AlertThreshold float64 `json:"alert_threshold"`

	// Enabled controls whether cost budgeting is active
	// Default: true
	Enabled bool `json:"enabled"`

	// InputTokenCost is the cost per 1M input tokens (in USD)
	// Default: $3.00 for Claude Sonnet 4.5
	InputTokenCost float64 `json:"input_token_cost"`

	// OutputTokenCost is the cost per 1M output tokens (in USD)
	// Default: $15.00 for Claude Sonnet 4.5
	OutputTokenCost float64 `json:"output_token_cost"`
}

// DefaultConfig returns default cost budgeting configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		MaxTotalTokens:  1000000, // Conservative default for an unattended sweep
		MaxCostUSD:      10.00,
		AlertThreshold:  0.80,
		InputTokenCost:  3.00,  // $3 per 1M input tokens (Claude Sonnet 4.5)
		OutputTokenCost: 15.00, // $15 per 1M output tokens (Claude Sonnet 4.5)
	}
}

// LoadFromEnv loads cost configuration from environment variables.
// Environment variables override default values. Prefix: REFINERY_COST_
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if val := os.Getenv("REFINERY_COST_ENABLED"); val != "" {
		cfg.Enabled = parseBool(val)
	}

	if val := os.Getenv("REFINERY_COST_MAX_TOTAL_TOKENS"); val != "" {
		if tokens, err := strconv.ParseInt(val, 10, 64); err == nil && tokens >= 0 {
			cfg.MaxTotalTokens = tokens
		}
	}

	if val := os.Getenv("REFINERY_COST_MAX_COST_USD"); val != "" {
		if cost, err := strconv.ParseFloat(val, 64); err == nil && cost >= 0 {
			cfg.MaxCostUSD = cost
		}
	}

	if val := os.Getenv("REFINERY_COST_ALERT_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseFloat(val, 64); err == nil && threshold > 0 && threshold <= 1.0 {
			cfg.AlertThreshold = threshold
		}
	}

	if val := os.Getenv("REFINERY_COST_INPUT_TOKEN_COST"); val != "" {
		if cost, err := strconv.ParseFloat(val, 64); err == nil && cost >= 0 {
			cfg.InputTokenCost = cost
		}
	}

	if val := os.Getenv("REFINERY_COST_OUTPUT_TOKEN_COST"); val != "" {
		if cost, err := strconv.ParseFloat(val, 64); err == nil && cost >= 0 {
			cfg.OutputTokenCost = cost
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Warning: invalid cost config from environment: %v (using defaults)\n", err)
		return DefaultConfig()
	}

	return cfg
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	if c.MaxTotalTokens < 0 {
		return fmt.Errorf("max_total_tokens must be non-negative, got %d", c.MaxTotalTokens)
	}

	if c.MaxCostUSD < 0 {
		return fmt.Errorf("max_cost_usd must be non-negative, got %.2f", c.MaxCostUSD)
	}

	if c.AlertThreshold <= 0 || c.AlertThreshold > 1.0 {
		return fmt.Errorf("alert_threshold must be between 0 and 1, got %.2f", c.AlertThreshold)
	}

	if c.InputTokenCost < 0 {
		return fmt.Errorf("input_token_cost must be non-negative, got %.2f", c.InputTokenCost)
	}

	if c.OutputTokenCost < 0 {
		return fmt.Errorf("output_token_cost must be non-negative, got %.2f", c.OutputTokenCost)
	}

	return nil
}

// parseBool parses a boolean string
func parseBool(val string) bool {
	switch val {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return true
	}
}
