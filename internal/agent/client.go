// Package agent provides the model-backed solve, critique, and refine
// capabilities that drive the refinement loop.
package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Model constants. Solving and refining use the high-end model; critique is
// a simpler judge-and-feedback task and runs on the cheaper one by default.
//
// Environment variable overrides:
// - REFINERY_MODEL: override the solve/refine model
// - REFINERY_MODEL_EVAL: override the critique model
const (
	// ModelSonnet is the high-end model for generation tasks
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model for judging tasks
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// GetDefaultModel returns the generation model, checking REFINERY_MODEL first
func GetDefaultModel() string {
	if model := os.Getenv("REFINERY_MODEL"); model != "" {
		return model
	}
	return ModelSonnet
}

// GetEvalModel returns the critique model, checking REFINERY_MODEL_EVAL first
func GetEvalModel() string {
	if model := os.Getenv("REFINERY_MODEL_EVAL"); model != "" {
		return model
	}
	return ModelHaiku
}

// CompletionRequest is a single prompt sent to the model.
type CompletionRequest struct {
	Prompt    string
	Operation string // label for logs and usage attribution
	Model     string // empty means the client default
	MaxTokens int    // 0 means the client default
}

// Completion is the model's reply plus its token accounting.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	Duration     time.Duration
}

// Completer abstracts the model call so capabilities can be tested against
// a fake.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// UsageRecorder receives token counts for every completed API call.
type UsageRecorder interface {
	RecordUsage(operation string, inputTokens, outputTokens int64)
}

// Client wraps the Anthropic API with retry, circuit breaking, a concurrency
// cap, and client-side rate limiting. One Client is shared by all capabilities
// and, in a sweep, by all cells.
type Client struct {
	api            *anthropic.Client
	model          string
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	limiter        *rate.Limiter
	recorder       UsageRecorder
}

// Config holds client configuration.
type Config struct {
	APIKey            string        // if empty, reads ANTHROPIC_API_KEY
	Model             string        // default model for requests that don't name one
	Retry             RetryConfig   // uses defaults if not specified
	RequestsPerSecond float64       // client-side rate limit (0 = unlimited)
	Recorder          UsageRecorder // optional token accounting sink
}

// NewClient creates an API client.
func NewClient(cfg *Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	api := anthropic.NewClient(option.WithAPIKey(apiKey))

	var circuitBreaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		circuitBreaker = NewCircuitBreaker(
			retry.FailureThreshold,
			retry.SuccessThreshold,
			retry.OpenTimeout,
		)
	}

	var concurrencySem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		api:            &api,
		model:          model,
		retry:          retry,
		circuitBreaker: circuitBreaker,
		concurrencySem: concurrencySem,
		limiter:        limiter,
		recorder:       cfg.Recorder,
	}, nil
}

// HealthCheck reports whether the client is in a state to serve requests.
// An open circuit breaker means recent calls have been failing hard.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.circuitBreaker != nil {
		state, failures, _ := c.circuitBreaker.GetMetrics()
		switch state {
		case CircuitOpen:
			return fmt.Errorf("model API unavailable: %w (failures=%d, retry in %v)",
				ErrCircuitOpen, failures, c.retry.OpenTimeout)
		case CircuitHalfOpen:
			fmt.Printf("model API in half-open state (probing for recovery)\n")
		case CircuitClosed:
		}
	}
	return nil
}

// Complete sends one prompt and returns the text reply. Retries, circuit
// breaking, and rate limiting all apply here so capability code stays simple.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	startTime := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait for %s: %w", req.Operation, err)
		}
	}

	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, req.Operation, func(attemptCtx context.Context) error {
		resp, apiErr := c.api.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	if c.recorder != nil {
		c.recorder.RecordUsage(req.Operation, response.Usage.InputTokens, response.Usage.OutputTokens)
	}

	return &Completion{
		Text:         text,
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		Duration:     time.Since(startTime),
	}, nil
}
