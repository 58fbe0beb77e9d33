// Package inference wraps the vLLM OpenAI-compatible chat endpoint used for
// NLP pack generation.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/chapterbridge/packworker/internal/retry"
)

// Request is one structured-output chat completion.
type Request struct {
	System string
	User   string
	// Schema is the JSON schema the model output must conform to. vLLM uses
	// it for guided decoding; other backends fall back to response_format.
	Schema      map[string]any
	SchemaName  string
	MaxTokens   int
	Temperature float64
}

// Response is the raw model output plus call metrics.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	Latency          time.Duration
}

// Client is the chat-completion contract consumed by the pipeline.
type Client interface {
	// Complete sends one chat completion. Errors are classified with the
	// retry package: transient for rate limits / 5xx / timeouts, fatal for
	// everything a retry cannot fix.
	Complete(ctx context.Context, req Request) (*Response, error)

	// ModelVersion identifies the model + prompt revision recorded on all
	// derived rows.
	ModelVersion() string
}

// Config configures a VLLMClient.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	ModelVersion      string
	Timeout           time.Duration
	RequestsPerMinute int
	Logger            *slog.Logger
}

// VLLMClient talks to a vLLM server through the OpenAI SDK.
type VLLMClient struct {
	client       openai.Client
	model        string
	modelVersion string
	limiter      *RateLimiter
	logger       *slog.Logger
}

// NewVLLMClient creates a client for the configured endpoint.
func NewVLLMClient(cfg Config) *VLLMClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
		// Call-level retries are owned by the retry package, not the SDK.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &VLLMClient{
		client:       openai.NewClient(opts...),
		model:        cfg.Model,
		modelVersion: cfg.ModelVersion,
		limiter:      NewRateLimiter(rpm),
		logger:       logger.With("component", "inference", "model", cfg.Model),
	}
}

// ModelVersion implements Client.
func (c *VLLMClient) ModelVersion() string {
	return c.modelVersion
}

// Complete implements Client.
func (c *VLLMClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if !c.limiter.TryConsume() {
		st := c.limiter.Status()
		c.logger.Debug("rate limit saturated, waiting",
			"time_until_token", st.TimeUntilToken,
			"total_consumed", st.TotalConsumed,
			"total_waited", st.TotalWaited,
		)
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "structured_output"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: req.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		classified := classifyError(err)
		c.logger.Warn("inference call failed", "latency_ms", latency.Milliseconds(), "error", classified)
		return nil, classified
	}
	if len(completion.Choices) == 0 {
		return nil, retry.Transientf("inference returned no choices")
	}

	resp := &Response{
		Content:          completion.Choices[0].Message.Content,
		Model:            completion.Model,
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
		Latency:          latency,
	}
	c.logger.Debug("inference call completed",
		"latency_ms", latency.Milliseconds(),
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
	)
	return resp, nil
}

// classifyError maps SDK errors onto the worker's transient/fatal taxonomy.
// Rate limits, server errors and timeouts are worth retrying; the rest of
// the 4xx range indicates a request the backend will never accept.
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return retry.Transient(fmt.Errorf("inference rate limited: %w", err))
		case apiErr.StatusCode >= 500:
			return retry.Transient(fmt.Errorf("inference server error (status %d): %w", apiErr.StatusCode, err))
		default:
			return retry.Fatal(fmt.Errorf("inference request rejected (status %d): %w", apiErr.StatusCode, err))
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Network-level failure: transport reset, connection refused, DNS.
	return retry.Transient(fmt.Errorf("inference call failed: %w", err))
}
