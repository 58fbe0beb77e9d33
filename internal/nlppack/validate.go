package nlppack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/chapterbridge/packworker/internal/inference"
	"github.com/chapterbridge/packworker/internal/retry"
)

// ErrSchemaInvalid means the model produced output that failed validation
// twice, including one repair attempt. This indicates a systematic
// prompt/model mismatch, not a transient error, so the job is failed rather
// than retried.
var ErrSchemaInvalid = errors.New("nlppack: model output failed schema validation after repair")

// CallStats captures metrics for the inference + validation step.
type CallStats struct {
	InputChars       int   `json:"input_chars"`
	InputTokensEst   int   `json:"input_tokens_est"`
	Retries          int   `json:"retries_count"`
	RepairAttempted  bool  `json:"repair_attempted"`
	RepairSucceeded  bool  `json:"repair_succeeded"`
	ModelLatencyMS   int64 `json:"model_latency_ms"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	OutputChars      int   `json:"output_chars"`
}

// Validator drives one guided-JSON inference call and validates the result,
// issuing at most one corrective re-prompt on validation failure.
type Validator struct {
	client      inference.Client
	policy      retry.Policy
	logger      *slog.Logger
	schema      *jsonschema.Schema
	schemaRaw   []byte
	maxTokens   int
	temperature float64
}

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	Client      inference.Client
	Policy      retry.Policy
	Logger      *slog.Logger
	MaxTokens   int
	Temperature float64
}

// NewValidator compiles the output schema and returns a Validator.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := json.Marshal(OutputSchema)
	if err != nil {
		return nil, fmt.Errorf("serialize output schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load output schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}

	return &Validator{
		client:      cfg.Client,
		policy:      cfg.Policy,
		logger:      logger.With("component", "nlppack"),
		schema:      schema,
		schemaRaw:   raw,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Generate runs inference over the extracted source text and returns the
// validated output. Transient inference errors are retried by the policy;
// schema failures get exactly one repair call before failing fatally with
// ErrSchemaInvalid.
func (v *Validator) Generate(ctx context.Context, mediaType, sourceText string) (*Output, CallStats, error) {
	var stats CallStats
	// Input metrics are set up front so they survive failed calls too;
	// the token estimate uses the usual ~4 chars/token heuristic.
	stats.InputChars = len(sourceText)
	stats.InputTokensEst = len(sourceText) / 4

	system := SystemPrompt(mediaType)
	user := UserPrompt(mediaType, sourceText)

	resp, err := v.complete(ctx, system, user, &stats)
	if err != nil {
		return nil, stats, err
	}

	out, vErr := v.decode(resp.Content)
	if vErr == nil {
		stats.OutputChars = len(resp.Content)
		return out, stats, nil
	}

	v.logger.Warn("model output failed validation, attempting repair", "error", vErr)
	stats.RepairAttempted = true

	repairUser := repairPrompt(v.schemaRaw, sourceText, resp.Content, vErr)
	resp, err = v.complete(ctx, system, repairUser, &stats)
	if err != nil {
		return nil, stats, err
	}

	out, vErr = v.decode(resp.Content)
	if vErr != nil {
		v.logger.Error("repair output failed validation", "error", vErr)
		return nil, stats, retry.Fatal(fmt.Errorf("%w: %v", ErrSchemaInvalid, vErr))
	}

	stats.RepairSucceeded = true
	stats.OutputChars = len(resp.Content)
	return out, stats, nil
}

// complete issues one logical inference call, with call-level retries for
// transient failures, and accumulates metrics into stats.
func (v *Validator) complete(ctx context.Context, system, user string, stats *CallStats) (*inference.Response, error) {
	var resp *inference.Response
	attempts := 0
	err := v.policy.Do(ctx, func() error {
		attempts++
		r, callErr := v.client.Complete(ctx, inference.Request{
			System:      system,
			User:        user,
			Schema:      OutputSchema,
			SchemaName:  SchemaName,
			MaxTokens:   v.maxTokens,
			Temperature: v.temperature,
		})
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})
	stats.Retries += attempts - 1
	if err != nil {
		return nil, err
	}
	stats.ModelLatencyMS += resp.Latency.Milliseconds()
	stats.PromptTokens += resp.PromptTokens
	stats.CompletionTokens += resp.CompletionTokens
	return resp, nil
}

// decode parses, validates and normalizes one raw model response.
func (v *Validator) decode(content string) (*Output, error) {
	raw, err := parseStructuredJSON(content)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode structured JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("output does not match schema: %w", err)
	}

	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	out.Normalize()
	return &out, nil
}

// parseStructuredJSON parses JSON from model output, with lightweight
// recovery for markdown code fences and surrounding text.
func parseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty model output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}

		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			normalized, mErr := json.Marshal(parsed)
			if mErr != nil {
				return nil, fmt.Errorf("normalize structured output: %w", mErr)
			}
			return normalized, nil
		}
	}

	return nil, fmt.Errorf("failed to parse model output as JSON")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONCandidate(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(trimmed, "}")
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}

// repairPrompt asks the model to correct its previous invalid output,
// naming the specific violation.
func repairPrompt(schemaRaw []byte, sourceText, lastOutput string, issue error) string {
	lastOutput = strings.TrimSpace(lastOutput)
	if len(lastOutput) > 12000 {
		lastOutput = lastOutput[:12000] + "\n...[truncated]"
	}

	return fmt.Sprintf(`Your previous response was not valid against the required schema. Return ONLY corrected valid JSON (no markdown, no commentary) that strictly conforms to this schema.

Schema:
%s

Original content to analyze:
---BEGIN CONTENT---
%s
---END CONTENT---

Your previous (invalid) output:
%s

Validation issue:
%v`, schemaRaw, sourceText, lastOutput, issue)
}
