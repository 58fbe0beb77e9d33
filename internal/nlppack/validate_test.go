package nlppack

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chapterbridge/packworker/internal/inference"
	"github.com/chapterbridge/packworker/internal/retry"
)

const validOutput = `{
	"cleaned_text": "The gate opened.",
	"segment_summary": {
		"summary": "A gate opens and hunters enter.",
		"summary_short": "Hunters enter a gate.",
		"events": ["gate opened", "hunters entered"],
		"beats": [{"type": "setup", "description": "the gate appears"}],
		"key_dialogue": [{"speaker": "Sung Jinwoo", "text": "Arise."}],
		"tone": {"primary": "tense", "secondary": ["ominous"], "intensity": 0.7}
	},
	"segment_entities": {
		"characters": ["Sung Jinwoo"],
		"locations": ["Seoul"],
		"items": [],
		"time_refs": [],
		"time_context": "present",
		"organizations": [],
		"factions": [],
		"titles_ranks": ["S-rank"],
		"skills": [],
		"creatures": [],
		"concepts": [],
		"relationships": [],
		"emotions": [],
		"keywords": ["gate"]
	},
	"character_updates": [
		{"name": "Sung Jinwoo", "aliases": ["Shadow Monarch"], "character_facts": [{"fact": "became S-rank"}]}
	]
}`

func newTestValidator(t *testing.T, client inference.Client) *Validator {
	t.Helper()
	v, err := NewValidator(ValidatorConfig{
		Client: client,
		Policy: retry.Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v
}

func TestGenerate_ValidFirstTry(t *testing.T) {
	mock := inference.NewMockClient(inference.MockResponse{Content: validOutput})
	v := newTestValidator(t, mock)

	out, stats, err := v.Generate(context.Background(), "novel", "The gate opened.")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected 1 call, got %d", mock.CallCount())
	}
	if stats.RepairAttempted {
		t.Fatal("repair should not have been attempted")
	}
	if out.CleanedText != "The gate opened." {
		t.Fatalf("cleaned_text = %q", out.CleanedText)
	}
	if stats.InputChars != len("The gate opened.") {
		t.Fatalf("input_chars = %d, want %d", stats.InputChars, len("The gate opened."))
	}
	if stats.InputTokensEst != len("The gate opened.")/4 {
		t.Fatalf("input_tokens_est = %d, want %d", stats.InputTokensEst, len("The gate opened.")/4)
	}
	if stats.OutputChars != len(validOutput) {
		t.Fatalf("output_chars = %d, want %d", stats.OutputChars, len(validOutput))
	}
	if out.SegmentEntities.TimeContext != TimePresent {
		t.Fatalf("time_context = %q", out.SegmentEntities.TimeContext)
	}
}

func TestGenerate_RepairSucceeds(t *testing.T) {
	mock := inference.NewMockClient(
		inference.MockResponse{Content: `{"cleaned_text": "missing the rest"}`},
		inference.MockResponse{Content: validOutput},
	)
	v := newTestValidator(t, mock)

	out, stats, err := v.Generate(context.Background(), "novel", "The gate opened.")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if mock.CallCount() != 2 {
		t.Fatalf("expected 2 calls, got %d", mock.CallCount())
	}
	if !stats.RepairAttempted || !stats.RepairSucceeded {
		t.Fatalf("repair stats = %+v", stats)
	}
	if len(out.CharacterUpdates) != 1 {
		t.Fatalf("character_updates = %d", len(out.CharacterUpdates))
	}

	// The repair prompt must carry the invalid output and the violation.
	calls := mock.Calls()
	if !strings.Contains(calls[1].User, "missing the rest") {
		t.Error("repair prompt missing previous output")
	}
	if !strings.Contains(calls[1].User, "---BEGIN CONTENT---") {
		t.Error("repair prompt missing original content")
	}
}

func TestGenerate_RepairBound(t *testing.T) {
	mock := inference.NewMockClient(
		inference.MockResponse{Content: `not json at all`},
		inference.MockResponse{Content: `still not json`},
		inference.MockResponse{Content: validOutput}, // must never be reached
	)
	v := newTestValidator(t, mock)

	_, stats, err := v.Generate(context.Background(), "novel", "text")
	if !errors.Is(err, ErrSchemaInvalid) {
		t.Fatalf("expected ErrSchemaInvalid, got %v", err)
	}
	if !retry.IsFatal(err) {
		t.Fatal("schema-invalid must be fatal")
	}
	if mock.CallCount() != 2 {
		t.Fatalf("expected exactly 2 calls (no third), got %d", mock.CallCount())
	}
	if !stats.RepairAttempted || stats.RepairSucceeded {
		t.Fatalf("repair stats = %+v", stats)
	}
	// Input metrics are reported even when generation fails.
	if stats.InputChars != len("text") || stats.InputTokensEst != len("text")/4 {
		t.Fatalf("input stats missing on failure: %+v", stats)
	}
}

func TestGenerate_TransientErrorsRetried(t *testing.T) {
	mock := inference.NewMockClient(
		inference.MockResponse{Err: retry.Transientf("503 from vllm")},
		inference.MockResponse{Content: validOutput},
	)
	v := newTestValidator(t, mock)

	_, stats, err := v.Generate(context.Background(), "anime", "dialogue")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if stats.Retries != 1 {
		t.Fatalf("retries = %d, want 1", stats.Retries)
	}
}

func TestGenerate_FencedJSONAccepted(t *testing.T) {
	fenced := "```json\n" + validOutput + "\n```"
	mock := inference.NewMockClient(inference.MockResponse{Content: fenced})
	v := newTestValidator(t, mock)

	out, stats, err := v.Generate(context.Background(), "novel", "text")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if stats.RepairAttempted {
		t.Fatal("fenced output should parse without repair")
	}
	if out.SegmentSummary.SummaryShort == "" {
		t.Fatal("summary lost in fence stripping")
	}
}

func TestNormalize(t *testing.T) {
	out := &Output{}
	out.SegmentEntities.TimeContext = "yesterday-ish"
	out.CharacterUpdates = []CharacterUpdate{{Name: "X"}}
	out.Normalize()

	if out.SegmentSummary.Events == nil || out.SegmentEntities.Characters == nil {
		t.Fatal("nil lists must normalize to empty")
	}
	if out.SegmentEntities.TimeContext != TimeUnknown {
		t.Fatalf("time_context = %q, want unknown", out.SegmentEntities.TimeContext)
	}
	if out.CharacterUpdates[0].Aliases == nil || out.CharacterUpdates[0].Facts == nil {
		t.Fatal("character update lists must normalize to empty")
	}
}

func TestPrompts(t *testing.T) {
	novel := SystemPrompt("novel")
	if !strings.Contains(novel, "canonical name") {
		t.Error("novel system prompt missing character instructions")
	}
	anime := SystemPrompt("anime")
	if !strings.Contains(anime, "Return empty array") {
		t.Error("anime system prompt should disable character updates")
	}
	user := UserPrompt("manhwa", "[PAGE 0001]\nhello")
	if !strings.Contains(user, "---BEGIN CONTENT---") || !strings.Contains(user, "hello") {
		t.Error("user prompt malformed")
	}
}

func TestParseStructuredJSON(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain object", `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", false},
		{"prose wrapped", "Here is the JSON:\n{\"a\":1}\nDone.", false},
		{"empty", "", true},
		{"garbage", "no json here", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseStructuredJSON(tc.in)
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tc.wantErr)
			}
		})
	}
}
