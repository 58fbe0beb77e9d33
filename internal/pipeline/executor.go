// Package pipeline executes one claimed job end to end: fetch raw content,
// extract text, run inference, and persist the derived artifacts. Artifacts
// already present are left untouched, so a re-run after a partial failure
// only fills the gaps, and nothing is ever rolled back.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chapterbridge/packworker/internal/characters"
	"github.com/chapterbridge/packworker/internal/content"
	"github.com/chapterbridge/packworker/internal/extract"
	"github.com/chapterbridge/packworker/internal/ledger"
	"github.com/chapterbridge/packworker/internal/nlppack"
	"github.com/chapterbridge/packworker/internal/retry"
)

// Outcome classifies how a job run ended, driving the lease decision.
type Outcome string

const (
	// OutcomeSuccess: all needed artifacts exist; the job is terminal.
	OutcomeSuccess Outcome = "success"
	// OutcomeRetryable: a transient failure; the job may be requeued.
	OutcomeRetryable Outcome = "retryable"
	// OutcomeFatal: the job can never succeed as enqueued; fail it now.
	OutcomeFatal Outcome = "fatal"
)

// Result is the outcome of one job run. Output is always populated (with
// whatever stats were gathered) so failed jobs still carry diagnostics.
type Result struct {
	Outcome Outcome
	Output  json.RawMessage
	Err     error
}

// Output is the job result payload recorded on the ledger.
type Output struct {
	Skipped          bool                `json:"skipped,omitempty"`
	SkipReason       string              `json:"skip_reason,omitempty"`
	DryRun           bool                `json:"dry_run,omitempty"`
	ModelVersion     string              `json:"model_version,omitempty"`
	CleanedKey       string              `json:"cleaned_key,omitempty"`
	ArtifactsWritten []string            `json:"artifacts_written,omitempty"`
	Extraction       *extract.Stats      `json:"extraction,omitempty"`
	Stats            *nlppack.CallStats  `json:"stats,omitempty"`
	Characters       *characters.Summary `json:"characters,omitempty"`
}

// Executor runs claimed jobs against the ledger, content store and model.
type Executor struct {
	ledger    *ledger.Store
	content   content.Store
	validator *nlppack.Validator
	merger    *characters.Merger
	policy    retry.Policy
	logger    *slog.Logger

	bucket       string
	modelVersion string
	dryRun       bool
}

// Config wires an Executor.
type Config struct {
	Ledger    *ledger.Store
	Content   content.Store
	Validator *nlppack.Validator
	Merger    *characters.Merger
	Policy    retry.Policy
	Logger    *slog.Logger

	Bucket       string
	ModelVersion string
	// DryRun runs extraction and inference but persists nothing.
	DryRun bool
}

// New returns an Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		ledger:       cfg.Ledger,
		content:      cfg.Content,
		validator:    cfg.Validator,
		merger:       cfg.Merger,
		policy:       cfg.Policy,
		logger:       logger.With("component", "pipeline"),
		bucket:       cfg.Bucket,
		modelVersion: cfg.ModelVersion,
		dryRun:       cfg.DryRun,
	}
}

// Run executes one claimed job. It never writes job status itself; the
// caller owns the lease and the terminal-state decision.
func (e *Executor) Run(ctx context.Context, job *ledger.Job) Result {
	out := Output{ModelVersion: e.modelVersion}
	logger := e.logger.With("job_id", job.ID, "segment_id", job.SegmentID)

	seg, err := e.ledger.GetSegmentWithEdition(ctx, job.SegmentID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fatal(out, fmt.Errorf("segment missing: %w", err))
		}
		return retryable(out, err)
	}

	mediaType := seg.Edition.MediaType
	extractor, err := extract.ForMediaType(mediaType)
	if err != nil {
		return fatal(out, err)
	}
	rawType, err := extract.RawAssetType(mediaType)
	if err != nil {
		return fatal(out, err)
	}

	cleanedKey := content.CleanedTextKey(mediaType, seg.Edition.WorkID, seg.EditionID, seg.SegmentType, seg.Number)
	out.CleanedKey = cleanedKey

	// Existence probe. Each derived artifact is checked independently so a
	// re-run after partial failure only produces what is missing.
	need, err := e.probe(ctx, job, seg.ID, cleanedKey)
	if err != nil {
		return retryable(out, err)
	}
	if !need.any() {
		out.Skipped = true
		out.SkipReason = "already_exists"
		logger.Info("all artifacts present, skipping", "cleaned_key", cleanedKey)
		return success(out)
	}

	sourceText, exStats, err := e.extractSource(ctx, seg.ID, rawType, extractor)
	if err != nil {
		if retry.IsFatal(err) {
			return fatal(out, err)
		}
		return retryable(out, err)
	}
	out.Extraction = &exStats

	result, stats, err := e.validator.Generate(ctx, mediaType, sourceText)
	out.Stats = &stats
	if err != nil {
		if retry.IsFatal(err) {
			return fatal(out, err)
		}
		return retryable(out, err)
	}

	if e.dryRun {
		out.DryRun = true
		logger.Info("dry run, not persisting",
			"summary_chars", len(result.SegmentSummary.Summary),
			"character_updates", len(result.CharacterUpdates))
		return success(out)
	}

	// Persist each missing artifact. Every durable write stands on its own:
	// a later failure leaves earlier artifacts in place for the next run.
	if need.cleaned {
		if err := e.persistCleanedText(ctx, seg, cleanedKey, result.CleanedText); err != nil {
			return retryable(out, err)
		}
		out.ArtifactsWritten = append(out.ArtifactsWritten, "cleaned_text")
	}
	if need.summary {
		if err := e.persistSummary(ctx, seg.ID, &result.SegmentSummary); err != nil {
			return retryable(out, err)
		}
		out.ArtifactsWritten = append(out.ArtifactsWritten, "segment_summary")
	}
	if need.entities {
		if err := e.persistEntities(ctx, seg.ID, &result.SegmentEntities); err != nil {
			return retryable(out, err)
		}
		out.ArtifactsWritten = append(out.ArtifactsWritten, "segment_entities")
	}
	if nlppack.CharacterUpdatesInScope(mediaType) && len(result.CharacterUpdates) > 0 {
		label := fmt.Sprintf("%s %d", seg.SegmentType, seg.Number)
		sum, err := e.merger.Merge(ctx, seg.Edition.WorkID, label, seg.Number, result.CharacterUpdates)
		out.Characters = &sum
		if err != nil {
			return retryable(out, err)
		}
		out.ArtifactsWritten = append(out.ArtifactsWritten, "character_updates")
	}

	logger.Info("job complete", "artifacts", out.ArtifactsWritten)
	return success(out)
}

// needSet tracks which derived artifacts this run must produce.
type needSet struct {
	cleaned  bool
	summary  bool
	entities bool
}

func (n needSet) any() bool { return n.cleaned || n.summary || n.entities }

func (e *Executor) probe(ctx context.Context, job *ledger.Job, segmentID, cleanedKey string) (needSet, error) {
	if job.Input.Force {
		return needSet{cleaned: true, summary: true, entities: true}, nil
	}

	var need needSet
	asset, err := e.ledger.GetAssetByKey(ctx, cleanedKey)
	if err != nil {
		return need, fmt.Errorf("probe cleaned text: %w", err)
	}
	need.cleaned = asset == nil

	hasSummary, err := e.ledger.HasSummary(ctx, segmentID)
	if err != nil {
		return need, err
	}
	need.summary = !hasSummary

	hasEntities, err := e.ledger.HasEntities(ctx, segmentID)
	if err != nil {
		return need, err
	}
	need.entities = !hasEntities
	return need, nil
}

// extractSource fetches the segment's raw assets and extracts plain text.
// Missing raw content is fatal (the job can never succeed); store/transport
// errors are transient. Extraction failure is content-fatal.
func (e *Executor) extractSource(ctx context.Context, segmentID, rawType string, extractor extract.Extractor) (string, extract.Stats, error) {
	var stats extract.Stats

	assets, err := e.ledger.GetSegmentAssets(ctx, segmentID, rawType)
	if err != nil {
		return "", stats, err
	}
	if len(assets) == 0 {
		return "", stats, retry.Fatal(fmt.Errorf("segment %s has no %s assets", segmentID, rawType))
	}

	sources := make([]extract.Source, 0, len(assets))
	for _, asset := range assets {
		var data []byte
		err := e.policy.Do(ctx, func() error {
			d, getErr := e.content.Get(ctx, asset.Key)
			if getErr != nil {
				if errors.Is(getErr, content.ErrNotFound) {
					return retry.Fatal(fmt.Errorf("raw object %s missing from store: %w", asset.Key, getErr))
				}
				return getErr
			}
			data = d
			return nil
		})
		if err != nil {
			return "", stats, err
		}
		sources = append(sources, extract.Source{Key: asset.Key, Data: data})
	}

	text, stats, err := extractor.Extract(sources)
	if err != nil {
		return "", stats, retry.Fatal(fmt.Errorf("extract %s: %w", rawType, err))
	}
	return text, stats, nil
}

func (e *Executor) persistCleanedText(ctx context.Context, seg *ledger.SegmentWithEdition, key, text string) error {
	data := []byte(text)
	sum := sha256.Sum256(data)

	err := e.policy.Do(ctx, func() error {
		return e.content.Put(ctx, key, data, "text/plain; charset=utf-8")
	})
	if err != nil {
		return fmt.Errorf("write cleaned text: %w", err)
	}

	assetID, err := e.ledger.UpsertAsset(ctx, ledger.Asset{
		Bucket:      e.bucket,
		Key:         key,
		AssetType:   "cleaned_text",
		ContentType: "text/plain; charset=utf-8",
		Bytes:       int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
	})
	if err != nil {
		return err
	}
	return e.ledger.LinkSegmentAsset(ctx, seg.ID, assetID, "cleaned_text")
}

func (e *Executor) persistSummary(ctx context.Context, segmentID string, s *nlppack.SegmentSummary) error {
	events, err := json.Marshal(s.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	beats, err := json.Marshal(s.Beats)
	if err != nil {
		return fmt.Errorf("encode beats: %w", err)
	}
	dialogue, err := json.Marshal(s.KeyDialogue)
	if err != nil {
		return fmt.Errorf("encode key dialogue: %w", err)
	}
	tone, err := json.Marshal(s.Tone)
	if err != nil {
		return fmt.Errorf("encode tone: %w", err)
	}
	return e.ledger.UpsertSummary(ctx, ledger.SummaryRow{
		SegmentID:    segmentID,
		Summary:      s.Summary,
		SummaryShort: s.SummaryShort,
		Events:       events,
		Beats:        beats,
		KeyDialogue:  dialogue,
		Tone:         tone,
		ModelVersion: e.modelVersion,
	})
}

func (e *Executor) persistEntities(ctx context.Context, segmentID string, ents *nlppack.SegmentEntities) error {
	raw, err := json.Marshal(ents)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	return e.ledger.UpsertEntities(ctx, ledger.EntitiesRow{
		SegmentID:    segmentID,
		Entities:     raw,
		ModelVersion: e.modelVersion,
	})
}

func success(out Output) Result {
	return Result{Outcome: OutcomeSuccess, Output: marshalOutput(out)}
}

func retryable(out Output, err error) Result {
	return Result{Outcome: OutcomeRetryable, Output: marshalOutput(out), Err: err}
}

func fatal(out Output, err error) Result {
	return Result{Outcome: OutcomeFatal, Output: marshalOutput(out), Err: err}
}

func marshalOutput(out Output) json.RawMessage {
	raw, err := json.Marshal(out)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
