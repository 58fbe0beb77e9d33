package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertEdition creates an edition row. Used by ingest tooling and tests.
func (s *Store) InsertEdition(ctx context.Context, e Edition) error {
	if e.ID == "" {
		return errors.New("edition id required")
	}
	_, err := s.exec(ctx,
		`INSERT INTO editions (id, work_id, media_type) VALUES (?, ?, ?)`,
		e.ID, e.WorkID, e.MediaType,
	)
	if err != nil {
		return fmt.Errorf("insert edition: %w", err)
	}
	return nil
}

// InsertSegment creates a segment row.
func (s *Store) InsertSegment(ctx context.Context, seg Segment) error {
	if seg.ID == "" {
		return errors.New("segment id required")
	}
	_, err := s.exec(ctx,
		`INSERT INTO segments (id, edition_id, segment_type, number) VALUES (?, ?, ?, ?)`,
		seg.ID, seg.EditionID, seg.SegmentType, seg.Number,
	)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// GetSegmentWithEdition resolves a segment and its edition in one query.
func (s *Store) GetSegmentWithEdition(ctx context.Context, segmentID string) (*SegmentWithEdition, error) {
	row := s.queryRow(ctx,
		`SELECT s.id, s.edition_id, s.segment_type, s.number, e.id, e.work_id, e.media_type
		 FROM segments s JOIN editions e ON e.id = s.edition_id
		 WHERE s.id = ?`,
		segmentID,
	)
	var out SegmentWithEdition
	err := row.Scan(
		&out.ID, &out.EditionID, &out.SegmentType, &out.Number,
		&out.Edition.ID, &out.Edition.WorkID, &out.Edition.MediaType,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("segment %s: %w", segmentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return &out, nil
}

const assetColumns = `id, bucket, key, asset_type, content_type, bytes, sha256, created_at`

func scanAsset(row rowScanner) (*Asset, error) {
	var (
		a           Asset
		bucket      sql.NullString
		contentType sql.NullString
		sha         sql.NullString
		createdAt   string
	)
	if err := row.Scan(&a.ID, &bucket, &a.Key, &a.AssetType, &contentType, &a.Bytes, &sha, &createdAt); err != nil {
		return nil, err
	}
	a.Bucket = bucket.String
	a.ContentType = contentType.String
	a.SHA256 = sha.String
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode asset created_at: %w", err)
	}
	return &a, nil
}

// GetSegmentAssets returns assets linked to a segment, filtered by type,
// ordered by key so multi-page content aggregates deterministically.
func (s *Store) GetSegmentAssets(ctx context.Context, segmentID, assetType string) ([]*Asset, error) {
	rows, err := s.query(ctx,
		`SELECT a.id, a.bucket, a.key, a.asset_type, a.content_type, a.bytes, a.sha256, a.created_at
		 FROM segment_assets sa JOIN assets a ON a.id = sa.asset_id
		 WHERE sa.segment_id = ? AND a.asset_type = ?
		 ORDER BY a.key ASC`,
		segmentID, assetType,
	)
	if err != nil {
		return nil, fmt.Errorf("get segment assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, scanErr := scanAsset(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan asset: %w", scanErr)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// GetAssetByKey looks an asset up by its content-store key. Returns nil when
// absent (used as the existence probe for derived artifacts).
func (s *Store) GetAssetByKey(ctx context.Context, key string) (*Asset, error) {
	row := s.queryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE key = ?`, key)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset by key: %w", err)
	}
	return a, nil
}

// UpsertAsset creates or refreshes an asset row keyed by its store key and
// returns the stored id. Safe to call twice for the same key (idempotent
// artifact re-write under force).
func (s *Store) UpsertAsset(ctx context.Context, a Asset) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	existing, err := s.GetAssetByKey(ctx, a.Key)
	if err != nil {
		return "", err
	}
	if existing != nil {
		_, err = s.exec(ctx,
			`UPDATE assets SET content_type = ?, bytes = ?, sha256 = ? WHERE key = ?`,
			a.ContentType, a.Bytes, a.SHA256, a.Key,
		)
		if err != nil {
			return "", fmt.Errorf("update asset: %w", err)
		}
		return existing.ID, nil
	}

	_, err = s.exec(ctx,
		`INSERT INTO assets (id, bucket, key, asset_type, content_type, bytes, sha256, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Bucket, a.Key, a.AssetType, a.ContentType, a.Bytes, a.SHA256, formatTime(a.CreatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert asset: %w", err)
	}
	return a.ID, nil
}

// LinkSegmentAsset associates an asset with a segment under a role.
// Re-linking the same pair is a no-op.
func (s *Store) LinkSegmentAsset(ctx context.Context, segmentID, assetID, role string) error {
	_, err := s.exec(ctx,
		`INSERT INTO segment_assets (segment_id, asset_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (segment_id, asset_id) DO NOTHING`,
		segmentID, assetID, role,
	)
	if err != nil {
		return fmt.Errorf("link segment asset: %w", err)
	}
	return nil
}

// HasSummary reports whether a summary row exists for the segment.
func (s *Store) HasSummary(ctx context.Context, segmentID string) (bool, error) {
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM segment_summaries WHERE segment_id = ?`, segmentID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("probe summary: %w", err)
	}
	return n > 0, nil
}

// UpsertSummary writes the per-segment summary row, keyed by segment id.
func (s *Store) UpsertSummary(ctx context.Context, row SummaryRow) error {
	_, err := s.exec(ctx,
		`INSERT INTO segment_summaries (segment_id, summary, summary_short, events, beats, key_dialogue, tone, model_version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (segment_id) DO UPDATE SET
			summary = excluded.summary,
			summary_short = excluded.summary_short,
			events = excluded.events,
			beats = excluded.beats,
			key_dialogue = excluded.key_dialogue,
			tone = excluded.tone,
			model_version = excluded.model_version,
			updated_at = excluded.updated_at`,
		row.SegmentID, row.Summary, row.SummaryShort,
		jsonOrDefault(row.Events, "[]"), jsonOrDefault(row.Beats, "[]"),
		jsonOrDefault(row.KeyDialogue, "[]"), jsonOrDefault(row.Tone, "{}"),
		row.ModelVersion, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// GetSummary fetches the summary row for a segment, or ErrNotFound.
func (s *Store) GetSummary(ctx context.Context, segmentID string) (*SummaryRow, error) {
	row := s.queryRow(ctx,
		`SELECT segment_id, summary, summary_short, events, beats, key_dialogue, tone, model_version
		 FROM segment_summaries WHERE segment_id = ?`,
		segmentID,
	)
	var (
		out          SummaryRow
		events       string
		beats        string
		dialogue     string
		tone         string
		modelVersion sql.NullString
	)
	err := row.Scan(&out.SegmentID, &out.Summary, &out.SummaryShort, &events, &beats, &dialogue, &tone, &modelVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	out.Events = json.RawMessage(events)
	out.Beats = json.RawMessage(beats)
	out.KeyDialogue = json.RawMessage(dialogue)
	out.Tone = json.RawMessage(tone)
	out.ModelVersion = modelVersion.String
	return &out, nil
}

// HasEntities reports whether an entities row exists for the segment.
func (s *Store) HasEntities(ctx context.Context, segmentID string) (bool, error) {
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM segment_entities WHERE segment_id = ?`, segmentID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("probe entities: %w", err)
	}
	return n > 0, nil
}

// UpsertEntities writes the per-segment entity extraction, keyed by segment id.
func (s *Store) UpsertEntities(ctx context.Context, row EntitiesRow) error {
	_, err := s.exec(ctx,
		`INSERT INTO segment_entities (segment_id, entities, model_version, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (segment_id) DO UPDATE SET
			entities = excluded.entities,
			model_version = excluded.model_version,
			updated_at = excluded.updated_at`,
		row.SegmentID, jsonOrDefault(row.Entities, "{}"), row.ModelVersion, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert entities: %w", err)
	}
	return nil
}

// ListSegmentsMissingOutputs returns segments of the given media types with
// no summary or no entities row. Used by the enqueue command.
func (s *Store) ListSegmentsMissingOutputs(ctx context.Context) ([]*SegmentWithEdition, error) {
	rows, err := s.query(ctx,
		`SELECT s.id, s.edition_id, s.segment_type, s.number, e.id, e.work_id, e.media_type
		 FROM segments s
		 JOIN editions e ON e.id = s.edition_id
		 LEFT JOIN segment_summaries ss ON ss.segment_id = s.id
		 LEFT JOIN segment_entities se ON se.segment_id = s.id
		 WHERE ss.segment_id IS NULL OR se.segment_id IS NULL
		 ORDER BY e.work_id, s.number`,
	)
	if err != nil {
		return nil, fmt.Errorf("list segments missing outputs: %w", err)
	}
	defer rows.Close()

	var out []*SegmentWithEdition
	for rows.Next() {
		var seg SegmentWithEdition
		if err := rows.Scan(
			&seg.ID, &seg.EditionID, &seg.SegmentType, &seg.Number,
			&seg.Edition.ID, &seg.Edition.WorkID, &seg.Edition.MediaType,
		); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, &seg)
	}
	return out, rows.Err()
}

func jsonOrDefault(raw []byte, def string) string {
	if len(raw) == 0 {
		return def
	}
	return string(raw)
}
