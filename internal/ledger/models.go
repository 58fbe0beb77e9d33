package ledger

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a pipeline job.
type JobStatus string

const (
	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"
	StatusSuccess JobStatus = "success"
	StatusFailed  JobStatus = "failed"
)

// JobType identifies the worker family a job belongs to.
const (
	JobTypeSummarize = "summarize"
	TaskNLPPack      = "nlp_pack_v1"
)

// JobInput is the task parameter payload, validated at the ledger boundary.
type JobInput struct {
	Task  string `json:"task"`
	Force bool   `json:"force"`
}

// Job is one unit of work on the shared queue.
type Job struct {
	ID        string
	JobType   string
	Task      string
	Status    JobStatus
	SegmentID string
	EditionID string
	WorkID    string
	Input     JobInput
	// Output is the result payload written on success. Its shape is owned by
	// the pipeline; the ledger stores it opaquely.
	Output     json.RawMessage
	Attempt    int
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Segment is a single chapter/episode of an edition.
type Segment struct {
	ID          string
	EditionID   string
	SegmentType string
	Number      int
}

// Edition binds a segment to its work and media type.
type Edition struct {
	ID        string
	WorkID    string
	MediaType string
}

// SegmentWithEdition is the join the pipeline needs to route a job.
type SegmentWithEdition struct {
	Segment
	Edition Edition
}

// Asset is a stored object reference (raw or derived content).
type Asset struct {
	ID          string
	Bucket      string
	Key         string
	AssetType   string
	ContentType string
	Bytes       int64
	SHA256      string
	CreatedAt   time.Time
}

// SummaryRow is the per-segment narrative summary.
type SummaryRow struct {
	SegmentID    string
	Summary      string
	SummaryShort string
	Events       json.RawMessage
	Beats        json.RawMessage
	KeyDialogue  json.RawMessage
	Tone         json.RawMessage
	ModelVersion string
}

// EntitiesRow is the per-segment entity extraction, stored as one JSON doc.
type EntitiesRow struct {
	SegmentID    string
	Entities     json.RawMessage
	ModelVersion string
}

// CharacterFact is one provenance-tagged fact about a character.
type CharacterFact struct {
	Text    string `json:"fact"`
	Chapter string `json:"chapter,omitempty"`
	Segment int    `json:"segment,omitempty"`
	Source  string `json:"source,omitempty"`
}

// CharacterRecord is the per-work roster entry. Version implements optimistic
// concurrency: updates must carry the version they read, and the store
// rejects the write if the row moved underneath them.
type CharacterRecord struct {
	ID           string
	WorkID       string
	Name         string
	Aliases      []string
	Facts        []CharacterFact
	Description  string
	ModelVersion string
	Version      int64
}
