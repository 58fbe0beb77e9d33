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

const jobColumns = `id, job_type, task, status, segment_id, edition_id, work_id,
	input, output, attempt, error, created_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j          Job
		status     string
		editionID  sql.NullString
		workID     sql.NullString
		inputRaw   string
		outputRaw  sql.NullString
		errMsg     sql.NullString
		createdAt  string
		startedAt  sql.NullString
		finishedAt sql.NullString
	)
	if err := row.Scan(
		&j.ID, &j.JobType, &j.Task, &status, &j.SegmentID, &editionID, &workID,
		&inputRaw, &outputRaw, &j.Attempt, &errMsg, &createdAt, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	j.EditionID = editionID.String
	j.WorkID = workID.String
	j.Error = errMsg.String
	if err := json.Unmarshal([]byte(inputRaw), &j.Input); err != nil {
		return nil, fmt.Errorf("decode job input: %w", err)
	}
	if outputRaw.Valid && outputRaw.String != "" {
		j.Output = json.RawMessage(outputRaw.String)
	}
	var err error
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if j.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("decode started_at: %w", err)
	}
	if j.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, fmt.Errorf("decode finished_at: %w", err)
	}
	return &j, nil
}

// ClaimNextQueuedJob atomically claims the oldest queued job for the given
// job type and task. The claim is a single conditional update so that two
// workers can never both win the same row. Returns nil when the queue is
// empty.
func (s *Store) ClaimNextQueuedJob(ctx context.Context, jobType, task string) (*Job, error) {
	subselect := `SELECT id FROM pipeline_jobs
		WHERE status = 'queued' AND job_type = ? AND task = ?
		ORDER BY created_at ASC LIMIT 1`
	if s.dialect == DialectPostgres {
		subselect += ` FOR UPDATE SKIP LOCKED`
	}

	query := `UPDATE pipeline_jobs
		SET status = 'running', started_at = ?, attempt = attempt + 1
		WHERE id = (` + subselect + `) AND status = 'queued'
		RETURNING ` + jobColumns

	var job *Job
	err := s.retryOnBusy(ctx, func() error {
		row := s.queryRow(ctx, query, formatTime(time.Now()), jobType, task)
		j, scanErr := scanJob(row)
		if scanErr != nil {
			return scanErr
		}
		job = j
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.queryRow(ctx, `SELECT `+jobColumns+` FROM pipeline_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// SetJobSuccess records terminal success with the result payload.
func (s *Store) SetJobSuccess(ctx context.Context, id string, output json.RawMessage) error {
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	_, err := s.exec(ctx,
		`UPDATE pipeline_jobs SET status = 'success', finished_at = ?, output = ?, error = NULL
		 WHERE id = ?`,
		formatTime(time.Now()), string(output), id,
	)
	if err != nil {
		return fmt.Errorf("set job success: %w", err)
	}
	return nil
}

// SetJobFailed records terminal failure with a human-readable error. A
// partial output payload (stats) may still be attached.
func (s *Store) SetJobFailed(ctx context.Context, id, errMsg string, output json.RawMessage) error {
	var out any
	if len(output) > 0 {
		out = string(output)
	}
	_, err := s.exec(ctx,
		`UPDATE pipeline_jobs SET status = 'failed', finished_at = ?, error = ?, output = ?
		 WHERE id = ?`,
		formatTime(time.Now()), errMsg, out, id,
	)
	if err != nil {
		return fmt.Errorf("set job failed: %w", err)
	}
	return nil
}

// RequeueJob returns a running job to the queue after a retryable failure.
// The attempt counter keeps its value: it already reflects the attempt that
// just failed.
func (s *Store) RequeueJob(ctx context.Context, id, reason string) error {
	_, err := s.exec(ctx,
		`UPDATE pipeline_jobs SET status = 'queued', started_at = NULL, error = ?
		 WHERE id = ? AND status = 'running'`,
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// FindStaleRunningJobs returns running jobs whose lease started before the
// cutoff. These belong to workers presumed dead.
func (s *Store) FindStaleRunningJobs(ctx context.Context, jobType string, cutoff time.Time) ([]*Job, error) {
	rows, err := s.query(ctx,
		`SELECT `+jobColumns+` FROM pipeline_jobs
		 WHERE status = 'running' AND job_type = ? AND started_at IS NOT NULL AND started_at < ?
		 ORDER BY started_at ASC`,
		jobType, formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("find stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan stale job: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// EnqueueJob creates a queued job for a segment. Routing fields are resolved
// from the segment so claimers never need the join.
func (s *Store) EnqueueJob(ctx context.Context, segmentID string, force bool) (*Job, error) {
	seg, err := s.GetSegmentWithEdition(ctx, segmentID)
	if err != nil {
		return nil, err
	}

	input := JobInput{Task: TaskNLPPack, Force: force}
	inputRaw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode job input: %w", err)
	}

	job := &Job{
		ID:        uuid.NewString(),
		JobType:   JobTypeSummarize,
		Task:      TaskNLPPack,
		Status:    StatusQueued,
		SegmentID: segmentID,
		EditionID: seg.EditionID,
		WorkID:    seg.Edition.WorkID,
		Input:     input,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.exec(ctx,
		`INSERT INTO pipeline_jobs (id, job_type, task, status, segment_id, edition_id, work_id, input, attempt, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		job.ID, job.JobType, job.Task, string(job.Status), job.SegmentID, job.EditionID, job.WorkID,
		string(inputRaw), formatTime(job.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// CountJobs returns the number of jobs per status for the given job type.
func (s *Store) CountJobs(ctx context.Context, jobType string) (map[JobStatus]int, error) {
	rows, err := s.query(ctx,
		`SELECT status, COUNT(*) FROM pipeline_jobs WHERE job_type = ? GROUP BY status`,
		jobType,
	)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[JobStatus(status)] = n
	}
	return counts, rows.Err()
}
