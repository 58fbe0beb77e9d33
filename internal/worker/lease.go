// Package worker runs the claim/execute/finish loop over the shared job
// queue. A claim is a lease: exactly one worker holds a running job, the
// attempt counter ticks once per claim, and leases older than the timeout
// are reclaimed from workers presumed dead.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chapterbridge/packworker/internal/ledger"
	"github.com/chapterbridge/packworker/internal/pipeline"
)

// LeaseManager owns all job status transitions. The pipeline never touches
// job state; every terminal write funnels through Finish so the retry
// budget is enforced in exactly one place.
type LeaseManager struct {
	store       *ledger.Store
	maxAttempts int
	logger      *slog.Logger
}

// NewLeaseManager returns a lease manager. maxAttempts is the total number
// of claims a job may consume before a retryable failure becomes terminal.
func NewLeaseManager(store *ledger.Store, maxAttempts int, logger *slog.Logger) *LeaseManager {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseManager{store: store, maxAttempts: maxAttempts, logger: logger}
}

// ClaimNext leases the oldest queued job, or returns nil when the queue is
// empty.
func (m *LeaseManager) ClaimNext(ctx context.Context) (*ledger.Job, error) {
	return m.store.ClaimNextQueuedJob(ctx, ledger.JobTypeSummarize, ledger.TaskNLPPack)
}

// Finish resolves a held lease from a pipeline result. Success is terminal.
// A fatal result fails the job immediately. A retryable result goes back to
// the queue while attempts remain, keeping its attempt count, and fails
// once the budget is spent.
func (m *LeaseManager) Finish(ctx context.Context, job *ledger.Job, res pipeline.Result) error {
	logger := m.logger.With("job_id", job.ID, "attempt", job.Attempt)

	switch res.Outcome {
	case pipeline.OutcomeSuccess:
		logger.Info("job succeeded")
		return m.store.SetJobSuccess(ctx, job.ID, res.Output)

	case pipeline.OutcomeFatal:
		logger.Error("job failed permanently", "error", res.Err)
		return m.store.SetJobFailed(ctx, job.ID, errMessage(res.Err), res.Output)

	case pipeline.OutcomeRetryable:
		if job.Attempt < m.maxAttempts {
			logger.Warn("job failed, requeueing", "error", res.Err)
			return m.store.RequeueJob(ctx, job.ID, errMessage(res.Err))
		}
		logger.Error("job failed, retries exhausted", "error", res.Err)
		msg := fmt.Sprintf("retries exhausted after %d attempts: %s", job.Attempt, errMessage(res.Err))
		return m.store.SetJobFailed(ctx, job.ID, msg, res.Output)

	default:
		return fmt.Errorf("unknown outcome %q for job %s", res.Outcome, job.ID)
	}
}

// ReclaimStale sweeps running jobs whose lease started before now-timeout.
// Each is either requeued (attempts remain; the crashed claim already spent
// one) or failed outright. Returns how many jobs were requeued and failed.
func (m *LeaseManager) ReclaimStale(ctx context.Context, timeout time.Duration) (requeued, failed int, err error) {
	cutoff := time.Now().Add(-timeout)
	stale, err := m.store.FindStaleRunningJobs(ctx, ledger.JobTypeSummarize, cutoff)
	if err != nil {
		return 0, 0, err
	}

	for _, job := range stale {
		logger := m.logger.With("job_id", job.ID, "attempt", job.Attempt)
		if job.Attempt >= m.maxAttempts {
			logger.Error("stale lease, retries exhausted, failing job")
			if err := m.store.SetJobFailed(ctx, job.ID, "lease timeout, retries exhausted", job.Output); err != nil {
				return requeued, failed, err
			}
			failed++
			continue
		}
		logger.Warn("stale lease, requeueing job")
		if err := m.store.RequeueJob(ctx, job.ID, "lease timeout"); err != nil {
			return requeued, failed, err
		}
		requeued++
	}
	return requeued, failed, nil
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
