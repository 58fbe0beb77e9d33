package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chapterbridge/packworker/internal/ledger"
	"github.com/chapterbridge/packworker/internal/pipeline"
)

// Executor is the job-running side of the pipeline, narrowed for the loop.
type Executor interface {
	Run(ctx context.Context, job *ledger.Job) pipeline.Result
}

// Runner drives N worker slots over the shared queue until the context is
// cancelled or the per-run job budget is reached.
type Runner struct {
	leases   *LeaseManager
	executor Executor
	logger   *slog.Logger

	numWorkers   int
	pollInterval time.Duration
	jobTimeout   time.Duration
	leaseTimeout time.Duration
	// maxJobs stops the run after N completed jobs; 0 means run forever.
	maxJobs int

	completed atomic.Int64
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Leases   *LeaseManager
	Executor Executor
	Logger   *slog.Logger

	NumWorkers   int
	PollInterval time.Duration
	JobTimeout   time.Duration
	LeaseTimeout time.Duration
	MaxJobs      int
}

// NewRunner returns a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 3 * time.Second
	}
	return &Runner{
		leases:       cfg.Leases,
		executor:     cfg.Executor,
		logger:       logger.With("component", "worker"),
		numWorkers:   numWorkers,
		pollInterval: poll,
		jobTimeout:   cfg.JobTimeout,
		leaseTimeout: cfg.LeaseTimeout,
		maxJobs:      cfg.MaxJobs,
	}
}

// Completed reports how many jobs this run has finished (any terminal or
// requeued resolution).
func (r *Runner) Completed() int {
	return int(r.completed.Load())
}

// Run blocks until ctx is cancelled or the job budget is spent. One stale
// lease sweep runs at startup so jobs orphaned by a previous crash re-enter
// the queue before the slots start polling.
func (r *Runner) Run(ctx context.Context) error {
	if r.leaseTimeout > 0 {
		requeued, failed, err := r.leases.ReclaimStale(ctx, r.leaseTimeout)
		if err != nil {
			r.logger.Error("stale lease sweep failed", "error", err)
		} else if requeued+failed > 0 {
			r.logger.Info("reclaimed stale leases", "requeued", requeued, "failed", failed)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < r.numWorkers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			r.slotLoop(runCtx, cancel, slot)
		}(i)
	}
	wg.Wait()

	r.logger.Info("worker run finished", "jobs_completed", r.Completed())
	return ctx.Err()
}

// slotLoop is one worker slot: claim, execute, finish, repeat. An empty
// queue sleeps for the poll interval. Job failures never kill the loop.
func (r *Runner) slotLoop(ctx context.Context, stopAll context.CancelFunc, slot int) {
	logger := r.logger.With("slot", slot)

	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if r.budgetSpent() {
			stopAll()
			return
		}

		job, err := r.leases.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim failed", "error", err)
			r.sleep(ctx)
			continue
		}
		if job == nil {
			r.sleep(ctx)
			continue
		}

		logger.Info("claimed job", "job_id", job.ID, "segment_id", job.SegmentID, "attempt", job.Attempt)
		r.runOne(ctx, logger, job)

		if n := r.completed.Add(1); r.maxJobs > 0 && int(n) >= r.maxJobs {
			logger.Info("job budget reached, stopping", "max_jobs", r.maxJobs)
			stopAll()
			return
		}
	}
}

func (r *Runner) runOne(ctx context.Context, logger *slog.Logger, job *ledger.Job) {
	jobCtx := ctx
	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, r.jobTimeout)
		defer cancel()
	}

	res := r.executor.Run(jobCtx, job)

	// Finish must not be starved by the job timeout or a shutdown already in
	// progress; give the terminal write its own grace window.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := r.leases.Finish(finishCtx, job, res); err != nil {
		logger.Error("failed to record job result", "job_id", job.ID, "error", err)
	}
}

func (r *Runner) budgetSpent() bool {
	return r.maxJobs > 0 && int(r.completed.Load()) >= r.maxJobs
}

func (r *Runner) sleep(ctx context.Context) {
	select {
	case <-time.After(r.pollInterval):
	case <-ctx.Done():
	}
}
