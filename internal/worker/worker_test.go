package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chapterbridge/packworker/internal/ledger"
	"github.com/chapterbridge/packworker/internal/pipeline"
)

func newTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedJob(t *testing.T, store *ledger.Store, segID string) *ledger.Job {
	t.Helper()
	ctx := context.Background()
	editionID := segID + "-edition"
	if err := store.InsertEdition(ctx, ledger.Edition{
		ID: editionID, WorkID: segID + "-work", MediaType: "novel",
	}); err != nil {
		t.Fatalf("insert edition: %v", err)
	}
	if err := store.InsertSegment(ctx, ledger.Segment{
		ID: segID, EditionID: editionID, SegmentType: "chapter", Number: 1,
	}); err != nil {
		t.Fatalf("insert segment: %v", err)
	}
	job, err := store.EnqueueJob(ctx, segID, false)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

func jobStatus(t *testing.T, store *ledger.Store, id string) *ledger.Job {
	t.Helper()
	job, err := store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return job
}

func TestFinishSuccess(t *testing.T) {
	store := newTestStore(t)
	m := NewLeaseManager(store, 2, nil)
	ctx := context.Background()

	seedJob(t, store, "seg-1")
	job, err := m.ClaimNext(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: %v %v", job, err)
	}

	res := pipeline.Result{Outcome: pipeline.OutcomeSuccess, Output: []byte(`{"skipped":false}`)}
	if err := m.Finish(ctx, job, res); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got := jobStatus(t, store, job.ID)
	if got.Status != ledger.StatusSuccess {
		t.Errorf("status = %s", got.Status)
	}
	if got.FinishedAt == nil || len(got.Output) == 0 {
		t.Error("terminal fields not recorded")
	}
}

func TestFinishFatalFailsImmediately(t *testing.T) {
	store := newTestStore(t)
	m := NewLeaseManager(store, 5, nil)
	ctx := context.Background()

	seedJob(t, store, "seg-1")
	job, _ := m.ClaimNext(ctx)

	res := pipeline.Result{Outcome: pipeline.OutcomeFatal, Err: errors.New("no raw assets")}
	if err := m.Finish(ctx, job, res); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got := jobStatus(t, store, job.ID)
	if got.Status != ledger.StatusFailed {
		t.Errorf("status = %s, fatal must not requeue", got.Status)
	}
	if got.Error == "" {
		t.Error("error message not recorded")
	}
}

func TestFinishRetryableRequeuesThenFails(t *testing.T) {
	store := newTestStore(t)
	m := NewLeaseManager(store, 2, nil)
	ctx := context.Background()

	seedJob(t, store, "seg-1")

	// Attempt 1 fails retryable: back to the queue, attempt preserved.
	job, _ := m.ClaimNext(ctx)
	if job.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", job.Attempt)
	}
	res := pipeline.Result{Outcome: pipeline.OutcomeRetryable, Err: errors.New("backend unavailable")}
	if err := m.Finish(ctx, job, res); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got := jobStatus(t, store, job.ID)
	if got.Status != ledger.StatusQueued || got.Attempt != 1 {
		t.Fatalf("after requeue: status=%s attempt=%d", got.Status, got.Attempt)
	}

	// Attempt 2 fails retryable: budget spent, terminal failure.
	job, _ = m.ClaimNext(ctx)
	if job.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", job.Attempt)
	}
	if err := m.Finish(ctx, job, res); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got = jobStatus(t, store, job.ID)
	if got.Status != ledger.StatusFailed {
		t.Errorf("status = %s, want failed after retries exhausted", got.Status)
	}
}

func TestReclaimStaleRequeuesAndFails(t *testing.T) {
	store := newTestStore(t)
	m := NewLeaseManager(store, 2, nil)
	ctx := context.Background()

	// Two leased jobs abandoned mid-run. seg-1 is on its first attempt and
	// gets another chance; seg-2 has spent its budget.
	fresh := seedJob(t, store, "seg-1")
	spent := seedJob(t, store, "seg-2")

	j1, _ := m.ClaimNext(ctx)
	j2, _ := m.ClaimNext(ctx)
	if j1 == nil || j2 == nil {
		t.Fatal("claims failed")
	}
	// Burn seg-2's first attempt, then re-claim so it sits at the budget.
	second := j1
	if second.SegmentID == "seg-1" {
		second = j2
	}
	if err := store.RequeueJob(ctx, second.ID, "simulated failure"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if reclaimed, _ := store.ClaimNextQueuedJob(ctx, ledger.JobTypeSummarize, ledger.TaskNLPPack); reclaimed == nil || reclaimed.Attempt != 2 {
		t.Fatalf("re-claim of seg-2 failed: %+v", reclaimed)
	}

	// A negative timeout makes every running lease stale.
	requeued, failed, err := m.ReclaimStale(ctx, -time.Second)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if requeued != 1 || failed != 1 {
		t.Fatalf("requeued=%d failed=%d, want 1/1", requeued, failed)
	}

	gotFresh := jobStatus(t, store, fresh.ID)
	if gotFresh.Status != ledger.StatusQueued || gotFresh.Attempt != 1 {
		t.Errorf("fresh job: status=%s attempt=%d, want queued/1", gotFresh.Status, gotFresh.Attempt)
	}
	gotSpent := jobStatus(t, store, spent.ID)
	if gotSpent.Status != ledger.StatusFailed {
		t.Errorf("spent job: status=%s, want failed", gotSpent.Status)
	}
	if gotSpent.Error != "lease timeout, retries exhausted" {
		t.Errorf("spent job error = %q", gotSpent.Error)
	}
}

func TestReclaimStaleIgnoresFreshLeases(t *testing.T) {
	store := newTestStore(t)
	m := NewLeaseManager(store, 2, nil)
	ctx := context.Background()

	seedJob(t, store, "seg-1")
	if _, err := m.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	requeued, failed, err := m.ReclaimStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if requeued != 0 || failed != 0 {
		t.Errorf("fresh lease reclaimed: requeued=%d failed=%d", requeued, failed)
	}
}

// stubExecutor returns scripted results keyed by segment id.
type stubExecutor struct {
	mu      sync.Mutex
	results map[string]pipeline.Result
	runs    []string
}

func (s *stubExecutor) Run(ctx context.Context, job *ledger.Job) pipeline.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, job.SegmentID)
	if res, ok := s.results[job.SegmentID]; ok {
		return res
	}
	return pipeline.Result{Outcome: pipeline.OutcomeSuccess, Output: []byte(`{}`)}
}

func (s *stubExecutor) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func TestRunnerDrainsQueueAndStopsAtBudget(t *testing.T) {
	store := newTestStore(t)
	stub := &stubExecutor{}
	runner := NewRunner(RunnerConfig{
		Leases:       NewLeaseManager(store, 2, nil),
		Executor:     stub,
		NumWorkers:   2,
		PollInterval: 10 * time.Millisecond,
		MaxJobs:      3,
	})

	for _, seg := range []string{"seg-1", "seg-2", "seg-3"} {
		seedJob(t, store, seg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	if runner.Completed() != 3 {
		t.Fatalf("completed = %d, want 3", runner.Completed())
	}

	counts, err := store.CountJobs(ctx, ledger.JobTypeSummarize)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[ledger.StatusSuccess] != 3 {
		t.Errorf("counts = %v, want 3 success", counts)
	}
}

func TestRunnerSurvivesJobFailures(t *testing.T) {
	store := newTestStore(t)
	stub := &stubExecutor{results: map[string]pipeline.Result{
		"seg-bad": {Outcome: pipeline.OutcomeFatal, Err: errors.New("corrupt input")},
	}}
	runner := NewRunner(RunnerConfig{
		Leases:       NewLeaseManager(store, 2, nil),
		Executor:     stub,
		NumWorkers:   1,
		PollInterval: 10 * time.Millisecond,
		MaxJobs:      2,
	})

	seedJob(t, store, "seg-bad")
	seedJob(t, store, "seg-good")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = runner.Run(ctx)

	if stub.runCount() != 2 {
		t.Fatalf("runs = %d, a failure killed the loop", stub.runCount())
	}
	counts, _ := store.CountJobs(ctx, ledger.JobTypeSummarize)
	if counts[ledger.StatusFailed] != 1 || counts[ledger.StatusSuccess] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	runner := NewRunner(RunnerConfig{
		Leases:       NewLeaseManager(store, 2, nil),
		Executor:     &stubExecutor{},
		NumWorkers:   2,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

// blockingExecutor hangs until its context is done, as a wedged inference
// call would, then reports the cancellation.
type blockingExecutor struct {
	mu   sync.Mutex
	errs []error
}

func (b *blockingExecutor) Run(ctx context.Context, job *ledger.Job) pipeline.Result {
	<-ctx.Done()
	b.mu.Lock()
	b.errs = append(b.errs, ctx.Err())
	b.mu.Unlock()
	return pipeline.Result{Outcome: pipeline.OutcomeRetryable, Output: []byte(`{}`), Err: ctx.Err()}
}

func TestRunnerJobTimeoutCancelsAndResolvesLease(t *testing.T) {
	store := newTestStore(t)
	exec := &blockingExecutor{}
	runner := NewRunner(RunnerConfig{
		Leases:       NewLeaseManager(store, 2, nil),
		Executor:     exec,
		NumWorkers:   1,
		PollInterval: 10 * time.Millisecond,
		JobTimeout:   20 * time.Millisecond,
		MaxJobs:      1,
	})

	job := seedJob(t, store, "seg-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = runner.Run(ctx)

	// The job deadline fired, not the outer context.
	exec.mu.Lock()
	errs := exec.errs
	exec.mu.Unlock()
	if len(errs) != 1 || !errors.Is(errs[0], context.DeadlineExceeded) {
		t.Fatalf("executor errors = %v, want one deadline exceeded", errs)
	}

	// The lease was still resolved: the terminal write has its own grace
	// window, so the timed-out job goes back to the queue.
	got := jobStatus(t, store, job.ID)
	if got.Status != ledger.StatusQueued {
		t.Fatalf("status = %s, want queued after timed-out attempt", got.Status)
	}
}

func TestRunnerReclaimsOnStartup(t *testing.T) {
	store := newTestStore(t)

	// A job left running by a crashed worker.
	seedJob(t, store, "seg-1")
	leases := NewLeaseManager(store, 2, nil)
	if _, err := leases.ClaimNext(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	stub := &stubExecutor{}
	runner := NewRunner(RunnerConfig{
		Leases:       leases,
		Executor:     stub,
		NumWorkers:   1,
		PollInterval: 10 * time.Millisecond,
		LeaseTimeout: -time.Second,
		MaxJobs:      1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = runner.Run(ctx)

	if stub.runCount() != 1 {
		t.Fatalf("reclaimed job was not re-run (runs = %d)", stub.runCount())
	}
	counts, _ := store.CountJobs(ctx, ledger.JobTypeSummarize)
	if counts[ledger.StatusSuccess] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
