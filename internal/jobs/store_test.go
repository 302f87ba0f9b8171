package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clipforge/clipforge-agent/internal/db"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupStore(t *testing.T, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewStore(database.Conn(), nil, opts...), clock
}

func enqueueTestJob(t *testing.T, store *Store) string {
	t.Helper()
	id, err := store.EnqueueAnalysis(context.Background(), AnalysisPayload{
		ProjectID: "proj-1",
		VideoPath: "/videos/demo.mp4",
	})
	if err != nil {
		t.Fatalf("EnqueueAnalysis() error = %v", err)
	}
	return id
}

func TestStore_EnqueueAndLease(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	id := enqueueTestJob(t, store)

	job, err := store.Lease(ctx, TypeAnalysis, "worker-1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if job == nil {
		t.Fatal("Lease() returned nil, want job")
	}
	if job.ID != id {
		t.Errorf("job.ID = %s, want %s", job.ID, id)
	}
	if job.Status != StatusLeased {
		t.Errorf("job.Status = %s, want leased", job.Status)
	}
	if job.Attempt != 1 {
		t.Errorf("job.Attempt = %d, want 1", job.Attempt)
	}
	if job.LeasedBy != "worker-1" {
		t.Errorf("job.LeasedBy = %s, want worker-1", job.LeasedBy)
	}

	payload, err := DecodeAnalysisPayload(job.Payload)
	if err != nil {
		t.Fatalf("DecodeAnalysisPayload() error = %v", err)
	}
	if payload.ProjectID != "proj-1" {
		t.Errorf("payload.ProjectID = %s, want proj-1", payload.ProjectID)
	}

	// The job is held; nothing else is leasable.
	second, err := store.Lease(ctx, TypeAnalysis, "worker-2", 5*time.Minute)
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if second != nil {
		t.Errorf("second Lease() = %v, want nil", second.ID)
	}
}

func TestStore_Lease_EmptyQueue(t *testing.T) {
	store, _ := setupStore(t)

	job, err := store.Lease(context.Background(), TypeAnalysis, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if job != nil {
		t.Errorf("Lease() on empty queue = %v, want nil", job.ID)
	}
}

func TestStore_Lease_TypeIsolation(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	enqueueTestJob(t, store)

	job, err := store.Lease(ctx, TypeClipGeneration, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if job != nil {
		t.Errorf("Lease(clip-generation) claimed an analysis job")
	}
}

func TestStore_Lease_OldestFirst(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	first := enqueueTestJob(t, store)
	enqueueTestJob(t, store)

	job, err := store.Lease(ctx, TypeAnalysis, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if job == nil || job.ID != first {
		t.Errorf("Lease() returned %v, want oldest job %s", job, first)
	}
}

func TestStore_Lease_Concurrent(t *testing.T) {
	store, _ := setupStore(t)
	enqueueTestJob(t, store)

	const workers = 8
	var wg sync.WaitGroup
	claims := make(chan string, workers)

	for i := 0; i < workers; i++ {
		workerID := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := store.Lease(context.Background(), TypeAnalysis, workerID, time.Minute)
			if err != nil {
				t.Errorf("Lease() error = %v", err)
				return
			}
			if job != nil {
				claims <- workerID
			}
		}()
	}
	wg.Wait()
	close(claims)

	var winners []string
	for w := range claims {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Errorf("job claimed by %d workers %v, want exactly 1", len(winners), winners)
	}
}

func TestStore_Lease_ReclaimsExpired(t *testing.T) {
	store, clock := setupStore(t)
	ctx := context.Background()

	id := enqueueTestJob(t, store)

	first, err := store.Lease(ctx, TypeAnalysis, "worker-1", 5*time.Minute)
	if err != nil || first == nil {
		t.Fatalf("Lease() = %v, %v", first, err)
	}

	// Still within the lease: no reclaim.
	clock.Advance(4 * time.Minute)
	held, err := store.Lease(ctx, TypeAnalysis, "worker-2", 5*time.Minute)
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if held != nil {
		t.Fatal("Lease() reclaimed a live lease")
	}

	clock.Advance(2 * time.Minute)
	reclaimed, err := store.Lease(ctx, TypeAnalysis, "worker-2", 5*time.Minute)
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if reclaimed == nil || reclaimed.ID != id {
		t.Fatalf("Lease() = %v, want reclaimed job %s", reclaimed, id)
	}
	if reclaimed.Attempt != 2 {
		t.Errorf("reclaimed attempt = %d, want 2", reclaimed.Attempt)
	}
	if reclaimed.LeasedBy != "worker-2" {
		t.Errorf("reclaimed leased_by = %s, want worker-2", reclaimed.LeasedBy)
	}

	// The original holder lost every guarded operation.
	if err := store.Heartbeat(ctx, id, "worker-1", 50, time.Minute); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("stale Heartbeat() error = %v, want ErrLeaseLost", err)
	}
	if err := store.Complete(ctx, id, "worker-1", nil); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("stale Complete() error = %v, want ErrLeaseLost", err)
	}
	if _, err := store.Fail(ctx, id, "worker-1", errors.New("boom"), true); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("stale Fail() error = %v, want ErrLeaseLost", err)
	}
}

func TestStore_Heartbeat_MonotonicProgress(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	id := enqueueTestJob(t, store)
	if _, err := store.Lease(ctx, TypeAnalysis, "worker-1", time.Minute); err != nil {
		t.Fatalf("Lease() error = %v", err)
	}

	if err := store.Heartbeat(ctx, id, "worker-1", 70, time.Minute); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	// A stale, lower report must not move progress backwards.
	if err := store.Heartbeat(ctx, id, "worker-1", 30, time.Minute); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}

	job, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Progress != 70 {
		t.Errorf("progress = %d, want 70", job.Progress)
	}

	if err := store.Heartbeat(ctx, id, "worker-1", 250, time.Minute); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	job, _ = store.Get(ctx, id)
	if job.Progress != 100 {
		t.Errorf("progress = %d, want clamped to 100", job.Progress)
	}
}

func TestStore_Complete_FreezesJob(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	id := enqueueTestJob(t, store)
	if _, err := store.Lease(ctx, TypeAnalysis, "worker-1", time.Minute); err != nil {
		t.Fatalf("Lease() error = %v", err)
	}

	if err := store.Complete(ctx, id, "worker-1", AnalysisResult{SceneCount: 30, ClipCount: 4}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	job, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}
	if job.LeasedBy != "" {
		t.Errorf("leased_by = %s, want cleared", job.LeasedBy)
	}

	// A straggling heartbeat after completion is rejected and changes nothing.
	if err := store.Heartbeat(ctx, id, "worker-1", 10, time.Minute); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("Heartbeat() after completion error = %v, want ErrLeaseLost", err)
	}
	job, _ = store.Get(ctx, id)
	if job.Progress != 100 || job.Status != StatusCompleted {
		t.Errorf("terminal job mutated: status=%s progress=%d", job.Status, job.Progress)
	}
}

func TestStore_Fail_RetriesWithBackoff(t *testing.T) {
	base := 30 * time.Second
	store, clock := setupStore(t, WithRetryBaseDelay(base))
	ctx := context.Background()

	id := enqueueTestJob(t, store)

	// Attempt 1 fails: requeued with the base delay.
	if _, err := store.Lease(ctx, TypeAnalysis, "worker-1", time.Minute); err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	status, err := store.Fail(ctx, id, "worker-1", errors.New("ffmpeg exploded"), true)
	if err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if status != StatusQueued {
		t.Fatalf("status after first failure = %s, want queued", status)
	}

	if job, _ := store.Lease(ctx, TypeAnalysis, "worker-1", time.Minute); job != nil {
		t.Fatal("Lease() claimed a job still in backoff")
	}
	clock.Advance(base)
	job, err := store.Lease(ctx, TypeAnalysis, "worker-1", time.Minute)
	if err != nil || job == nil {
		t.Fatalf("Lease() after backoff = %v, %v", job, err)
	}
	if job.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", job.Attempt)
	}
	if job.LastError != "ffmpeg exploded" {
		t.Errorf("last_error = %q, want recorded failure", job.LastError)
	}

	// Attempt 2 fails: the delay doubles.
	if status, err = store.Fail(ctx, id, "worker-1", errors.New("again"), true); err != nil || status != StatusQueued {
		t.Fatalf("Fail() = %s, %v", status, err)
	}
	clock.Advance(base)
	if job, _ := store.Lease(ctx, TypeAnalysis, "worker-1", time.Minute); job != nil {
		t.Fatal("Lease() claimed a job before the doubled backoff elapsed")
	}
	clock.Advance(base)
	job, err = store.Lease(ctx, TypeAnalysis, "worker-1", time.Minute)
	if err != nil || job == nil {
		t.Fatalf("Lease() after doubled backoff = %v, %v", job, err)
	}
	if job.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", job.Attempt)
	}
}

func TestStore_Fail_DeadLettersAtMaxAttempts(t *testing.T) {
	store, clock := setupStore(t, WithMaxAttempts(3), WithRetryBaseDelay(time.Second))
	ctx := context.Background()

	id := enqueueTestJob(t, store)

	for attempt := 1; attempt <= 3; attempt++ {
		job, err := store.Lease(ctx, TypeAnalysis, "worker-1", time.Minute)
		if err != nil || job == nil {
			t.Fatalf("Lease() attempt %d = %v, %v", attempt, job, err)
		}
		status, err := store.Fail(ctx, id, "worker-1", errors.New("persistent failure"), true)
		if err != nil {
			t.Fatalf("Fail() attempt %d error = %v", attempt, err)
		}
		if attempt < 3 && status != StatusQueued {
			t.Errorf("attempt %d status = %s, want queued", attempt, status)
		}
		if attempt == 3 && status != StatusFailed {
			t.Errorf("attempt 3 status = %s, want failed", status)
		}
		clock.Advance(time.Minute)
	}

	job, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.LastError != "persistent failure" {
		t.Errorf("last_error = %q", job.LastError)
	}

	if leased, _ := store.Lease(ctx, TypeAnalysis, "worker-1", time.Minute); leased != nil {
		t.Error("Lease() claimed a dead-lettered job")
	}
}

func TestStore_Fail_NonRetryableFailsImmediately(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	id := enqueueTestJob(t, store)
	if _, err := store.Lease(ctx, TypeAnalysis, "worker-1", time.Minute); err != nil {
		t.Fatalf("Lease() error = %v", err)
	}

	status, err := store.Fail(ctx, id, "worker-1", errors.New("bad clip bounds"), false)
	if err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if status != StatusFailed {
		t.Errorf("status = %s, want failed on first non-retryable attempt", status)
	}
}

func TestStore_Enqueue_ValidatesPayload(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	if _, err := store.EnqueueAnalysis(ctx, AnalysisPayload{VideoPath: "/v.mp4"}); !errors.Is(err, ErrValidation) {
		t.Errorf("EnqueueAnalysis() without project error = %v, want ErrValidation", err)
	}
	if _, err := store.EnqueueClip(ctx, ClipPayload{ProjectID: "p", VideoPath: "/v.mp4"}); !errors.Is(err, ErrValidation) {
		t.Errorf("EnqueueClip() without clip error = %v, want ErrValidation", err)
	}
}

func TestStore_List_NewestFirst(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	enqueueTestJob(t, store)
	second := enqueueTestJob(t, store)

	list, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List() returned %d jobs, want 2", len(list))
	}
	if list[0].ID != second {
		t.Errorf("List()[0] = %s, want newest job %s", list[0].ID, second)
	}
}

func TestStore_Get_Missing(t *testing.T) {
	store, _ := setupStore(t)

	job, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job != nil {
		t.Errorf("Get() = %v, want nil for missing job", job)
	}
}
