package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keller/filmstrip/internal/config"
)

func testConfig() config.QueueConfig {
	return config.QueueConfig{
		MaxConcurrentJobs:        2,
		MaxPendingJobs:           50,
		MaxPreprocessWorkers:     4,
		DefaultPreprocessWorkers: 2,
		TokensPerMinute:          1_000_000,
		BaseTokensPerRequest:     9_000,
		TokensPerSegment:         450,
		LensCharsPerToken:        4,
		MaxLensTokenBonus:        2_000,
	}
}

func newTestQueue(t *testing.T, cfg config.QueueConfig) *Queue {
	t.Helper()
	q, err := New(zerolog.Nop(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { q.Shutdown(true) })
	return q
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentJobs = 0
	if _, err := New(zerolog.Nop(), cfg); err == nil {
		t.Error("expected error for zero workers")
	}

	cfg = testConfig()
	cfg.TokensPerMinute = 0
	if _, err := New(zerolog.Nop(), cfg); err == nil {
		t.Error("expected error for zero token budget")
	}
}

func TestExecuteReturnsResult(t *testing.T) {
	q := newTestQueue(t, testConfig())

	result, err := q.Execute(func() (any, error) { return 42, nil }, "answer")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result != 42 {
		t.Errorf("result %v, want 42", result)
	}
}

func TestExecutePropagatesError(t *testing.T) {
	q := newTestQueue(t, testConfig())

	boom := errors.New("boom")
	_, err := q.Execute(func() (any, error) { return nil, boom }, "failing")
	if !errors.Is(err, boom) {
		t.Errorf("error %v, want %v", err, boom)
	}
}

func TestJobsRunSequentiallyWithOneWorker(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentJobs = 1
	q := newTestQueue(t, cfg)

	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	first, err := q.Submit(func() (any, error) {
		record("first start")
		time.Sleep(50 * time.Millisecond)
		record("first finish")
		return nil, nil
	}, "first")
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}

	second, err := q.Submit(func() (any, error) {
		record("second start")
		return nil, nil
	}, "second")
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	first.Wait()
	second.Wait()

	want := []string{"first start", "first finish", "second start"}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != len(want) {
		t.Fatalf("events %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events %v, want %v", events, want)
		}
	}
}

func TestSubmitFailsWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.MaxPendingJobs = 1
	q := newTestQueue(t, cfg)

	release := make(chan struct{})
	started := make(chan struct{})

	blocker, err := q.Submit(func() (any, error) {
		close(started)
		<-release
		return nil, nil
	}, "blocker")
	if err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	<-started

	queued, err := q.Submit(func() (any, error) { return nil, nil }, "queued")
	if err != nil {
		t.Fatalf("second submit should queue: %v", err)
	}

	if _, err := q.Submit(func() (any, error) { return nil, nil }, "rejected"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("third submit error %v, want ErrQueueFull", err)
	}

	close(release)
	blocker.Wait()
	queued.Wait()
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	q, err := New(zerolog.Nop(), testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	q.Shutdown(true)

	if _, err := q.Submit(func() (any, error) { return nil, nil }, "late"); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("error %v, want ErrQueueClosed", err)
	}
}

func TestWorkerSurvivesPanic(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentJobs = 1
	q := newTestQueue(t, cfg)

	_, err := q.Execute(func() (any, error) { panic("kaboom") }, "panicking")
	if err == nil {
		t.Fatal("expected error from panicking job")
	}

	// the worker must still be alive afterwards
	result, err := q.Execute(func() (any, error) { return "ok", nil }, "follow-up")
	if err != nil || result != "ok" {
		t.Errorf("follow-up job got (%v, %v), want (ok, nil)", result, err)
	}
}

func TestJobStateTransitions(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentJobs = 1
	q := newTestQueue(t, cfg)

	release := make(chan struct{})
	started := make(chan struct{})

	job, err := q.Submit(func() (any, error) {
		close(started)
		<-release
		return nil, nil
	}, "tracked")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	<-started
	if got := job.State(); got != StateRunning {
		t.Errorf("state %v while work runs, want %v", got, StateRunning)
	}

	close(release)
	job.Wait()
	if got := job.State(); got != StateCompleted {
		t.Errorf("state %v after success, want %v", got, StateCompleted)
	}
}

func TestClampMaxWorkers(t *testing.T) {
	q := newTestQueue(t, testConfig())

	cases := []struct {
		requested int
		want      int
	}{
		{0, 2},  // unset falls back to the default
		{-3, 2}, // non-positive too
		{1, 1},
		{4, 4},
		{10, 4}, // above the max clamps down
	}

	for _, tc := range cases {
		if got := q.ClampMaxWorkers(tc.requested); got != tc.want {
			t.Errorf("ClampMaxWorkers(%d) = %d, want %d", tc.requested, got, tc.want)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	q := newTestQueue(t, testConfig())

	if got := q.EstimateTokens(0, ""); got != 9_000 {
		t.Errorf("base estimate %d, want 9000", got)
	}
	if got := q.EstimateTokens(10, ""); got != 9_000+10*450 {
		t.Errorf("segment estimate %d, want %d", got, 9_000+10*450)
	}

	// 40 chars at 4 chars per token adds 10
	lens := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	if got := q.EstimateTokens(10, lens); got != 9_000+10*450+10 {
		t.Errorf("lens estimate %d, want %d", got, 9_000+10*450+10)
	}

	// a huge lens only adds the bonus cap
	huge := make([]byte, 100_000)
	for i := range huge {
		huge[i] = 'x'
	}
	if got := q.EstimateTokens(10, string(huge)); got != 9_000+10*450+2_000 {
		t.Errorf("capped lens estimate %d, want %d", got, 9_000+10*450+2_000)
	}
}

func TestEstimateTokensCappedAtBucketCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.TokensPerMinute = 5_000
	q := newTestQueue(t, cfg)

	if got := q.EstimateTokens(1_000, ""); got != 5_000 {
		t.Errorf("estimate %d, want bucket capacity 5000", got)
	}
}

func TestZeroPendingMeansNoQueueingSlack(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.MaxPendingJobs = 0
	q := newTestQueue(t, cfg)

	release := make(chan struct{})
	started := make(chan struct{})

	// an unbuffered queue accepts a submit only when a worker is ready to
	// receive, so give the worker goroutine a moment to park on the channel
	var blocker *Job
	var err error
	for i := 0; i < 100; i++ {
		blocker, err = q.Submit(func() (any, error) {
			close(started)
			<-release
			return nil, nil
		}, "blocker")
		if !errors.Is(err, ErrQueueFull) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	<-started

	if _, err := q.Submit(func() (any, error) { return nil, nil }, "rejected"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("error %v, want ErrQueueFull with the sole worker busy", err)
	}

	close(release)
	blocker.Wait()
}
