package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keller/filmstrip/internal/config"
)

var (
	// ErrQueueFull is returned by Submit when the pending queue is
	// saturated. Backpressure is explicit: the caller decides what to do
	ErrQueueFull = errors.New("analysis queue is full")

	// ErrQueueClosed is returned by Submit after Shutdown
	ErrQueueClosed = errors.New("analysis queue has been shut down")
)

// State is the lifecycle position of a job. There is no cancelled state:
// once accepted, a job either completes or fails
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Work is one unit of analysis work
type Work func() (any, error)

// Job is the future-like handle returned by Submit
type Job struct {
	id          string
	description string
	work        Work

	mu      sync.Mutex
	state   State
	result  any
	err     error
	done    chan struct{}
	started time.Time
}

// ID returns the job's unique identifier
func (j *Job) ID() string { return j.id }

// Description returns the human-readable label given at submission
func (j *Job) Description() string { return j.description }

// State returns the job's current lifecycle position
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed once the job has completed or failed
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes and returns its outcome
func (j *Job) Wait() (any, error) {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

func (j *Job) setRunning() {
	j.mu.Lock()
	j.state = StateRunning
	j.started = time.Now()
	j.mu.Unlock()
}

func (j *Job) finish(result any, err error) {
	j.mu.Lock()
	if err != nil {
		j.state = StateFailed
		j.err = err
	} else {
		j.state = StateCompleted
		j.result = result
	}
	j.mu.Unlock()
	close(j.done)
}

// Queue is a fixed pool of workers draining one bounded channel, gated by
// a shared token bucket. It is constructed once by the application wiring
// and injected into whatever submits work; there is no package-level
// instance
type Queue struct {
	logger zerolog.Logger
	cfg    config.QueueConfig
	bucket *TokenBucket

	jobs chan *Job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New validates the config, builds the token bucket, and starts exactly
// MaxConcurrentJobs worker goroutines. MaxPendingJobs of 0 means zero
// queueing slack: Submit succeeds only when a worker is ready to receive
func New(logger zerolog.Logger, cfg config.QueueConfig) (*Queue, error) {
	if cfg.MaxConcurrentJobs <= 0 {
		return nil, fmt.Errorf("max_concurrent_jobs must be positive, got %d", cfg.MaxConcurrentJobs)
	}
	if cfg.MaxPendingJobs < 0 {
		return nil, fmt.Errorf("max_pending_jobs must not be negative, got %d", cfg.MaxPendingJobs)
	}

	bucket, err := NewTokenBucket(cfg.TokensPerMinute)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		logger: logger,
		cfg:    cfg,
		bucket: bucket,
		jobs:   make(chan *Job, cfg.MaxPendingJobs),
	}

	q.wg.Add(cfg.MaxConcurrentJobs)
	for i := 0; i < cfg.MaxConcurrentJobs; i++ {
		go q.worker(i + 1)
	}

	logger.Info().
		Int("workers", cfg.MaxConcurrentJobs).
		Int("pending_capacity", cfg.MaxPendingJobs).
		Int64("tokens_per_minute", cfg.TokensPerMinute).
		Msg("analysis queue started")

	return q, nil
}

func (q *Queue) worker(n int) {
	defer q.wg.Done()
	for job := range q.jobs {
		job.setRunning()
		q.logger.Debug().
			Int("worker", n).
			Str("job", job.id).
			Str("description", job.description).
			Msg("job started")

		result, err := runSafely(job.work)
		job.finish(result, err)

		if err != nil {
			q.logger.Error().
				Int("worker", n).
				Str("job", job.id).
				Str("description", job.description).
				Err(err).
				Msg("job failed")
		} else {
			q.logger.Debug().
				Int("worker", n).
				Str("job", job.id).
				Dur("elapsed", time.Since(job.started)).
				Msg("job finished")
		}
	}
}

// runSafely converts a panic inside job work into an error so a bad job
// cannot take down its worker
func runSafely(work Work) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return work()
}

// Submit enqueues work without blocking. A full queue returns
// ErrQueueFull immediately; a shut-down queue returns ErrQueueClosed
func (q *Queue) Submit(work Work, description string) (*Job, error) {
	job := &Job{
		id:          uuid.NewString(),
		description: description,
		work:        work,
		state:       StateQueued,
		done:        make(chan struct{}),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	select {
	case q.jobs <- job:
	default:
		q.logger.Warn().Str("description", description).Msg("queue full, rejecting job")
		return nil, ErrQueueFull
	}

	q.logger.Debug().
		Str("job", job.id).
		Str("description", description).
		Int("pending", len(q.jobs)).
		Msg("job enqueued")

	return job, nil
}

// Execute submits work and blocks until it finishes
func (q *Queue) Execute(work Work, description string) (any, error) {
	job, err := q.Submit(work, description)
	if err != nil {
		return nil, err
	}
	return job.Wait()
}

// Shutdown closes admission and, when wait is set, joins the workers.
// Jobs already queued still run
func (q *Queue) Shutdown(wait bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	if wait {
		q.wg.Wait()
	}
	q.logger.Info().Msg("analysis queue stopped")
}

// Pending returns the number of jobs waiting for a worker
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Bucket exposes the token bucket for stats reporting
func (q *Queue) Bucket() *TokenBucket {
	return q.bucket
}

// ClampMaxWorkers is the single authority for bounding caller-supplied
// preprocessing parallelism: non-positive means "use the default",
// anything above the configured maximum is clamped down to it
func (q *Queue) ClampMaxWorkers(requested int) int {
	if requested <= 0 {
		return q.cfg.DefaultPreprocessWorkers
	}
	if requested > q.cfg.MaxPreprocessWorkers {
		return q.cfg.MaxPreprocessWorkers
	}
	return requested
}

// EstimateTokens predicts the budget one analysis request needs from its
// segment count and optional lens text, capped at bucket capacity since a
// single request can never need more than the bucket can ever hold
func (q *Queue) EstimateTokens(segmentCount int, lens string) int64 {
	tokens := q.cfg.BaseTokensPerRequest + int64(segmentCount)*q.cfg.TokensPerSegment

	if lens != "" {
		charsPerToken := q.cfg.LensCharsPerToken
		if charsPerToken < 1 {
			charsPerToken = 1
		}
		bonus := int64(len(lens)) / charsPerToken
		if bonus > q.cfg.MaxLensTokenBonus {
			bonus = q.cfg.MaxLensTokenBonus
		}
		tokens += bonus
	}

	if tokens > q.bucket.Capacity() {
		tokens = q.bucket.Capacity()
	}
	return tokens
}

// ConsumeTokens blocks until the budget admits n tokens. They are spent on
// admission, never refunded, even when the work that follows fails
func (q *Queue) ConsumeTokens(n int64) error {
	return q.bucket.Acquire(n)
}
