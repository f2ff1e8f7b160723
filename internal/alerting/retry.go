package alerting

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultRetryQueueSize = 256
	defaultRetryBaseDelay = 2 * time.Second
	defaultRetryMaxDelay  = 2 * time.Minute
	defaultRetryAttempts  = 6
)

// retryTask is one deferred operation with its attempt counter.
type retryTask struct {
	name     string
	attempts int
	fn       func(ctx context.Context) error
}

// Retrier re-runs failed accounting writes asynchronously with exponential
// backoff, so eventual consistency is restored without blocking or failing
// the caller's request.
type Retrier struct {
	queue chan retryTask

	mu      sync.Mutex
	started bool
}

// NewRetrier constructs a Retrier with a bounded queue.
func NewRetrier() *Retrier {
	return &Retrier{queue: make(chan retryTask, defaultRetryQueueSize)}
}

// Start launches the retry worker in a background goroutine.
func (r *Retrier) Start(ctx context.Context) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	go r.run(ctx)
	log.Info("accounting retrier started")
}

// Enqueue schedules a deferred operation. When the queue is full the task is
// dropped with a log entry; the alert sink has already been notified of the
// original failure.
func (r *Retrier) Enqueue(name string, fn func(ctx context.Context) error) {
	if r == nil || fn == nil {
		return
	}
	select {
	case r.queue <- retryTask{name: name, fn: fn}:
	default:
		log.Warnf("accounting retrier: queue full, dropping task %s", name)
	}
}

func (r *Retrier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.queue:
			r.attempt(ctx, task)
		}
	}
}

func (r *Retrier) attempt(ctx context.Context, task retryTask) {
	delay := backoffDelay(task.attempts)
	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
		return
	case <-timer.C:
	}

	errRun := task.fn(ctx)
	if errRun == nil {
		log.Infof("accounting retrier: task %s succeeded after %d retries", task.name, task.attempts)
		return
	}

	task.attempts++
	if task.attempts >= defaultRetryAttempts {
		log.WithError(errRun).Errorf("accounting retrier: task %s gave up after %d attempts", task.name, task.attempts)
		return
	}
	select {
	case r.queue <- task:
	default:
		log.WithError(errRun).Warnf("accounting retrier: queue full, dropping task %s after %d attempts", task.name, task.attempts)
	}
}

// backoffDelay returns the delay before the given attempt number.
func backoffDelay(attempts int) time.Duration {
	delay := defaultRetryBaseDelay << attempts
	if delay > defaultRetryMaxDelay || delay <= 0 {
		return defaultRetryMaxDelay
	}
	return delay
}
