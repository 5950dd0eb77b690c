// Package worker provides a bounded worker pool for concurrent event
// processing. Incoming work is queued on a fixed-size channel and
// processed by a fixed number of goroutines, so per-event concurrency
// is explicit instead of an unbounded spawn per event.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pool lifecycle and submission errors.
var (
	ErrNilProcessor       = errors.New("worker: processor must not be nil")
	ErrPoolNotStarted     = errors.New("worker: pool not started")
	ErrPoolStopped        = errors.New("worker: pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")
	ErrQueueFull          = errors.New("worker: queue full, work dropped")
	ErrStopTimeout        = errors.New("worker: timed out waiting for workers")
)

// Pool processes work items of type T with a fixed number of workers.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metrics *Metrics
}

// Metrics holds optional Prometheus counters updated by the pool.
type Metrics struct {
	Submitted prometheus.Counter
	Processed prometheus.Counter
	Failed    prometheus.Counter
	Dropped   prometheus.Counter
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics attaches Prometheus counters to the pool.
func WithMetrics[T any](m *Metrics) Option[T] {
	return func(p *Pool[T]) {
		p.metrics = m
	}
}

// NewPool creates a pool of the given size. workers and queueSize fall
// back to 4 and 256 when non-positive. Panics on a nil processor.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. The context cancels all in-flight work.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Submit queues work without blocking. Work is dropped with ErrQueueFull
// when the queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.mu.Lock()
	started, stopped := p.started, p.stopped
	p.mu.Unlock()

	if !started {
		return ErrPoolNotStarted
	}
	if stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil && p.metrics.Submitted != nil {
			p.metrics.Submitted.Inc()
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil && p.metrics.Dropped != nil {
			p.metrics.Dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop closes the queue and waits up to timeout for workers to drain.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats reports cumulative pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}

			err := p.processor(ctx, work)

			p.processed.Add(1)
			if p.metrics != nil && p.metrics.Processed != nil {
				p.metrics.Processed.Inc()
			}
			if err != nil {
				p.failed.Add(1)
				if p.metrics != nil && p.metrics.Failed != nil {
					p.metrics.Failed.Inc()
				}
			}
		}
	}
}
