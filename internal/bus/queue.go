// Package bus dispatches account-hour jobs to one worker per partition. Jobs of a partition
// run in publish order; partitions run in parallel.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"spotledger/internal/schema"

	"github.com/yanun0323/errors"
)

var (
	ErrQueueFull   = errors.New("job queue full")
	ErrQueueClosed = errors.New("job queue closed")
)

// Job is one account-hour to execute.
type Job struct {
	Partition schema.PartitionKey
	Hour      time.Time
}

// Queue is a bounded, non-blocking job queue.
type Queue struct {
	ch     chan Job
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Job, capacity)}
}

// TryPublish enqueues a job without blocking.
func (q *Queue) TryPublish(j Job) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new jobs. Queued jobs still drain.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes jobs until the context is done or the queue is closed and drained.
func (q *Queue) Run(ctx context.Context, handler func(context.Context, Job)) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.ch:
			if !ok {
				return
			}
			handler(ctx, j)
		}
	}
}

// Dispatcher owns one queue and worker goroutine per partition.
type Dispatcher struct {
	ctx      context.Context
	capacity int
	handler  func(context.Context, Job)

	mu     sync.Mutex
	queues map[schema.PartitionKey]*Queue
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher returns a dispatcher whose workers stop when ctx is done.
func NewDispatcher(ctx context.Context, capacity int, handler func(context.Context, Job)) *Dispatcher {
	return &Dispatcher{
		ctx:      ctx,
		capacity: capacity,
		handler:  handler,
		queues:   make(map[schema.PartitionKey]*Queue),
	}
}

// Publish enqueues j on its partition queue, starting the worker on first use.
func (d *Dispatcher) Publish(j Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrQueueClosed
	}
	q, ok := d.queues[j.Partition]
	if !ok {
		q = NewQueue(d.capacity)
		d.queues[j.Partition] = q
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			q.Run(d.ctx, d.handler)
		}()
	}
	return q.TryPublish(j)
}

// Close stops accepting jobs and waits for every worker to drain its queue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, q := range d.queues {
			q.Close()
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}
