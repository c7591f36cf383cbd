package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
	ErrQueueFull   = errors.New("queue is full")
)

// Task is one product URL waiting to be checked.
type Task struct {
	ID        string
	JobID     string
	URL       string
	Priority  int
	CreatedAt time.Time

	seq uint64
}

func NewTask(url string, priority int) *Task {
	return &Task{
		ID:        uuid.NewString(),
		URL:       url,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}

// InMemoryQueue pops the highest priority first and keeps insertion order
// among equal priorities. Pop blocks until a task arrives, the queue is
// closed and drained, or ctx ends.
type InMemoryQueue struct {
	mu      sync.Mutex
	tasks   taskHeap
	maxSize int
	nextSeq uint64
	closed  bool
	// notify is closed and replaced whenever the queue changes.
	notify chan struct{}
}

// NewInMemoryQueue creates a queue; maxSize <= 0 means unbounded.
func NewInMemoryQueue(maxSize int) *InMemoryQueue {
	return &InMemoryQueue{
		maxSize: maxSize,
		notify:  make(chan struct{}),
	}
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.maxSize > 0 && len(q.tasks) >= q.maxSize {
		return ErrQueueFull
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.tasks, task)
	q.broadcast()

	return nil
}

func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := heap.Pop(&q.tasks).(*Task)
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops new pushes. Tasks already queued can still be popped.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.broadcast()
	}
	return nil
}

func (q *InMemoryQueue) broadcast() {
	close(q.notify)
	q.notify = make(chan struct{})
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
