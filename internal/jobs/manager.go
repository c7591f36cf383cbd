package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/lmpc-scraper/internal/models"
	"github.com/maltedev/lmpc-scraper/internal/queue"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrNoURLs      = errors.New("job needs at least one url")
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// Processor checks a single product URL.
type Processor interface {
	Process(ctx context.Context, url string) (*models.ProductRecord, *models.ValidationReport, error)
}

// ResultFunc is called once per finished item. record and report are nil
// when the item failed.
type ResultFunc func(job *Job, item Item, record *models.ProductRecord, report *models.ValidationReport)

// Item is the outcome of one URL in a job.
type Item struct {
	URL        string               `json:"url"`
	Done       bool                 `json:"done"`
	Status     models.OverallStatus `json:"status,omitempty"`
	Score      float64              `json:"score"`
	Violations int                  `json:"violations"`
	Error      string               `json:"error,omitempty"`
}

type Job struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	Items       []Item     `json:"items"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type jobState struct {
	job   Job
	tasks map[string]int
	done  chan struct{}
}

// Manager splits batch requests into queued tasks and tracks their
// progress. Jobs live in memory for the lifetime of the process.
type Manager struct {
	mu        sync.Mutex
	jobs      map[string]*jobState
	queue     *queue.InMemoryQueue
	processor Processor
	onResult  ResultFunc
	logger    *slog.Logger
}

func NewManager(q *queue.InMemoryQueue, processor Processor, onResult ResultFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		jobs:      make(map[string]*jobState),
		queue:     q,
		processor: processor,
		onResult:  onResult,
		logger:    logger.With("component", "job_manager"),
	}
}

// CreateJob queues every url. URLs the queue refuses are recorded as failed
// items rather than failing the whole job.
func (m *Manager) CreateJob(urls []string, priority int) (*Job, error) {
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}

	st := &jobState{
		job: Job{
			ID:        uuid.New().String(),
			Status:    StatusPending,
			Total:     len(urls),
			Items:     make([]Item, len(urls)),
			CreatedAt: time.Now(),
		},
		tasks: make(map[string]int, len(urls)),
		done:  make(chan struct{}),
	}

	tasks := make([]*queue.Task, len(urls))
	m.mu.Lock()
	m.jobs[st.job.ID] = st
	for i, u := range urls {
		st.job.Items[i] = Item{URL: u}
		tasks[i] = queue.NewTask(u, priority)
		tasks[i].JobID = st.job.ID
		st.tasks[tasks[i].ID] = i
	}
	m.mu.Unlock()

	for _, task := range tasks {
		if err := m.queue.Push(task); err != nil {
			m.finish(task, nil, nil, fmt.Errorf("failed to queue url: %w", err))
		}
	}

	m.logger.Info("job created", "id", st.job.ID, "urls", len(urls))
	return m.GetJob(st.job.ID)
}

func (m *Manager) GetJob(id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return st.snapshot(), nil
}

// ListJobs returns all jobs, newest first.
func (m *Manager) ListJobs() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Job, 0, len(m.jobs))
	for _, st := range m.jobs {
		out = append(out, st.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Wait blocks until every item of the job has finished.
func (m *Manager) Wait(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	st, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}

	select {
	case <-st.done:
		return m.GetJob(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats counts jobs by status.
func (m *Manager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := map[string]int{"total": len(m.jobs)}
	for _, st := range m.jobs {
		stats[st.job.Status]++
	}
	stats["queued_tasks"] = m.queue.Size()
	return stats
}

// Run starts workers that drain the queue. It returns when ctx is cancelled
// or the queue is closed and empty.
func (m *Manager) Run(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	m.logger.Info("job workers started", "workers", workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.work(ctx)
		}()
	}
	wg.Wait()

	m.logger.Info("job workers stopped")
}

func (m *Manager) work(ctx context.Context) {
	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			return
		}

		m.start(task)
		record, report, err := m.processor.Process(ctx, task.URL)
		if err != nil && ctx.Err() != nil {
			// Shutting down; leave the item unfinished.
			return
		}
		m.finish(task, record, report, err)
	}
}

func (m *Manager) start(task *queue.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.jobs[task.JobID]
	if !ok || st.job.StartedAt != nil {
		return
	}
	now := time.Now()
	st.job.StartedAt = &now
	st.job.Status = StatusRunning
}

func (m *Manager) finish(task *queue.Task, record *models.ProductRecord, report *models.ValidationReport, err error) {
	m.mu.Lock()
	st, ok := m.jobs[task.JobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	idx, ok := st.tasks[task.ID]
	if !ok || st.job.Items[idx].Done {
		m.mu.Unlock()
		return
	}

	item := &st.job.Items[idx]
	item.Done = true
	if err != nil {
		item.Error = err.Error()
		st.job.Failed++
		record, report = nil, nil
	} else {
		item.Status = report.OverallStatus
		item.Score = record.ComplianceScore
		item.Violations = report.ViolationsCount
	}
	st.job.Completed++

	finished := st.job.Completed == st.job.Total
	if finished {
		now := time.Now()
		st.job.CompletedAt = &now
		st.job.Status = StatusCompleted
		close(st.done)
	}
	snap := st.snapshot()
	done := *item
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("job item failed", "job", task.JobID, "url", task.URL, "error", err)
	}
	if m.onResult != nil {
		m.onResult(snap, done, record, report)
	}
	if finished {
		m.logger.Info("job completed", "id", snap.ID, "total", snap.Total, "failed", snap.Failed)
	}
}

func (st *jobState) snapshot() *Job {
	j := st.job
	j.Items = append([]Item(nil), st.job.Items...)
	return &j
}
