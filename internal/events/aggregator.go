package events

import (
	"context"
	"sync"
	"time"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/metrics"
)

// JobSource lets the aggregator read live counters when it augments updates.
type JobSource interface {
	Get(id string) (*domain.Job, bool)
	All() []*domain.Job
}

type Config struct {
	FlushInterval time.Duration
}

type queued struct {
	id     string
	fields map[string]any
}

// Aggregator coalesces job notifications and publishes at most one update per
// job per flush. Notify is cheap and never blocks the caller.
type Aggregator struct {
	mu    sync.Mutex
	queue []queued

	jobs     JobSource
	sink     Sink
	interval time.Duration
	metrics  *metrics.Metrics

	flushMu sync.Mutex
}

func NewAggregator(cfg Config, jobs JobSource, sink Sink, m *metrics.Metrics) *Aggregator {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if sink == nil {
		sink = Discard
	}
	return &Aggregator{jobs: jobs, sink: sink, interval: cfg.FlushInterval, metrics: m}
}

// Notify queues changed fields for id. It has the domain.NotifyFunc signature.
func (a *Aggregator) Notify(id string, fields map[string]any) {
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	a.mu.Lock()
	a.queue = append(a.queue, queued{id: id, fields: cp})
	a.mu.Unlock()
}

// Emit publishes u right away, bypassing coalescing.
func (a *Aggregator) Emit(u Update) {
	a.sink.Publish(u)
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Flush()
			return
		case <-ticker.C:
			a.Flush()
		}
	}
}

// Flush drains the queue and publishes one merged update per id in the order
// ids were first seen, followed by a total_speed update. It returns the number
// of per-job updates published.
func (a *Aggregator) Flush() int {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	q := a.queue
	a.queue = nil
	a.mu.Unlock()

	order := make([]string, 0, len(q))
	merged := make(map[string]Update, len(q))
	for _, ev := range q {
		u, ok := merged[ev.id]
		if !ok {
			u = Update{}
			merged[ev.id] = u
			order = append(order, ev.id)
		}
		for k, v := range ev.fields {
			u[k] = v
		}
	}

	for _, id := range order {
		u := merged[id]
		u["id"] = id
		if _, ok := u["command"]; !ok {
			u["command"] = CommandUpdate
		}
		if _, ok := u["downloaded"]; ok {
			a.augment(id, u)
		}
		a.sink.Publish(u)
	}

	a.publishTotalSpeed()
	a.metrics.Flushed(len(order))
	return len(order)
}

func (a *Aggregator) augment(id string, u Update) {
	if a.jobs == nil {
		return
	}
	job, ok := a.jobs.Get(id)
	if !ok {
		return
	}
	u["progress"] = job.Progress()
	u["speed"] = job.Speed()
	u["eta"] = job.ETA()
}

// publishTotalSpeed sums the rate of every downloading job.
func (a *Aggregator) publishTotalSpeed() {
	var total float64
	if a.jobs != nil {
		for _, job := range a.jobs.All() {
			if job.Status() == domain.StatusDownloading {
				total += job.Speed()
			}
		}
	}
	a.sink.Publish(New(CommandTotalSpeed, "", map[string]any{"total_speed": total}))
}
