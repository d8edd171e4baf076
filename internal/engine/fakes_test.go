package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/events"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

// gateEngine blocks every run until the test releases it by job name.
type gateEngine struct {
	mu      sync.Mutex
	gates   map[string]chan domain.JobStatus
	started []string
	cleaned []string

	running atomic.Int32
	peak    atomic.Int32
}

func newGateEngine() *gateEngine {
	return &gateEngine{gates: map[string]chan domain.JobStatus{}}
}

func (g *gateEngine) gate(name string) chan domain.JobStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[name]
	if !ok {
		ch = make(chan domain.JobStatus, 1)
		g.gates[name] = ch
	}
	return ch
}

func (g *gateEngine) release(name string, st domain.JobStatus) {
	g.gate(name) <- st
}

func (g *gateEngine) Run(ctx context.Context, job *domain.Job) domain.JobStatus {
	n := g.running.Add(1)
	defer g.running.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}

	g.mu.Lock()
	g.started = append(g.started, job.Name())
	g.mu.Unlock()

	select {
	case st := <-g.gate(job.Name()):
		if st == domain.StatusCompleted {
			job.SetTotalSize(10)
			job.AddDownloaded(10)
		}
		return st
	case <-ctx.Done():
		return domain.StatusCancelled
	}
}

func (g *gateEngine) Cleanup(job *domain.Job) error {
	g.mu.Lock()
	g.cleaned = append(g.cleaned, job.Name())
	g.mu.Unlock()
	return nil
}

func (g *gateEngine) Started() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.started...)
}

func (g *gateEngine) Cleaned() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cleaned...)
}

// funcEngine answers every run with fn.
type funcEngine struct {
	calls atomic.Int32
	fn    func(ctx context.Context, job *domain.Job, attempt int) domain.JobStatus
}

func (f *funcEngine) Run(ctx context.Context, job *domain.Job) domain.JobStatus {
	n := int(f.calls.Add(1))
	return f.fn(ctx, job, n)
}

func (f *funcEngine) Cleanup(*domain.Job) error { return nil }

type fakeExtractor struct {
	calls atomic.Int32
	res   *domain.Resolved
	err   error
}

func (f *fakeExtractor) Resolve(context.Context, string, ResolveOptions) (*domain.Resolved, error) {
	f.calls.Add(1)
	return f.res, f.err
}

type fakeTools struct{ missing bool }

func (f fakeTools) Check(names ...string) error {
	if f.missing {
		return errors.New("ffmpeg not found in PATH")
	}
	return nil
}

type fixedDecider domain.ConflictAction

func (d fixedDecider) Decide(context.Context, *domain.Job) domain.ConflictAction {
	return domain.ConflictAction(d)
}

type fakePost struct {
	mu      sync.Mutex
	jobs    []string
	batches int
}

func (p *fakePost) Run(_ context.Context, job *domain.Job) error {
	p.mu.Lock()
	p.jobs = append(p.jobs, job.Name())
	p.mu.Unlock()
	return nil
}

func (p *fakePost) RunBatch(context.Context, string, bool) error {
	p.mu.Lock()
	p.batches++
	p.mu.Unlock()
	return nil
}

func (p *fakePost) Batches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batches
}

func (p *fakePost) Jobs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.jobs...)
}

type recordSink struct {
	mu      sync.Mutex
	updates []events.Update
}

func (r *recordSink) Publish(u events.Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recordSink) byCommand(cmd string) []events.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Update
	for _, u := range r.updates {
		if u.Command() == cmd {
			out = append(out, u)
		}
	}
	return out
}

// harness wires a Manager with recordable collaborators.
type harness struct {
	m     *Manager
	items *ItemStore
	sink  *recordSink
	post  *fakePost
	dir   string
}

func newHarness(t *testing.T, cfg Config, eng TransferEngine, ext Extractor) *harness {
	t.Helper()
	items := NewItemStore()
	sink := &recordSink{}
	agg := events.NewAggregator(events.Config{}, items, sink, nil)
	post := &fakePost{}

	m := NewManager(cfg, logger.Nop(), Deps{
		Items:      items,
		Engine:     eng,
		Extractor:  ext,
		Post:       post,
		Aggregator: agg,
		Signals:    events.NewSignaler(sink, 1000, 1000, logger.Nop()),
		Tools:      fakeTools{},
	})
	return &harness{m: m, items: items, sink: sink, post: post, dir: t.TempDir()}
}

// run starts the manager loops for the duration of the test.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) template(name string, total int64) *domain.Job {
	return domain.NewJob(domain.JobView{
		URL:       "http://example.test/" + name,
		Name:      name,
		Folder:    h.dir,
		TotalSize: total,
	})
}
