package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/events"
	"github.com/datallboy/dlqueue/internal/infra/logger"
	"github.com/datallboy/dlqueue/internal/metrics"
)

const retriesExhaustedMsg = "too many connection errors, maybe network problem or expired link"

// Deps are the collaborators a Manager drives. Engine is required; the rest
// fall back to no-op or in-memory implementations.
type Deps struct {
	Items      *ItemStore
	Engine     TransferEngine
	Extractor  Extractor
	Post       PostActions
	Aggregator *events.Aggregator
	Signals    *events.Signaler
	Tools      ToolChecker
	Decider    Decider
	Metrics    *metrics.Metrics
}

// Manager owns job admission, the pending queue and the per-job run loops.
type Manager struct {
	log       *logger.Logger
	items     *ItemStore
	engine    TransferEngine
	extractor Extractor
	refresher *Refresher
	post      PostActions
	validator *Validator
	agg       *events.Aggregator
	signals   *events.Signaler
	metrics   *metrics.Metrics
	scheduler *Scheduler
	watchdog  *Watchdog

	mu      sync.Mutex
	cfg     Config
	pending []*domain.Job
	baseCtx context.Context

	// wake nudges the drain loop when a slot frees up
	wake chan struct{}
	jobs sync.WaitGroup
	now  func() time.Time
}

func NewManager(cfg Config, log *logger.Logger, deps Deps) *Manager {
	cfg.setDefaults()
	if log == nil {
		log = logger.Nop()
	}
	if deps.Items == nil {
		deps.Items = NewItemStore()
	}
	if deps.Aggregator == nil {
		deps.Aggregator = events.NewAggregator(events.Config{}, deps.Items, events.Discard, deps.Metrics)
	}
	if deps.Signals == nil {
		deps.Signals = events.NewSignaler(events.SinkFunc(deps.Aggregator.Emit), 1, 1, log)
	}
	if deps.Post == nil {
		deps.Post = nopPost{}
	}

	m := &Manager{
		log:       log,
		items:     deps.Items,
		engine:    deps.Engine,
		extractor: deps.Extractor,
		refresher: NewRefresher(deps.Extractor, log),
		post:      deps.Post,
		validator: NewValidator(deps.Items, deps.Tools, deps.Decider, log),
		agg:       deps.Aggregator,
		signals:   deps.Signals,
		metrics:   deps.Metrics,
		cfg:       cfg,
		baseCtx:   context.Background(),
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
	m.scheduler = NewScheduler(deps.Items, cfg.ScheduleInterval, m.startScheduled, log)
	m.watchdog = NewWatchdog(deps.Items, cfg.WatchdogInterval, deps.Post, log)
	m.watchdog.Configure(cfg.OnCompletionCommand, cfg.ShutdownOnCompletion)
	return m
}

// Run starts the drain, schedule, watchdog and flush loops and blocks until
// ctx is done. Running jobs are cancelled and waited for before it returns.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.baseCtx = ctx
	interval := m.cfg.PendingInterval
	maxConc, maxRetries := m.cfg.MaxConcurrent, m.cfg.MaxRetries
	m.mu.Unlock()

	loops := []func(context.Context){
		func(ctx context.Context) { m.drainLoop(ctx, interval) },
		m.scheduler.Run,
		m.watchdog.Run,
		m.agg.Run,
	}

	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}

	m.log.Info("Job manager started (max %d concurrent, %d retries)", maxConc, maxRetries)
	<-ctx.Done()

	m.cancelActive()
	m.jobs.Wait()
	wg.Wait()
	m.agg.Flush()
	return nil
}

// Restore registers jobs loaded from persistence. Pending jobs go back on the queue.
func (m *Manager) Restore(jobs []*domain.Job) {
	for _, job := range jobs {
		job.Attach(m.agg.Notify)
		if err := m.items.Put(job); err != nil {
			m.log.Warn("Skipping restored job %s: %v", job.Name(), err)
			continue
		}
		if job.Status() == domain.StatusPending {
			m.mu.Lock()
			m.pending = append(m.pending, job)
			m.mu.Unlock()
		}
	}
	m.updateGauges()
}

// Submit validates a clone of tmpl and registers it. With RunNow the job
// starts right away or waits in the pending queue.
func (m *Manager) Submit(ctx context.Context, tmpl *domain.Job, opts SubmitOptions) (*domain.Job, error) {
	job := tmpl.Clone()

	resumed, err := m.validator.Check(ctx, job, opts, m.autoRename(), false)
	if err != nil {
		m.reject(job, opts, err)
		return nil, err
	}

	// a fresh registration never inherits run state from its template
	if st := job.Status(); st.IsActive() || st == domain.StatusPending {
		job.SetStatus(domain.StatusCancelled)
	}

	job.Attach(m.agg.Notify)
	if resumed {
		if prev := m.items.Resume(job); prev != nil && prev != job {
			prev.Attach(nil)
			prev.SetStatus(domain.StatusCancelled)
		}
		m.log.Info("Resuming %s from %d bytes", job.Name(), job.Downloaded())
	} else if err := m.items.Put(job); err != nil {
		return nil, fmt.Errorf("register %s: %w", job.Name(), err)
	}

	m.agg.Emit(events.New(events.CommandNew, job.ID(), job.Snapshot().Fields()))

	if !opts.RunNow {
		return job, nil
	}
	if err := m.admit(job); err != nil {
		return job, err
	}
	return job, nil
}

// Start re-runs a registered job, e.g. a manual retry.
func (m *Manager) Start(ctx context.Context, id string, opts SubmitOptions) error {
	job, ok := m.items.Get(id)
	if !ok {
		return ErrNotFound
	}
	if _, err := m.validator.Check(ctx, job, opts, m.autoRename(), true); err != nil {
		m.reject(job, opts, err)
		return err
	}
	return m.admit(job)
}

func (m *Manager) reject(job *domain.Job, opts SubmitOptions, err error) {
	m.log.Warn("Rejected %s: %v", job.Name(), err)
	if !opts.Silent {
		m.signals.Signal(job.ID(), job.Name(), events.LevelError, err.Error())
	}
}

// startScheduled is the scheduler's trigger. A job that fails its checks
// is moved to error so it doesn't fire again on every poll.
func (m *Manager) startScheduled(ctx context.Context, job *domain.Job) error {
	err := m.Start(ctx, job.ID(), SubmitOptions{RunNow: true, Silent: true})
	if err != nil {
		job.SetLastError(err.Error())
		job.SetStatus(domain.StatusError)
	}
	return err
}

// admit reserves a slot or queues the job. The active count and the
// reservation happen under one lock so concurrent submits can't overshoot.
func (m *Manager) admit(job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st := job.Status(); st.IsActive() || st == domain.StatusPending {
		return domain.NewValidationError(job.Name(), domain.ErrAlreadyActive, "")
	}

	if m.activeLocked() < m.cfg.MaxConcurrent {
		m.launchLocked(job)
	} else {
		job.SetStatus(domain.StatusPending)
		m.pending = append(m.pending, job)
		m.log.Debug("Queued %s (%d pending)", job.Name(), len(m.pending))
	}
	m.metrics.SetQueue(m.activeLocked(), len(m.pending))
	return nil
}

func (m *Manager) activeLocked() int {
	return m.items.Count(func(j *domain.Job) bool { return j.Status().IsActive() })
}

func (m *Manager) launchLocked(job *domain.Job) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	job.BeginRun(ksuid.New().String(), cancel)
	job.ResetErrors()
	job.SetStatus(domain.StatusDownloading)

	m.jobs.Add(1)
	go m.run(ctx, cancel, job)
}

func (m *Manager) drainLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.drain()
		case <-m.wake:
			m.drain()
		}
	}
}

// drain starts pending jobs in FIFO order while slots are free. Entries that
// are no longer pending or no longer registered are dropped.
func (m *Manager) drain() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.pending) > 0 && m.activeLocked() < m.cfg.MaxConcurrent {
		job := m.pending[0]
		m.pending[0] = nil
		m.pending = m.pending[1:]

		if job.Status() != domain.StatusPending {
			continue
		}
		if cur, ok := m.items.Get(job.ID()); !ok || cur != job {
			continue
		}
		m.launchLocked(job)
	}
	m.metrics.SetQueue(m.activeLocked(), len(m.pending))
}

func (m *Manager) slotFreed() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Stop cancels an active, pending or scheduled job.
func (m *Manager) Stop(id string) error {
	job, ok := m.items.Get(id)
	if !ok {
		return ErrNotFound
	}

	m.mu.Lock()
	st := job.Status()
	switch {
	case st.IsActive() || st == domain.StatusPending:
		job.SetStatus(domain.StatusCancelled)
	case st == domain.StatusScheduled:
		job.ClearSchedule()
	}
	m.mu.Unlock()

	job.Cancel()
	return nil
}

// Delete cancels the job, forgets it and removes its temporary files.
func (m *Manager) Delete(ctx context.Context, id string) error {
	job, ok := m.items.Remove(id)
	if !ok {
		return ErrNotFound
	}

	m.mu.Lock()
	if !job.Status().IsTerminal() {
		job.SetStatus(domain.StatusCancelled)
	}
	m.mu.Unlock()

	job.Attach(nil)
	job.Cancel()
	if err := job.Wait(ctx); err != nil {
		return fmt.Errorf("wait for %s to stop: %w", job.Name(), err)
	}

	// queued behind the run's final snapshot so observers see the removal last
	m.agg.Notify(id, map[string]any{"status": string(domain.StatusCancelled), "deleted": true})
	if err := m.engine.Cleanup(job); err != nil {
		m.log.Warn("Cleanup of %s failed: %v", job.Name(), err)
	}
	m.updateGauges()
	return nil
}

// ScheduleStart arms a one-shot start of a registered job at at.
func (m *Manager) ScheduleStart(id string, at time.Time) error {
	if !at.After(m.now()) {
		return ErrScheduleInPast
	}
	job, ok := m.items.Get(id)
	if !ok {
		return ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Status().IsActive() {
		return domain.NewValidationError(job.Name(), domain.ErrAlreadyActive, "")
	}
	job.SetSchedule(at)
	m.log.Info("Scheduled %s for %s", job.Name(), at.Format(time.RFC3339))
	return nil
}

func (m *Manager) ScheduleCancel(id string) error {
	job, ok := m.items.Get(id)
	if !ok {
		return ErrNotFound
	}
	if job.Status() == domain.StatusScheduled {
		job.ClearSchedule()
	}
	return nil
}

// SetOnCompletionCommand sets the shell command run after this job completes.
func (m *Manager) SetOnCompletionCommand(id, cmd string) error {
	job, ok := m.items.Get(id)
	if !ok {
		return ErrNotFound
	}
	if job.Status() == domain.StatusCompleted {
		return ErrJobCompleted
	}
	job.SetOnCompletionCommand(cmd)
	return nil
}

// ToggleShutdown flips the power-off-after-completion flag and returns the new value.
func (m *Manager) ToggleShutdown(id string) (bool, error) {
	job, ok := m.items.Get(id)
	if !ok {
		return false, ErrNotFound
	}
	if job.Status() == domain.StatusCompleted {
		return false, ErrJobCompleted
	}
	next := !job.ShutdownPC()
	job.SetShutdownPC(next)
	return next, nil
}

// SetLimits applies new ceilings at runtime. A larger ceiling starts pending jobs right away.
func (m *Manager) SetLimits(maxConcurrent, maxRetries int) {
	m.mu.Lock()
	if maxConcurrent > 0 {
		m.cfg.MaxConcurrent = maxConcurrent
	}
	if maxRetries >= 0 {
		m.cfg.MaxRetries = maxRetries
	}
	m.mu.Unlock()
	m.slotFreed()
}

// SetBatchAction configures what fires once every job has completed.
func (m *Manager) SetBatchAction(command string, shutdown bool) {
	m.watchdog.Configure(command, shutdown)
}

func (m *Manager) Get(id string) (*domain.Job, bool) { return m.items.Get(id) }

func (m *Manager) Jobs() []*domain.Job { return m.items.All() }

// ReportAll publishes the full job list as one d_list update.
func (m *Manager) ReportAll() {
	jobs := m.items.All()
	list := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		list = append(list, j.Snapshot().Fields())
	}
	m.agg.Emit(events.New(events.CommandList, "", map[string]any{"jobs": list}))
}

func (m *Manager) autoRename() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.AutoRename
}

func (m *Manager) maxRetries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.MaxRetries
}

func (m *Manager) cancelActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.items.All() {
		if job.Status().IsActive() {
			job.SetStatus(domain.StatusCancelled)
			job.Cancel()
		}
	}
}

func (m *Manager) updateGauges() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.SetQueue(m.activeLocked(), len(m.pending))
}
