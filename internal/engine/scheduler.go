package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

// TriggerFunc hands a due job to admission.
type TriggerFunc func(ctx context.Context, job *domain.Job) error

// Scheduler fires scheduled jobs once their time has come.
type Scheduler struct {
	items    *ItemStore
	interval time.Duration
	trigger  TriggerFunc
	log      *logger.Logger
	now      func() time.Time
}

func NewScheduler(items *ItemStore, interval time.Duration, trigger TriggerFunc, log *logger.Logger) *Scheduler {
	return &Scheduler{items: items, interval: interval, trigger: trigger, log: log, now: time.Now}
}

// Run polls every interval until ctx is done. cron rounds sub-second
// intervals up to one second.
func (s *Scheduler) Run(ctx context.Context) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.Poll(ctx, s.now())
	}))

	// jobs restored with a past schedule shouldn't wait a full interval
	s.Poll(ctx, s.now())

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

// Poll triggers every scheduled job due at now and returns how many fired.
func (s *Scheduler) Poll(ctx context.Context, now time.Time) int {
	if ctx.Err() != nil {
		return 0
	}

	fired := 0
	for _, job := range s.items.All() {
		if job.Status() != domain.StatusScheduled {
			continue
		}
		at, ok := job.Schedule()
		if !ok || at.After(now) {
			continue
		}

		s.log.Info("Scheduled start of %s is due", job.Name())
		if err := s.trigger(ctx, job); err != nil {
			s.log.Warn("Scheduled start of %s failed: %v", job.Name(), err)
		}
		fired++
	}
	return fired
}
