package engine

import (
	"context"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/events"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

// run drives one execution sequence of job. Exactly one run goroutine exists
// per sequence; it is the only writer of the job's byte counters.
func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, job *domain.Job) {
	defer m.jobs.Done()
	defer m.slotFreed()
	defer job.EndRun()
	defer cancel()

	log := m.log.With("job", job.Name()).With("run", job.RunID())
	log.Info("Starting download from %s", job.EffectiveURL())

	status := m.attempts(ctx, job, log)

	switch status {
	case domain.StatusCompleted:
		log.Info("Download completed (%d bytes)", job.Downloaded())
		// post actions are best-effort and must not be cut short by a shutdown
		if err := m.post.Run(context.WithoutCancel(ctx), job); err != nil {
			log.Warn("Post actions finished with errors: %v", err)
		}
	case domain.StatusCancelled:
		log.Info("Download cancelled")
	case domain.StatusError:
		log.Error("Download failed: %s", job.LastError())
	}

	m.agg.Notify(job.ID(), job.Snapshot().Fields())
	m.updateGauges()
}

// attempts runs the engine up to MaxRetries+1 times, refreshing the URL
// between failed attempts. A cancel at any point ends the sequence.
func (m *Manager) attempts(ctx context.Context, job *domain.Job, log *logger.Logger) domain.JobStatus {
	for n := 0; ; n++ {
		status := m.engine.Run(ctx, job)
		m.metrics.Attempt(string(status))

		if ctx.Err() != nil && status != domain.StatusCompleted {
			status = domain.StatusCancelled
		}

		if status != domain.StatusError {
			if status == domain.StatusCompleted {
				job.MarkCompleted()
			}
			if !job.Advance(status) {
				return domain.StatusCancelled
			}
			return status
		}

		if job.Cancelled() {
			return domain.StatusCancelled
		}

		if n >= m.maxRetries() {
			if !job.Advance(domain.StatusError) {
				return domain.StatusCancelled
			}
			job.SetLastError(retriesExhaustedMsg)
			m.signals.Signal(job.ID(), job.Name(), events.LevelError, retriesExhaustedMsg)
			return domain.StatusError
		}

		log.Warn("Attempt %d failed with %d errors, refreshing url", n+1, job.Errors())
		job.ResetErrors()
		if !job.Advance(domain.StatusRefreshingURL) {
			return domain.StatusCancelled
		}
		m.metrics.URLRefresh()
		if err := m.refresher.Refresh(ctx, job); err != nil {
			log.Warn("URL refresh failed, retrying with the old one: %v", err)
		}
		if !job.Advance(domain.StatusDownloading) {
			return domain.StatusCancelled
		}
	}
}
