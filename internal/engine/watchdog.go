package engine

import (
	"context"
	"sync"
	"time"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

// Watchdog fires the post-batch action once, after a batch that had active
// jobs ends with every job completed.
type Watchdog struct {
	items    *ItemStore
	interval time.Duration
	post     PostActions
	log      *logger.Logger

	mu       sync.Mutex
	command  string
	shutdown bool
	armed    bool
}

func NewWatchdog(items *ItemStore, interval time.Duration, post PostActions, log *logger.Logger) *Watchdog {
	return &Watchdog{items: items, interval: interval, post: post, log: log}
}

// Configure sets the post-batch action. An empty command with shutdown off disarms the watchdog.
func (w *Watchdog) Configure(command string, shutdown bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.command = command
	w.shutdown = shutdown
	if !w.configuredLocked() {
		w.armed = false
	}
}

func (w *Watchdog) configuredLocked() bool {
	return w.command != "" || w.shutdown
}

func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll evaluates the batch once and reports whether the action fired.
func (w *Watchdog) Poll(ctx context.Context) bool {
	w.mu.Lock()
	if !w.configuredLocked() {
		w.armed = false
		w.mu.Unlock()
		return false
	}

	jobs := w.items.All()
	active, completed := 0, 0
	for _, j := range jobs {
		switch st := j.Status(); {
		case st.IsActive():
			active++
		case st == domain.StatusCompleted:
			completed++
		}
	}

	if active > 0 {
		w.armed = true
		w.mu.Unlock()
		return false
	}
	if !w.armed || len(jobs) == 0 || completed != len(jobs) {
		w.mu.Unlock()
		return false
	}

	w.armed = false
	command, shutdown := w.command, w.shutdown
	w.mu.Unlock()

	w.log.Info("All downloads completed, running post-batch action")
	if err := w.post.RunBatch(ctx, command, shutdown); err != nil {
		w.log.Error("Post-batch action failed: %v", err)
	}
	return true
}
