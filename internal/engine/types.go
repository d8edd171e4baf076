package engine

import (
	"context"
	"errors"
	"time"

	"github.com/datallboy/dlqueue/internal/domain"
)

var (
	ErrNotFound       = errors.New("job not found")
	ErrScheduleInPast = errors.New("schedule time is in the past")
	ErrJobCompleted   = errors.New("job already completed")
	ErrDuplicateID    = errors.New("job id already registered")
)

// TransferEngine moves the bytes of one job. Run blocks on the job's goroutine
// and returns the terminal status of the attempt. It must stop promptly once
// ctx is done or job.Cancelled() turns true.
type TransferEngine interface {
	Run(ctx context.Context, job *domain.Job) domain.JobStatus
	Cleanup(job *domain.Job) error
}

type ResolveOptions struct {
	Media   bool
	Headers map[string]string
}

// Extractor turns a source URL into something fetchable.
type Extractor interface {
	Resolve(ctx context.Context, rawURL string, opts ResolveOptions) (*domain.Resolved, error)
}

// PostActions are best-effort steps after a job or the whole batch completes.
type PostActions interface {
	Run(ctx context.Context, job *domain.Job) error
	RunBatch(ctx context.Context, command string, shutdown bool) error
}

// Decider asks the user what to do about an existing destination file.
type Decider interface {
	Decide(ctx context.Context, job *domain.Job) domain.ConflictAction
}

// ToolChecker reports a missing external binary.
type ToolChecker interface {
	Check(names ...string) error
}

// Persistence saves the job table between runs.
type Persistence interface {
	LoadAll(ctx context.Context) ([]*domain.Job, error)
	SaveAll(ctx context.Context, jobs []*domain.Job) error
}

type Config struct {
	MaxConcurrent    int
	MaxRetries       int
	PendingInterval  time.Duration
	ScheduleInterval time.Duration
	WatchdogInterval time.Duration
	AutoRename       bool

	// Post-batch action armed by the watchdog
	OnCompletionCommand  string
	ShutdownOnCompletion bool
}

func (c *Config) setDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.PendingInterval <= 0 {
		c.PendingInterval = 3 * time.Second
	}
	if c.ScheduleInterval <= 0 {
		c.ScheduleInterval = time.Minute
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 5 * time.Second
	}
}

type SubmitOptions struct {
	RunNow     bool
	Silent     bool
	OnConflict domain.ConflictAction
}

type nopPost struct{}

func (nopPost) Run(context.Context, *domain.Job) error       { return nil }
func (nopPost) RunBatch(context.Context, string, bool) error { return nil }

type nopTools struct{}

func (nopTools) Check(...string) error { return nil }
