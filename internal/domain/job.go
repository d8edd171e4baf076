package domain

import (
	"context"
	"maps"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// NotifyFunc receives the fields a job changed. It must not block.
type NotifyFunc func(id string, fields map[string]any)

const speedWindow = time.Second

// Job is the authoritative record for one download. All methods are safe for
// concurrent use. The byte counters are written by a single transfer engine
// goroutine and read by everyone else.
type Job struct {
	mu sync.RWMutex

	id        string
	url       string
	effURL    string
	name      string
	folder    string
	kind      Kind
	protocol  string
	headers   map[string]string
	resumable bool

	status      JobStatus
	schedule    *time.Time
	lastError   string
	media       *MediaInfo
	checksums   map[string]string
	createdAt   time.Time
	completedAt time.Time

	onCompletionCommand string
	shutdownPC          bool

	downloaded atomic.Int64
	totalSize  atomic.Int64
	errors     atomic.Int32

	runID  string
	cancel context.CancelFunc
	done   chan struct{}

	sampleAt    time.Time
	sampleBytes int64
	speed       float64

	notify NotifyFunc
	now    func() time.Time
}

// JobView is a point-in-time copy of a job. It is what gets persisted and served.
type JobView struct {
	ID                  string            `json:"id"`
	URL                 string            `json:"url"`
	EffectiveURL        string            `json:"eff_url,omitempty"`
	Name                string            `json:"name"`
	Folder              string            `json:"folder"`
	Kind                Kind              `json:"kind"`
	Protocol            string            `json:"protocol,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	Resumable           bool              `json:"resumable"`
	Status              JobStatus         `json:"status"`
	Downloaded          int64             `json:"downloaded"`
	TotalSize           int64             `json:"total_size"`
	Errors              int               `json:"errors"`
	Schedule            *time.Time        `json:"schedule,omitempty"`
	LastError           string            `json:"last_error,omitempty"`
	OnCompletionCommand string            `json:"on_completion_command,omitempty"`
	ShutdownPC          bool              `json:"shutdown_pc,omitempty"`
	Media               *MediaInfo        `json:"media,omitempty"`
	Checksums           map[string]string `json:"checksums,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	CompletedAt         time.Time         `json:"completed_at,omitzero"`
	RunID               string            `json:"run_id,omitempty"`
	Progress            float64           `json:"progress"`
	Speed               float64           `json:"speed"`
	ETA                 int64             `json:"eta"`
}

// NewJob builds a job from a view. Missing IDs are derived from folder and
// name, counters are clamped and a scheduled status without a time is demoted.
func NewJob(v JobView) *Job {
	j := &Job{
		id:                  v.ID,
		url:                 v.URL,
		effURL:              v.EffectiveURL,
		name:                v.Name,
		folder:              v.Folder,
		kind:                v.Kind,
		protocol:            v.Protocol,
		headers:             maps.Clone(v.Headers),
		resumable:           v.Resumable,
		status:              v.Status,
		lastError:           v.LastError,
		onCompletionCommand: v.OnCompletionCommand,
		shutdownPC:          v.ShutdownPC,
		checksums:           maps.Clone(v.Checksums),
		createdAt:           v.CreatedAt,
		completedAt:         v.CompletedAt,
		now:                 time.Now,
	}
	if j.id == "" {
		j.id = JobID(v.Folder, v.Name)
	}
	if j.kind == "" {
		j.kind = KindPlain
	}
	if !j.status.Valid() {
		j.status = StatusCancelled
	}
	if v.Schedule != nil {
		t := *v.Schedule
		j.schedule = &t
	}
	if j.status == StatusScheduled && j.schedule == nil {
		j.status = StatusCancelled
	}
	if v.Media != nil {
		j.media = v.Media.clone()
	}
	if j.createdAt.IsZero() {
		j.createdAt = j.now()
	}

	total := max(v.TotalSize, 0)
	down := max(v.Downloaded, 0)
	if total > 0 && down > total {
		down = total
	}
	j.totalSize.Store(total)
	j.downloaded.Store(down)
	j.errors.Store(int32(max(v.Errors, 0)))
	return j
}

// Clone copies the persistent state of j. The copy has no observer and no run.
func (j *Job) Clone() *Job {
	return NewJob(j.Snapshot())
}

// Attach installs the observer that receives field changes.
func (j *Job) Attach(fn NotifyFunc) {
	j.mu.Lock()
	j.notify = fn
	j.mu.Unlock()
}

func (j *Job) emit(fields map[string]any) {
	j.mu.RLock()
	fn, id := j.notify, j.id
	j.mu.RUnlock()
	if fn != nil {
		fn(id, fields)
	}
}

func (j *Job) ID() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.id
}

func (j *Job) URL() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.url
}

// EffectiveURL is the URL bytes are fetched from. It falls back to the source URL.
func (j *Job) EffectiveURL() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.effURL == "" {
		return j.url
	}
	return j.effURL
}

func (j *Job) Name() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.name
}

func (j *Job) Folder() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.folder
}

// TargetPath is where the finished file lives.
func (j *Job) TargetPath() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return filepath.Join(j.folder, j.name)
}

// PartPath is where bytes accumulate until the transfer completes.
func (j *Job) PartPath() string {
	return j.TargetPath() + ".part"
}

func (j *Job) Kind() Kind {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.kind
}

func (j *Job) Protocol() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.protocol
}

func (j *Job) Headers() map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return maps.Clone(j.headers)
}

func (j *Job) Resumable() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.resumable
}

func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *Job) Cancelled() bool { return j.Status() == StatusCancelled }

// SetStatus moves the job to s. Leaving scheduled drops the schedule.
func (j *Job) SetStatus(s JobStatus) {
	j.mu.Lock()
	j.setStatusLocked(s)
	j.mu.Unlock()
	j.emit(map[string]any{"status": string(s)})
}

func (j *Job) setStatusLocked(s JobStatus) {
	if j.status == StatusScheduled && s != StatusScheduled {
		j.schedule = nil
	}
	if s == StatusDownloading && j.status != StatusDownloading {
		j.sampleAt = time.Time{}
		j.speed = 0
	}
	j.status = s
}

// Advance moves the job to s unless it was cancelled meanwhile. A cancel
// always wins over whatever the transfer engine reports.
func (j *Job) Advance(s JobStatus) bool {
	j.mu.Lock()
	if j.status == StatusCancelled {
		j.mu.Unlock()
		return false
	}
	j.setStatusLocked(s)
	j.mu.Unlock()
	j.emit(map[string]any{"status": string(s)})
	return true
}

// Schedule returns the trigger time while the job is scheduled.
func (j *Job) Schedule() (time.Time, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.schedule == nil {
		return time.Time{}, false
	}
	return *j.schedule, true
}

// SetSchedule arms a one-shot start at t.
func (j *Job) SetSchedule(t time.Time) {
	j.mu.Lock()
	j.schedule = &t
	j.status = StatusScheduled
	j.mu.Unlock()
	j.emit(map[string]any{"status": string(StatusScheduled), "schedule": t.Format(time.RFC3339)})
}

// ClearSchedule drops a pending schedule and leaves the job cancelled.
func (j *Job) ClearSchedule() {
	j.mu.Lock()
	j.schedule = nil
	j.status = StatusCancelled
	j.mu.Unlock()
	j.emit(map[string]any{"status": string(StatusCancelled), "schedule": nil})
}

func (j *Job) Downloaded() int64 { return j.downloaded.Load() }

func (j *Job) TotalSize() int64 { return j.totalSize.Load() }

// SetTotalSize records the expected size. Zero means unknown.
func (j *Job) SetTotalSize(n int64) {
	n = max(n, 0)
	j.totalSize.Store(n)
	fields := map[string]any{"total_size": n}
	if n > 0 && j.downloaded.Load() > n {
		j.downloaded.Store(n)
		fields["downloaded"] = n
	}
	j.emit(fields)
}

// SetDownloaded resets the byte counter, e.g. to the size of a partial file.
func (j *Job) SetDownloaded(n int64) {
	n = j.clamp(max(n, 0))
	j.downloaded.Store(n)
	j.sample(n)
	j.emit(map[string]any{"downloaded": n})
}

// AddDownloaded adds n bytes and returns the new count, never exceeding a known total.
func (j *Job) AddDownloaded(n int64) int64 {
	var v int64
	for {
		cur := j.downloaded.Load()
		v = j.clamp(cur + n)
		if j.downloaded.CompareAndSwap(cur, v) {
			break
		}
	}
	j.sample(v)
	j.emit(map[string]any{"downloaded": v})
	return v
}

func (j *Job) clamp(n int64) int64 {
	if total := j.totalSize.Load(); total > 0 && n > total {
		return total
	}
	return n
}

func (j *Job) sample(v int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	if j.sampleAt.IsZero() || v < j.sampleBytes {
		j.sampleAt, j.sampleBytes = now, v
		return
	}
	if elapsed := now.Sub(j.sampleAt); elapsed >= speedWindow {
		j.speed = float64(v-j.sampleBytes) / elapsed.Seconds()
		j.sampleAt, j.sampleBytes = now, v
	}
}

// MarkCompleted settles the counters so downloaded equals total.
func (j *Job) MarkCompleted() {
	down := j.downloaded.Load()
	total := j.totalSize.Load()
	if total < down {
		total = down
		j.totalSize.Store(total)
	}
	j.downloaded.Store(total)

	j.mu.Lock()
	j.completedAt = j.now()
	j.mu.Unlock()
	j.emit(map[string]any{"downloaded": total, "total_size": total})
}

// Speed is the transfer rate in bytes per second, zero unless downloading.
func (j *Job) Speed() float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.status != StatusDownloading {
		return 0
	}
	return j.speed
}

// Progress is the completed percentage rounded to one decimal, zero when the total is unknown.
func (j *Job) Progress() float64 {
	return Progress(j.Downloaded(), j.TotalSize())
}

func Progress(downloaded, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(downloaded) * 100 / float64(total)
	return math.Round(min(p, 100)*10) / 10
}

// ETA is the estimated number of seconds left, or -1 when it can't be known.
func (j *Job) ETA() int64 {
	speed := j.Speed()
	total := j.TotalSize()
	if speed <= 0 || total <= 0 {
		return -1
	}
	left := total - j.Downloaded()
	return int64(math.Ceil(float64(left) / speed))
}

func (j *Job) Errors() int { return int(j.errors.Load()) }

// IncErrors counts a transfer error within the current attempt.
func (j *Job) IncErrors() int {
	n := int(j.errors.Add(1))
	j.emit(map[string]any{"errors": n})
	return n
}

func (j *Job) ResetErrors() {
	j.errors.Store(0)
	j.emit(map[string]any{"errors": 0})
}

func (j *Job) SetEffectiveURL(u string) {
	j.mu.Lock()
	j.effURL = u
	j.mu.Unlock()
	j.emit(map[string]any{"eff_url": u})
}

// ApplyStream swaps in a freshly resolved media description and the stream to fetch.
func (j *Job) ApplyStream(info MediaInfo, s Stream) {
	info.Selected = s.Name
	j.mu.Lock()
	j.media = info.clone()
	j.effURL = s.URL
	j.protocol = s.Protocol
	j.mu.Unlock()
	j.emit(map[string]any{"eff_url": s.URL})
}

func (j *Job) Media() *MediaInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.media == nil {
		return nil
	}
	return j.media.clone()
}

// Rename changes the destination name and with it the identifier. Only valid
// before the job is registered.
func (j *Job) Rename(name string) {
	j.mu.Lock()
	j.name = name
	j.id = JobID(j.folder, name)
	j.mu.Unlock()
}

func (j *Job) LastError() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastError
}

func (j *Job) SetLastError(msg string) {
	j.mu.Lock()
	j.lastError = msg
	j.mu.Unlock()
	j.emit(map[string]any{"last_error": msg})
}

func (j *Job) OnCompletionCommand() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.onCompletionCommand
}

func (j *Job) SetOnCompletionCommand(cmd string) {
	j.mu.Lock()
	j.onCompletionCommand = cmd
	j.mu.Unlock()
}

func (j *Job) ShutdownPC() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.shutdownPC
}

func (j *Job) SetShutdownPC(v bool) {
	j.mu.Lock()
	j.shutdownPC = v
	j.mu.Unlock()
}

func (j *Job) SetChecksums(sums map[string]string) {
	j.mu.Lock()
	j.checksums = maps.Clone(sums)
	j.mu.Unlock()
	fields := make(map[string]any, len(sums))
	for k, v := range sums {
		fields[k] = v
	}
	j.emit(fields)
}

// BeginRun records the cancel hook of a new execution sequence.
func (j *Job) BeginRun(runID string, cancel context.CancelFunc) {
	j.mu.Lock()
	j.runID = runID
	j.cancel = cancel
	j.done = make(chan struct{})
	j.mu.Unlock()
}

// EndRun marks the execution sequence as finished and wakes up Wait callers.
func (j *Job) EndRun() {
	j.mu.Lock()
	if j.done != nil {
		close(j.done)
		j.done = nil
	}
	j.cancel = nil
	j.mu.Unlock()
}

// Cancel interrupts blocking I/O of the current run, if any.
func (j *Job) Cancel() {
	j.mu.RLock()
	cancel := j.cancel
	j.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current run, if any, has returned.
func (j *Job) Wait(ctx context.Context) error {
	j.mu.RLock()
	done := j.done
	j.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) CreatedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.createdAt
}

func (j *Job) RunID() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.runID
}

func (j *Job) Snapshot() JobView {
	j.mu.RLock()
	v := JobView{
		ID:                  j.id,
		URL:                 j.url,
		EffectiveURL:        j.effURL,
		Name:                j.name,
		Folder:              j.folder,
		Kind:                j.kind,
		Protocol:            j.protocol,
		Headers:             maps.Clone(j.headers),
		Resumable:           j.resumable,
		Status:              j.status,
		LastError:           j.lastError,
		OnCompletionCommand: j.onCompletionCommand,
		ShutdownPC:          j.shutdownPC,
		Checksums:           maps.Clone(j.checksums),
		CreatedAt:           j.createdAt,
		CompletedAt:         j.completedAt,
		RunID:               j.runID,
	}
	if j.schedule != nil {
		t := *j.schedule
		v.Schedule = &t
	}
	if j.media != nil {
		v.Media = j.media.clone()
	}
	j.mu.RUnlock()

	v.Downloaded = j.Downloaded()
	v.TotalSize = j.TotalSize()
	v.Errors = j.Errors()
	v.Progress = Progress(v.Downloaded, v.TotalSize)
	v.Speed = j.Speed()
	v.ETA = j.ETA()
	return v
}

// Fields flattens the view into the map form observers receive.
func (v JobView) Fields() map[string]any {
	f := map[string]any{
		"id":         v.ID,
		"name":       v.Name,
		"folder":     v.Folder,
		"url":        v.URL,
		"eff_url":    v.EffectiveURL,
		"status":     string(v.Status),
		"downloaded": v.Downloaded,
		"total_size": v.TotalSize,
		"errors":     v.Errors,
		"progress":   v.Progress,
		"speed":      v.Speed,
		"eta":        v.ETA,
	}
	if v.Schedule != nil {
		f["schedule"] = v.Schedule.Format(time.RFC3339)
	}
	if v.LastError != "" {
		f["last_error"] = v.LastError
	}
	return f
}

func (m *MediaInfo) clone() *MediaInfo {
	c := *m
	c.Streams = append([]Stream(nil), m.Streams...)
	return &c
}
