package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

const defaultChunkSize = 256 * 1024

type Config struct {
	ChunkSize  int
	UserAgent  string
	FFmpegPath string
	// ResponseTimeout bounds the wait for response headers; the body itself
	// is only bounded by the job's context.
	ResponseTimeout time.Duration
}

// HTTPEngine fetches a job over a single HTTP stream into its .part file,
// resuming with a Range request when the server allows it. HLS streams are
// handed to ffmpeg.
type HTTPEngine struct {
	cfg    Config
	client *http.Client
	writer *FileWriter
	log    *logger.Logger
}

func NewHTTPEngine(cfg Config, client *http.Client, log *logger.Logger) *HTTPEngine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.ResponseTimeout,
		}}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPEngine{cfg: cfg, client: client, writer: NewFileWriter(), log: log}
}

// Run performs one attempt. Transport failures bump the job's error counter
// and end the attempt with StatusError so the caller can refresh the link.
func (e *HTTPEngine) Run(ctx context.Context, job *domain.Job) domain.JobStatus {
	if isStream(job.Protocol()) {
		return e.runFFmpeg(ctx, job)
	}

	log := e.log.With("job", job.Name())
	part := job.PartPath()

	offset := int64(0)
	if job.Resumable() {
		if info, err := os.Stat(part); err == nil {
			offset = info.Size()
		}
	}
	if total := job.TotalSize(); total > 0 && offset > total {
		offset = 0
	}

	resp, err := e.request(ctx, job, offset)
	if err != nil {
		return e.fail(ctx, job, log, "request failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 && offset == job.TotalSize():
		// the .part file already holds everything
		job.SetDownloaded(offset)
		return e.finish(job, log)
	case resp.StatusCode == http.StatusOK && offset > 0:
		log.Warn("Server ignored range request, restarting from zero")
		offset = 0
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK:
	default:
		return e.fail(ctx, job, log, "unexpected status %s", resp.Status)
	}

	if resp.ContentLength > 0 && job.TotalSize() == 0 {
		job.SetTotalSize(offset + resp.ContentLength)
	}

	if err := e.writer.Open(part, offset); err != nil {
		log.Error("Could not open %s: %v", part, err)
		job.SetLastError(err.Error())
		return domain.StatusError
	}
	defer e.writer.Close(part)

	job.SetDownloaded(offset)
	if offset > 0 {
		log.Info("Resuming at %s", humanize.IBytes(uint64(offset)))
	}

	buf := make([]byte, e.cfg.ChunkSize)
	for {
		if ctx.Err() != nil || job.Cancelled() {
			return domain.StatusCancelled
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if err := e.writer.WriteAt(part, buf[:n], offset); err != nil {
				log.Error("Write to %s failed: %v", part, err)
				job.SetLastError(err.Error())
				return domain.StatusError
			}
			offset += int64(n)
			job.AddDownloaded(int64(n))
		}

		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return e.fail(ctx, job, log, "read failed at %s: %v", humanize.IBytes(uint64(offset)), rerr)
		}
	}

	if total := job.TotalSize(); total > 0 && offset < total {
		return e.fail(ctx, job, log, "stream ended early at %d of %d bytes", offset, total)
	}
	return e.finish(job, log)
}

func (e *HTTPEngine) request(ctx context.Context, job *domain.Job, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.EffectiveURL(), nil)
	if err != nil {
		return nil, err
	}
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	for k, v := range job.Headers() {
		req.Header.Set(k, v)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	return e.client.Do(req)
}

func (e *HTTPEngine) fail(ctx context.Context, job *domain.Job, log *logger.Logger, format string, args ...any) domain.JobStatus {
	if ctx.Err() != nil || job.Cancelled() {
		return domain.StatusCancelled
	}
	msg := fmt.Sprintf(format, args...)
	n := job.IncErrors()
	job.SetLastError(msg)
	log.Warn("Attempt error %d: %s", n, msg)
	return domain.StatusError
}

func (e *HTTPEngine) finish(job *domain.Job, log *logger.Logger) domain.JobStatus {
	if err := e.writer.Finalize(job.PartPath(), job.TargetPath()); err != nil {
		log.Error("Finalize failed: %v", err)
		job.SetLastError(err.Error())
		return domain.StatusError
	}
	return domain.StatusCompleted
}

// Close releases the .part handles of attempts that never returned.
func (e *HTTPEngine) Close() {
	e.writer.CloseAll()
}

// Cleanup removes whatever partial output the job left behind.
func (e *HTTPEngine) Cleanup(job *domain.Job) error {
	var errs []error
	for _, p := range []string{job.PartPath(), streamPartPath(job)} {
		if err := e.writer.Discard(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isStream(protocol string) bool {
	return strings.HasPrefix(strings.ToLower(protocol), "m3u8")
}
