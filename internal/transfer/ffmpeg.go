package transfer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/datallboy/dlqueue/internal/domain"
)

// streamPartPath keeps the real extension at the end so ffmpeg can pick the
// container from it.
func streamPartPath(job *domain.Job) string {
	target := job.TargetPath()
	ext := filepath.Ext(target)
	return strings.TrimSuffix(target, ext) + ".part" + ext
}

// runFFmpeg remuxes an HLS stream into the job's target. Segmented streams
// can't be resumed, so every attempt starts over.
func (e *HTTPEngine) runFFmpeg(ctx context.Context, job *domain.Job) domain.JobStatus {
	log := e.log.With("job", job.Name())
	part := streamPartPath(job)

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	if h := job.Headers(); len(h) > 0 {
		var sb strings.Builder
		for k, v := range h {
			fmt.Fprintf(&sb, "%s: %s\r\n", k, v)
		}
		args = append(args, "-headers", sb.String())
	}
	args = append(args, "-i", job.EffectiveURL(), "-c", "copy", part)

	cmd := exec.CommandContext(ctx, e.cfg.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug("Running %s %s", e.cfg.FFmpegPath, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		_ = os.Remove(part)
		return e.fail(ctx, job, log, "ffmpeg failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	if ctx.Err() != nil || job.Cancelled() {
		return domain.StatusCancelled
	}

	if info, err := os.Stat(part); err == nil {
		job.SetTotalSize(info.Size())
		job.SetDownloaded(info.Size())
	}
	if err := os.Rename(part, job.TargetPath()); err != nil {
		job.SetLastError(err.Error())
		return domain.StatusError
	}
	return domain.StatusCompleted
}
