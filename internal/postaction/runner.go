package postaction

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/infra/logger"
	"github.com/datallboy/dlqueue/internal/metrics"
)

// Action names, also used as the metrics label.
const (
	ActionThumbnail = "thumbnail"
	ActionChecksum  = "checksum"
	ActionTimestamp = "server_timestamp"
	ActionCommand   = "command"
	ActionShutdown  = "shutdown"
	ActionNotify    = "notify"
	ActionBatch     = "batch"
)

type Config struct {
	Thumbnail       bool
	Checksum        bool
	ServerTimestamp bool
	Notify          bool
	NotifyPath      string
}

// Runner performs the follow-up work of a completed job. Every action runs
// even when an earlier one failed.
type Runner struct {
	cfg     Config
	client  *http.Client
	cmd     Commander
	metrics *metrics.Metrics
	log     *logger.Logger
}

func New(cfg Config, client *http.Client, cmd Commander, m *metrics.Metrics, log *logger.Logger) *Runner {
	if cfg.NotifyPath == "" {
		cfg.NotifyPath = "notify-send"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cmd == nil {
		cmd = ShellCommander{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{cfg: cfg, client: client, cmd: cmd, metrics: m, log: log}
}

func (r *Runner) Run(ctx context.Context, job *domain.Job) error {
	log := r.log.With("job", job.Name())
	var errs []error

	step := func(action string, enabled bool, fn func() error) {
		if !enabled {
			return
		}
		if err := fn(); err != nil {
			r.metrics.PostActionFailed(action)
			log.Warn("%s failed: %v", action, err)
			errs = append(errs, fmt.Errorf("%s: %w", action, err))
		}
	}

	media := job.Media()
	step(ActionThumbnail, r.cfg.Thumbnail && media != nil && media.Thumbnail != "", func() error {
		return r.thumbnail(ctx, job, media.Thumbnail)
	})
	step(ActionChecksum, r.cfg.Checksum, func() error {
		return r.checksum(job, log)
	})
	step(ActionTimestamp, r.cfg.ServerTimestamp && job.Kind() == domain.KindPlain, func() error {
		return r.serverTimestamp(ctx, job)
	})
	step(ActionNotify, r.cfg.Notify, func() error {
		return r.cmd.Exec(ctx, r.cfg.NotifyPath, "dlqueue", "Download completed: "+job.Name())
	})
	step(ActionCommand, job.OnCompletionCommand() != "", func() error {
		log.Info("Running completion command")
		bin, args := shellArgs(job.OnCompletionCommand())
		return r.cmd.Exec(ctx, bin, args...)
	})
	step(ActionShutdown, job.ShutdownPC(), func() error {
		log.Info("Shutting down the computer")
		// one-shot, a later re-run of this job must not power off again
		job.SetShutdownPC(false)
		bin, args := shutdownArgs()
		return r.cmd.Exec(ctx, bin, args...)
	})

	return errors.Join(errs...)
}

// RunBatch fires once every job has completed.
func (r *Runner) RunBatch(ctx context.Context, command string, shutdown bool) error {
	var errs []error
	if command != "" {
		r.log.Info("Running post-batch command")
		bin, args := shellArgs(command)
		if err := r.cmd.Exec(ctx, bin, args...); err != nil {
			r.metrics.PostActionFailed(ActionBatch)
			errs = append(errs, fmt.Errorf("%s: %w", ActionBatch, err))
		}
	}
	if shutdown {
		r.log.Info("Shutting down the computer after batch")
		bin, args := shutdownArgs()
		if err := r.cmd.Exec(ctx, bin, args...); err != nil {
			r.metrics.PostActionFailed(ActionShutdown)
			errs = append(errs, fmt.Errorf("%s: %w", ActionShutdown, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) thumbnail(ctx context.Context, job *domain.Job, src string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("thumbnail returned %s", resp.Status)
	}

	ext := path.Ext(req.URL.Path)
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}
	target := job.TargetPath()
	dest := strings.TrimSuffix(target, filepath.Ext(target)) + ext

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (r *Runner) checksum(job *domain.Job, log *logger.Logger) error {
	f, err := os.Open(job.TargetPath())
	if err != nil {
		return err
	}
	defer f.Close()

	md := md5.New()
	sha := sha256.New()
	n, err := io.Copy(io.MultiWriter(md, sha), f)
	if err != nil {
		return err
	}

	sums := map[string]string{
		"md5":    hex.EncodeToString(md.Sum(nil)),
		"sha256": hex.EncodeToString(sha.Sum(nil)),
	}
	job.SetChecksums(sums)
	log.Info("Checksums of %s: md5 %s sha256 %s", humanize.IBytes(uint64(n)), sums["md5"], sums["sha256"])
	return nil
}

// serverTimestamp stamps the file with the server's Last-Modified time.
func (r *Runner) serverTimestamp(ctx context.Context, job *domain.Job) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, job.EffectiveURL(), nil)
	if err != nil {
		return err
	}
	for k, v := range job.Headers() {
		req.Header.Set(k, v)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	lm := resp.Header.Get("Last-Modified")
	if lm == "" {
		return nil
	}
	t, err := http.ParseTime(lm)
	if err != nil {
		return fmt.Errorf("bad Last-Modified %q: %w", lm, err)
	}
	return os.Chtimes(job.TargetPath(), t, t)
}
