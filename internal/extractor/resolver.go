package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/engine"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

type Config struct {
	YtDlpPath string
	UserAgent string
	Timeout   time.Duration
}

// runFunc executes an external tool and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Resolver turns a URL into download metadata: an HTTP probe for plain files
// and yt-dlp for media pages.
type Resolver struct {
	cfg    Config
	client *http.Client
	run    runFunc
	log    *logger.Logger
}

func New(cfg Config, client *http.Client, log *logger.Logger) *Resolver {
	if cfg.YtDlpPath == "" {
		cfg.YtDlpPath = "yt-dlp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{cfg: cfg, client: client, run: runTool, log: log}
}

func (r *Resolver) Resolve(ctx context.Context, url string, opts engine.ResolveOptions) (*domain.Resolved, error) {
	if opts.Media {
		return r.resolveMedia(ctx, url, opts.Headers)
	}
	meta, err := r.Probe(ctx, url, opts.Headers)
	if err != nil {
		return nil, err
	}
	return &domain.Resolved{HTTP: meta}, nil
}

// Probe asks the server about url without downloading it. Servers that
// reject HEAD are asked for the first byte instead.
func (r *Resolver) Probe(ctx context.Context, url string, headers map[string]string) (*domain.HTTPMeta, error) {
	resp, err := r.do(ctx, http.MethodHead, url, headers, false)
	if err == nil && resp.StatusCode >= 400 {
		resp.Body.Close()
		err = fmt.Errorf("HEAD returned %s", resp.Status)
	}
	if err != nil {
		r.log.Debug("HEAD %s failed (%v), retrying with GET", url, err)
		resp, err = r.do(ctx, http.MethodGet, url, headers, true)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("GET %s returned %s", url, resp.Status)
		}
	}
	defer resp.Body.Close()

	meta := &domain.HTTPMeta{
		EffectiveURL: resp.Request.URL.String(),
		ContentType:  resp.Header.Get("Content-Type"),
		Size:         resp.ContentLength,
		Resumable:    strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
		Filename:     filenameOf(resp),
	}

	if resp.StatusCode == http.StatusPartialContent {
		meta.Resumable = true
		if total, ok := totalFromContentRange(resp.Header.Get("Content-Range")); ok {
			meta.Size = total
		}
	}
	if meta.Size < 0 {
		meta.Size = 0
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			meta.LastModified = t
		}
	}
	return meta, nil
}

func (r *Resolver) do(ctx context.Context, method, url string, headers map[string]string, firstByte bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if firstByte {
		req.Header.Set("Range", "bytes=0-0")
	}
	return r.client.Do(req)
}

func filenameOf(resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}
	base := path.Base(resp.Request.URL.Path)
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// totalFromContentRange parses "bytes 0-0/12345".
func totalFromContentRange(v string) (int64, bool) {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(total, 10, 64)
	return n, err == nil
}

func (r *Resolver) resolveMedia(ctx context.Context, url string, headers map[string]string) (*domain.Resolved, error) {
	args := []string{"-J", "--no-warnings", "--no-progress"}
	for k, v := range headers {
		args = append(args, "--add-header", k+":"+v)
	}
	if r.cfg.UserAgent != "" {
		args = append(args, "--user-agent", r.cfg.UserAgent)
	}
	args = append(args, url)

	out, err := r.run(ctx, r.cfg.YtDlpPath, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("yt-dlp returned empty output")
	}
	return parseInfo(out, url)
}

func runTool(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
