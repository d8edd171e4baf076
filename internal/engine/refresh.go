package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

var errNoExtractor = errors.New("no extractor configured")

// Refresher re-derives the effective URL of a job whose link may have expired.
type Refresher struct {
	extractor Extractor
	log       *logger.Logger
}

func NewRefresher(extractor Extractor, log *logger.Logger) *Refresher {
	return &Refresher{extractor: extractor, log: log}
}

// Refresh updates job in place. On error the job is left untouched.
func (r *Refresher) Refresh(ctx context.Context, job *domain.Job) error {
	if r.extractor == nil {
		return errNoExtractor
	}

	media := job.Kind() == domain.KindMedia
	res, err := r.extractor.Resolve(ctx, job.URL(), ResolveOptions{Media: media, Headers: job.Headers()})
	if err != nil {
		return fmt.Errorf("resolve %s: %w", job.URL(), err)
	}

	if media {
		return r.refreshMedia(job, res)
	}

	if res.HTTP == nil {
		return errors.New("extractor returned no http metadata")
	}
	if strings.HasPrefix(strings.ToLower(res.HTTP.ContentType), "text/html") {
		return fmt.Errorf("refresh of %s returned an html page", job.URL())
	}
	if res.HTTP.EffectiveURL != "" {
		job.SetEffectiveURL(res.HTTP.EffectiveURL)
	}
	return nil
}

func (r *Refresher) refreshMedia(job *domain.Job, res *domain.Resolved) error {
	if res.Media == nil {
		return errors.New("extractor returned no media info")
	}

	var want string
	if cur := job.Media(); cur != nil {
		want = cur.Selected
	}

	stream, exact, ok := domain.MatchStream(res.Media.Streams, want)
	if !ok {
		return errors.New("refreshed media has no streams")
	}
	if !exact {
		r.log.Warn("Stream %q no longer offered for %s, using %q", want, job.Name(), stream.Name)
	}
	job.ApplyStream(*res.Media, stream)
	return nil
}
