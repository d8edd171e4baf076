package engine

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/events"
)

// PrepareRequest describes what a user asked to download.
type PrepareRequest struct {
	URL                 string
	Folder              string
	Name                string
	Media               bool
	Stream              string
	Headers             map[string]string
	OnCompletionCommand string
	ShutdownPC          bool
}

// Prepare resolves req into job templates ready for Submit. A playlist yields
// one template per entry. The available choices are published as
// playlist_menu and stream_menu updates.
func (m *Manager) Prepare(ctx context.Context, req PrepareRequest) ([]*domain.Job, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, domain.NewValidationError(req.Name, domain.ErrEmptyURL, "")
	}

	if m.extractor == nil {
		return []*domain.Job{m.plainJob(req, nil)}, nil
	}

	res, err := m.extractor.Resolve(ctx, req.URL, ResolveOptions{Media: req.Media, Headers: req.Headers})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", req.URL, err)
	}

	switch {
	case len(res.Entries) > 0:
		names := make([]string, 0, len(res.Entries))
		jobs := make([]*domain.Job, 0, len(res.Entries))
		for i, entry := range res.Entries {
			names = append(names, fmt.Sprintf("%d- %s", i+1, entry.Title))
			job, err := m.mediaJob(req, entry, true)
			if err != nil {
				m.log.Warn("Skipping playlist entry %q: %v", entry.Title, err)
				continue
			}
			jobs = append(jobs, job)
		}
		m.agg.Emit(events.New(events.CommandPlaylistMenu, "", map[string]any{"url": req.URL, "items": names}))
		return jobs, nil

	case res.Media != nil:
		job, err := m.mediaJob(req, res.Media, false)
		if err != nil {
			return nil, err
		}
		return []*domain.Job{job}, nil

	case res.HTTP != nil:
		if strings.HasPrefix(strings.ToLower(res.HTTP.ContentType), "text/html") {
			return nil, domain.NewValidationError(req.URL, domain.ErrUnsupportedProtocol, "url points to a web page, submit it as media")
		}
		return []*domain.Job{m.plainJob(req, res.HTTP)}, nil
	}

	return nil, fmt.Errorf("resolve %s: extractor returned nothing", req.URL)
}

func (m *Manager) plainJob(req PrepareRequest, meta *domain.HTTPMeta) *domain.Job {
	v := domain.JobView{
		URL:                 req.URL,
		Name:                req.Name,
		Folder:              req.Folder,
		Kind:                domain.KindPlain,
		Protocol:            scheme(req.URL),
		Headers:             req.Headers,
		OnCompletionCommand: req.OnCompletionCommand,
		ShutdownPC:          req.ShutdownPC,
	}
	if meta != nil {
		v.EffectiveURL = meta.EffectiveURL
		v.TotalSize = meta.Size
		v.Resumable = meta.Resumable
		if v.Name == "" {
			v.Name = meta.Filename
		}
	}
	if v.Name == "" {
		v.Name = nameFromURL(req.URL)
	}
	v.Name = domain.SanitizeFileName(v.Name)
	return domain.NewJob(v)
}

func (m *Manager) mediaJob(req PrepareRequest, info *domain.MediaInfo, playlist bool) (*domain.Job, error) {
	var (
		stream domain.Stream
		ok     bool
	)
	if req.Stream != "" {
		stream, _, ok = domain.MatchStream(info.Streams, req.Stream)
	} else {
		stream, ok = domain.BestStream(info.Streams)
	}
	if !ok {
		return nil, domain.NewValidationError(info.Title, domain.ErrUnsupportedProtocol, "no downloadable stream")
	}

	names := make([]string, 0, len(info.Streams))
	for _, s := range info.Streams {
		names = append(names, s.Name)
	}

	source := req.URL
	if info.PageURL != "" {
		source = info.PageURL
	}

	// every playlist entry is named after its own title
	name := req.Name
	if name == "" || playlist {
		name = info.Title
	}
	name = domain.SanitizeFileName(name)
	if ext := "." + stream.Ext; stream.Ext != "" && !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}

	media := *info
	media.Selected = stream.Name

	job := domain.NewJob(domain.JobView{
		URL:                 source,
		EffectiveURL:        stream.URL,
		Name:                name,
		Folder:              req.Folder,
		Kind:                domain.KindMedia,
		Protocol:            stream.Protocol,
		Headers:             req.Headers,
		Resumable:           strings.HasPrefix(stream.Protocol, "http"),
		TotalSize:           stream.Size,
		Media:               &media,
		OnCompletionCommand: req.OnCompletionCommand,
		ShutdownPC:          req.ShutdownPC,
	})

	m.agg.Emit(events.New(events.CommandStreamMenu, job.ID(), map[string]any{
		"name":     name,
		"streams":  names,
		"selected": stream.Name,
	}))
	return job, nil
}

func scheme(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "http"
	}
	return strings.ToLower(u.Scheme)
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return u.Host
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		return unescaped
	}
	return base
}
