package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/events"
)

func TestPrepare_PlainURL(t *testing.T) {
	ext := &fakeExtractor{res: &domain.Resolved{HTTP: &domain.HTTPMeta{
		EffectiveURL: "https://cdn.test/files/report.pdf",
		ContentType:  "application/pdf",
		Size:         2048,
		Resumable:    true,
		Filename:     "report.pdf",
	}}}
	h := newHarness(t, fastConfig(1, 0), newGateEngine(), ext)

	jobs, err := h.m.Prepare(context.Background(), PrepareRequest{URL: "https://example.test/dl?id=7", Folder: h.dir})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "report.pdf", job.Name())
	assert.Equal(t, int64(2048), job.TotalSize())
	assert.True(t, job.Resumable())
	assert.Equal(t, domain.KindPlain, job.Kind())
	assert.Equal(t, "https", job.Protocol())
	assert.Equal(t, "https://cdn.test/files/report.pdf", job.EffectiveURL())
}

func TestPrepare_RejectsWebPage(t *testing.T) {
	ext := &fakeExtractor{res: &domain.Resolved{HTTP: &domain.HTTPMeta{ContentType: "text/html"}}}
	h := newHarness(t, fastConfig(1, 0), newGateEngine(), ext)

	_, err := h.m.Prepare(context.Background(), PrepareRequest{URL: "https://example.test/", Folder: h.dir})
	assert.ErrorIs(t, err, domain.ErrUnsupportedProtocol)
}

func TestPrepare_WithoutExtractorUsesURLName(t *testing.T) {
	h := newHarness(t, fastConfig(1, 0), newGateEngine(), nil)

	jobs, err := h.m.Prepare(context.Background(), PrepareRequest{URL: "http://example.test/a%20b.iso", Folder: h.dir})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a b.iso", jobs[0].Name())
}

func TestPrepare_MediaPicksStream(t *testing.T) {
	ext := &fakeExtractor{res: &domain.Resolved{Media: &domain.MediaInfo{
		Title: "Talk: Go/Concurrency",
		Streams: []domain.Stream{
			{Name: "360p", URL: "https://v/360", Ext: "mp4", Protocol: "https", Height: 360},
			{Name: "1080p", URL: "https://v/1080", Ext: "mp4", Protocol: "https", Height: 1080, Size: 5000},
			{Name: "audio", URL: "https://v/a", Ext: "m4a", Protocol: "https", Audio: true},
		},
	}}}
	h := newHarness(t, fastConfig(1, 0), newGateEngine(), ext)

	jobs, err := h.m.Prepare(context.Background(), PrepareRequest{URL: "https://v/watch", Folder: h.dir, Media: true})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "Talk_ Go_Concurrency.mp4", job.Name())
	assert.Equal(t, "https://v/1080", job.EffectiveURL())
	assert.Equal(t, int64(5000), job.TotalSize())
	assert.Equal(t, "1080p", job.Media().Selected)

	menus := h.sink.byCommand(events.CommandStreamMenu)
	require.Len(t, menus, 1)
	assert.Equal(t, []string{"360p", "1080p", "audio"}, menus[0]["streams"])

	jobs, err = h.m.Prepare(context.Background(), PrepareRequest{URL: "https://v/watch", Folder: h.dir, Media: true, Stream: "360p"})
	require.NoError(t, err)
	assert.Equal(t, "https://v/360", jobs[0].EffectiveURL())
}

func TestPrepare_PlaylistYieldsOneJobPerEntry(t *testing.T) {
	entry := func(title string) *domain.MediaInfo {
		return &domain.MediaInfo{Title: title, Streams: []domain.Stream{{Name: "720p", URL: "https://v/" + title, Ext: "webm", Protocol: "https", Height: 720}}}
	}
	ext := &fakeExtractor{res: &domain.Resolved{Entries: []*domain.MediaInfo{entry("one"), entry("two"), {Title: "empty"}}}}
	h := newHarness(t, fastConfig(1, 0), newGateEngine(), ext)

	jobs, err := h.m.Prepare(context.Background(), PrepareRequest{URL: "https://v/list", Folder: h.dir, Media: true, Name: "ignored"})
	require.NoError(t, err)
	require.Len(t, jobs, 2, "entries without streams are skipped")
	assert.Equal(t, "one.webm", jobs[0].Name())
	assert.Equal(t, "two.webm", jobs[1].Name())

	menus := h.sink.byCommand(events.CommandPlaylistMenu)
	require.Len(t, menus, 1)
	assert.Equal(t, []string{"1- one", "2- two", "3- empty"}, menus[0]["items"])
}
