package domain

import (
	"strings"
	"time"
)

// Stream is one selectable format of a media resource.
type Stream struct {
	Name     string `json:"name"`
	FormatID string `json:"format_id"`
	URL      string `json:"url"`
	Ext      string `json:"ext"`
	Protocol string `json:"protocol"`
	Height   int    `json:"height,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Audio    bool   `json:"audio,omitempty"`
}

// MediaInfo is what an extractor knows about a media resource.
type MediaInfo struct {
	Title     string   `json:"title"`
	PageURL   string   `json:"page_url,omitempty"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Streams   []Stream `json:"streams,omitempty"`
	Selected  string   `json:"selected,omitempty"`
	Audio     string   `json:"audio,omitempty"`
}

// HTTPMeta holds the result of probing a plain URL.
type HTTPMeta struct {
	EffectiveURL string    `json:"effective_url"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	Resumable    bool      `json:"resumable"`
	Filename     string    `json:"filename"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

// Resolved is what Extractor.Resolve hands back. Exactly one of HTTP or Media
// is set, except for playlists where Entries holds one MediaInfo per item.
type Resolved struct {
	HTTP    *HTTPMeta
	Media   *MediaInfo
	Entries []*MediaInfo
}

// MatchStream finds the stream called name. When there is no exact match it
// falls back to a case-insensitive partial match on the name, then to the
// first stream. exact reports whether the first rule matched.
func MatchStream(streams []Stream, name string) (s Stream, exact bool, ok bool) {
	if len(streams) == 0 {
		return Stream{}, false, false
	}
	for _, st := range streams {
		if st.Name == name {
			return st, true, true
		}
	}

	want := strings.ToLower(strings.TrimSpace(name))
	if want != "" {
		for _, st := range streams {
			got := strings.ToLower(st.Name)
			if strings.Contains(got, want) || strings.Contains(want, got) {
				return st, false, true
			}
		}
	}
	return streams[0], false, true
}

// BestStream picks the tallest video stream, or the first stream when none carries a height.
func BestStream(streams []Stream) (Stream, bool) {
	if len(streams) == 0 {
		return Stream{}, false
	}
	best := streams[0]
	for _, st := range streams[1:] {
		if !st.Audio && st.Height > best.Height {
			best = st
		}
	}
	return best, true
}
