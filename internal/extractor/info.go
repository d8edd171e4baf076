package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/datallboy/dlqueue/internal/domain"
)

// ytInfo is the subset of yt-dlp's -J output we use.
type ytInfo struct {
	Type       string     `json:"_type"`
	Title      string     `json:"title"`
	WebpageURL string     `json:"webpage_url"`
	URL        string     `json:"url"`
	Thumbnail  string     `json:"thumbnail"`
	Formats    []ytFormat `json:"formats"`
	Entries    []*ytInfo  `json:"entries"`
}

type ytFormat struct {
	FormatID       string  `json:"format_id"`
	FormatNote     string  `json:"format_note"`
	URL            string  `json:"url"`
	Ext            string  `json:"ext"`
	Protocol       string  `json:"protocol"`
	Height         int     `json:"height"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
}

func parseInfo(raw []byte, source string) (*domain.Resolved, error) {
	var info ytInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode yt-dlp output: %w", err)
	}

	if info.Type == "playlist" || len(info.Entries) > 0 {
		res := &domain.Resolved{}
		for _, e := range info.Entries {
			if e == nil {
				continue
			}
			res.Entries = append(res.Entries, e.media(""))
		}
		if len(res.Entries) == 0 {
			return nil, fmt.Errorf("playlist %q has no entries", info.Title)
		}
		return res, nil
	}

	m := info.media(source)
	if len(m.Streams) == 0 {
		return nil, fmt.Errorf("no downloadable formats for %s", source)
	}
	return &domain.Resolved{Media: m}, nil
}

func (i *ytInfo) media(fallbackPage string) *domain.MediaInfo {
	m := &domain.MediaInfo{
		Title:     i.Title,
		PageURL:   i.WebpageURL,
		Thumbnail: i.Thumbnail,
	}
	if m.PageURL == "" {
		m.PageURL = fallbackPage
	}

	for _, f := range i.Formats {
		if f.URL == "" {
			continue
		}
		audio := f.VCodec == "none" && f.ACodec != "none"
		if f.VCodec == "none" && !audio {
			// storyboards and the like
			continue
		}
		size := f.Filesize
		if size == 0 {
			size = int64(f.FilesizeApprox)
		}
		m.Streams = append(m.Streams, domain.Stream{
			Name:     streamName(f, audio),
			FormatID: f.FormatID,
			URL:      f.URL,
			Ext:      f.Ext,
			Protocol: f.Protocol,
			Height:   f.Height,
			Size:     size,
			Audio:    audio,
		})
	}

	// a single-file page carries its url at the top level
	if len(m.Streams) == 0 && i.URL != "" && len(i.Formats) == 0 {
		m.Streams = append(m.Streams, domain.Stream{Name: "default", URL: i.URL, Protocol: "https"})
	}
	return m
}

func streamName(f ytFormat, audio bool) string {
	label := f.FormatNote
	switch {
	case audio && label == "":
		label = "audio"
	case label == "" && f.Height > 0:
		label = fmt.Sprintf("%dp", f.Height)
	case label == "":
		label = f.FormatID
	}
	parts := []string{label}
	if f.Ext != "" {
		parts = append(parts, f.Ext)
	}
	if f.FormatID != "" && f.FormatID != label {
		parts = append(parts, f.FormatID)
	}
	return strings.Join(parts, " - ")
}
