package platform

import (
	"fmt"
	"os/exec"
)

// OptionalBinaries are tools that unlock extra features when present.
var OptionalBinaries = map[string]string{
	"ffmpeg":      "media and HLS downloads",
	"yt-dlp":      "media extraction",
	"notify-send": "desktop notifications",
}

// Tools resolves external binaries, with per-name overrides from config.
type Tools struct {
	paths    map[string]string
	lookPath func(string) (string, error)
}

// NewTools maps logical tool names (ffmpeg, yt-dlp) to configured paths.
func NewTools(paths map[string]string) *Tools {
	return &Tools{paths: paths, lookPath: exec.LookPath}
}

// Check reports the first tool that can't be found.
func (t *Tools) Check(names ...string) error {
	for _, name := range names {
		if _, err := t.lookPath(t.path(name)); err != nil {
			return fmt.Errorf("required dependency: '%s' not found in PATH", name)
		}
	}
	return nil
}

func (t *Tools) path(name string) string {
	if p, ok := t.paths[name]; ok && p != "" {
		return p
	}
	return name
}

// Missing lists the optional binaries that are not installed, keyed by the feature they enable.
func (t *Tools) Missing() map[string]string {
	out := make(map[string]string)
	for bin, feature := range OptionalBinaries {
		if _, err := t.lookPath(t.path(bin)); err != nil {
			out[bin] = feature
		}
	}
	return out
}
