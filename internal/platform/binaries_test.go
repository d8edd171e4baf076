package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTools_Check(t *testing.T) {
	tools := NewTools(map[string]string{"ffmpeg": "/opt/ffmpeg/bin/ffmpeg"})
	var looked []string
	tools.lookPath = func(p string) (string, error) {
		looked = append(looked, p)
		if p == "/opt/ffmpeg/bin/ffmpeg" {
			return p, nil
		}
		return "", errors.New("not found")
	}

	assert.NoError(t, tools.Check("ffmpeg"))
	err := tools.Check("ffmpeg", "yt-dlp")
	assert.ErrorContains(t, err, "yt-dlp")
	assert.Equal(t, []string{"/opt/ffmpeg/bin/ffmpeg", "/opt/ffmpeg/bin/ffmpeg", "yt-dlp"}, looked)

	missing := tools.Missing()
	assert.Contains(t, missing, "yt-dlp")
	assert.Contains(t, missing, "notify-send")
	assert.NotContains(t, missing, "ffmpeg")
}
