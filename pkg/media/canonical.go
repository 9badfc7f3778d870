package media

import (
	"regexp"
	"strings"

	"github.com/livelaunch/platform/pkg/common/models"
)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/watch\?(?:[^#\s]*&)?v=([A-Za-z0-9_-]{6,})`),
	regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{6,})`),
	regexp.MustCompile(`youtube\.com/(?:embed|v|live|shorts)/([A-Za-z0-9_-]{6,})`),
}

// CanonicalID extracts the video id from a stream URL. Different URL shapes
// of the same video yield the same id; anything else yields "".
func CanonicalID(url string) string {
	url = strings.TrimSpace(url)
	if url == "" || url == models.NoStream {
		return ""
	}
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

// WatchURL is the public URL announced for a video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
