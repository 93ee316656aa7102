package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// videoIDLen is the fixed length of a YouTube video id.
const videoIDLen = 11

var (
	bareIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

	// placeholder words such as "not-a-video" fit the id alphabet but are never ids
	wordLikeRe = regexp.MustCompile(`^[a-z]+(?:-[a-z]+)+$`)
)

// hostAnchor keeps look-alike hosts such as notyoutube.com from matching.
const hostAnchor = `(?:^|//|\.)`

// URL shapes, tried in order. Each captures exactly one candidate id.
var videoURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(hostAnchor + `(?:youtube\.com|youtube-nocookie\.com)/watch\?(?:[^#]*&)?v=([A-Za-z0-9_-]{11})(?:[&#]|$)`),
	regexp.MustCompile(hostAnchor + `youtu\.be/([A-Za-z0-9_-]{11})(?:[?&#/]|$)`),
	regexp.MustCompile(hostAnchor + `(?:youtube\.com|youtube-nocookie\.com)/embed/([A-Za-z0-9_-]{11})(?:[?&#/]|$)`),
	regexp.MustCompile(hostAnchor + `youtube\.com/(?:shorts|live|v)/([A-Za-z0-9_-]{11})(?:[?&#/]|$)`),
}

// Normalize extracts a canonical video id from a bare id or a known URL shape
// (watch?v=, youtu.be/, embed/, shorts/, live/). It performs no I/O.
func Normalize(input string) (VideoID, error) {
	s := strings.TrimSpace(input)
	if len(s) == videoIDLen && bareIDRe.MatchString(s) && !wordLikeRe.MatchString(s) {
		return VideoID(s), nil
	}
	for _, re := range videoURLPatterns {
		if m := re.FindStringSubmatch(s); len(m) == 2 {
			return VideoID(m[1]), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, input)
}
