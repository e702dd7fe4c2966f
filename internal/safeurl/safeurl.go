package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS returns true if u is a valid absolute URL with scheme http or https.
// Redirect targets are checked with it so a portal can't bounce clients to file:// or javascript:.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return false
	}
	s := strings.ToLower(parsed.Scheme)
	return s == "http" || s == "https"
}

// PlayableURL extracts the stream URL from a create_link cmd. Portals answer with the
// player hint still attached ("ffmpeg http://host/...", "ffrt http://..."), so the last
// whitespace-separated field is used. ok is false when no http(s) URL remains.
func PlayableURL(cmd string) (string, bool) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", false
	}
	u := fields[len(fields)-1]
	if !IsHTTPOrHTTPS(u) {
		return "", false
	}
	return u, true
}
