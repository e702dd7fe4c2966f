package safeurl

import "testing"

func TestIsHTTPOrHTTPS(t *testing.T) {
	tests := []struct {
		url   string
		allow bool
	}{
		{"http://example.com/", true},
		{"https://example.com/path", true},
		{"HTTP://x", true},
		{"file:///etc/passwd", false},
		{"ftp://example.com", false},
		{"", false},
		{"not-a-url", false},
		{"javascript:alert(1)", false},
		{"http://", false},
	}
	for _, tt := range tests {
		got := IsHTTPOrHTTPS(tt.url)
		if got != tt.allow {
			t.Errorf("IsHTTPOrHTTPS(%q) = %v, want %v", tt.url, got, tt.allow)
		}
	}
}

func TestPlayableURL(t *testing.T) {
	tests := []struct {
		cmd  string
		want string
		ok   bool
	}{
		{"http://cdn.example/live/101.m3u8?play_token=x", "http://cdn.example/live/101.m3u8?play_token=x", true},
		{"ffmpeg http://cdn.example/ch/101", "http://cdn.example/ch/101", true},
		{"ffrt  https://cdn.example/s ", "https://cdn.example/s", true},
		{"", "", false},
		{"ffmpeg ", "", false},
		{"ffmpeg rtmp://cdn.example/x", "", false},
	}
	for _, tt := range tests {
		got, ok := PlayableURL(tt.cmd)
		if got != tt.want || ok != tt.ok {
			t.Errorf("PlayableURL(%q) = %q,%v want %q,%v", tt.cmd, got, ok, tt.want, tt.ok)
		}
	}
}
