package browser

import "testing"

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url  string
		want Platform
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", YouTube},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ&t=10", YouTube},
		{"https://www.youtube.com/shorts/abc_DEF-123", YouTube},
		{"https://www.youtube.com/watch", Unsupported},
		{"https://www.youtube.com/feed/subscriptions", Unsupported},
		{"https://www.instagram.com/reel/C1abc/", Instagram},
		{"https://www.instagram.com/reels/C1abc/", Instagram},
		{"https://www.instagram.com/p/C1abc/", Instagram},
		{"https://www.instagram.com/someone/", Unsupported},
		{"https://chatgpt.com/c/123", ChatGPT},
		{"https://example.com/watch?v=1", Unsupported},
		{"not a url", Unsupported},
		{"", Unsupported},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := DetectPlatform(tt.url); got != tt.want {
				t.Errorf("DetectPlatform(%q) = %s, want %s", tt.url, got, tt.want)
			}
		})
	}
}

func TestAcquirable(t *testing.T) {
	if !Acquirable("https://www.instagram.com/p/xyz/") {
		t.Error("instagram post should be acquirable")
	}
	if Acquirable("https://chatgpt.com/") {
		t.Error("chatgpt should not be acquirable")
	}
}

func TestIsShort(t *testing.T) {
	if !IsShort("https://www.youtube.com/shorts/abc") {
		t.Error("expected short")
	}
	if IsShort("https://www.youtube.com/watch?v=abc") {
		t.Error("watch page is not a short")
	}
}
