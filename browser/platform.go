package browser

import (
	"net/url"
	"regexp"
	"strings"
)

type Platform string

const (
	YouTube     Platform = "youtube"
	Instagram   Platform = "instagram"
	ChatGPT     Platform = "chatgpt"
	Unsupported Platform = "unsupported"
)

// EditorSelector matches the ChatGPT prompt surface.
const EditorSelector = `[contenteditable="true"].ProseMirror`

var (
	youtubeWatch   = regexp.MustCompile(`^/watch$`)
	youtubeShorts  = regexp.MustCompile(`^/shorts/[\w-]+`)
	instagramMedia = regexp.MustCompile(`^/(reels|reel|p)/`)
)

func DetectPlatform(raw string) Platform {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Unsupported
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	switch host {
	case "youtube.com", "m.youtube.com":
		if youtubeWatch.MatchString(u.Path) && u.Query().Get("v") != "" {
			return YouTube
		}
		if youtubeShorts.MatchString(u.Path) {
			return YouTube
		}
	case "instagram.com":
		if instagramMedia.MatchString(u.Path) {
			return Instagram
		}
	case "chatgpt.com", "chat.openai.com":
		return ChatGPT
	}
	return Unsupported
}

// IsShort reports whether a YouTube URL is a short-form video.
func IsShort(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && youtubeShorts.MatchString(u.Path)
}

// Acquirable is the allow-list for acquisition targets.
func Acquirable(raw string) bool {
	p := DetectPlatform(raw)
	return p == YouTube || p == Instagram
}
