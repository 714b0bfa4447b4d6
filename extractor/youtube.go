package extractor

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/browser"
	"github.com/nijaru/tubeprompt/models"
	"github.com/nijaru/tubeprompt/poll"
)

const playerGlobal = "ytInitialPlayerResponse"

var playerAssignment = regexp.MustCompile(`ytInitialPlayerResponse\s*=\s*`)

type playerResponse struct {
	Captions struct {
		Renderer struct {
			CaptionTracks []CaptionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	VideoDetails struct {
		VideoID          string `json:"videoId"`
		Title            string `json:"title"`
		ShortDescription string `json:"shortDescription"`
	} `json:"videoDetails"`
}

func (p *playerResponse) tracks() []CaptionTrack {
	return p.Captions.Renderer.CaptionTracks
}

const (
	descriptionExpander = "#description-inline-expander"
	descriptionExpand   = "#description-inline-expander #expand"
)

var shortsTitleSelectors = []string{
	"yt-shorts-video-title-view-model h2",
	".ytShortsVideoTitleViewModelShortsVideoTitle",
	"#shorts-player .title",
}

func (e *Extractor) youtube(ctx context.Context, page browser.Page, pageURL string, job Job) models.Result {
	log := e.logger.WithFields(logrus.Fields{
		"op":         "Extractor.youtube",
		"tab_id":     page.ID(),
		"request_id": job.RequestID,
	})

	player, err := e.awaitPlayer(ctx, page, videoID(pageURL))
	if err != nil {
		log.WithError(err).Warn("Player configuration not available")
		if errors.Is(err, poll.ErrTimeout) {
			return models.Failure(models.ErrTimeout, "player configuration did not load")
		}
		return models.Failure(models.ErrMissingPrerequisite, "player configuration unavailable: %v", err)
	}

	track, rule := SelectTrack(player.tracks(), job.PreferredLanguage)
	if rule == 0 {
		log.Info("No caption tracks found")
		return models.Failure(models.ErrNoCaptions, "no captions available for this video")
	}
	log.WithFields(logrus.Fields{
		"language": track.LanguageCode,
		"auto":     track.IsAuto(),
		"rule":     rule,
	}).Info("Caption track selected")

	doc, err := page.Fetch(ctx, absoluteCaptionURL(track.BaseURL))
	if err != nil {
		log.WithError(err).Error("Failed to fetch captions")
		return models.Failure(models.ErrNetwork, "failed to fetch captions")
	}

	entries, err := ParseTimedText(doc)
	if err != nil {
		log.WithError(err).Error("Failed to parse captions")
		return models.Failure(models.ErrParse, "failed to parse captions")
	}

	var rng *models.SliceRange
	if r, ok := e.sessions.Range(page.ID()); ok {
		rng = &r
	}

	result := models.TranscriptResult{
		Transcript:     JoinEntries(entries, rng),
		SourceLangCode: track.LanguageCode,
	}
	if result.Transcript == "" {
		return models.Failure(models.ErrNoCaptions, "no captions in the requested range")
	}

	if e.cfg.ScrapeDescription {
		result.Description = e.youtubeDescription(ctx, page, pageURL, player)
	}

	return models.Success(result)
}

// awaitPlayer polls for the embedded player JSON, from the page global or
// the inline script that assigns it. A response for a different video (left
// over from in-app navigation) does not count.
func (e *Extractor) awaitPlayer(ctx context.Context, page browser.Page, wantID string) (*playerResponse, error) {
	var player *playerResponse
	opts := poll.Options{Interval: e.playerInterval, Timeout: e.cfg.PlayerConfigTimeout}

	err := poll.Until(ctx, opts, func(ctx context.Context) (bool, error) {
		raw, err := page.Global(ctx, playerGlobal)
		if err != nil {
			return false, err
		}
		if p := decodePlayer(raw); p != nil && matchesVideo(p, wantID) {
			player = p
			return true, nil
		}

		html, err := page.HTML(ctx)
		if err != nil {
			return false, err
		}
		if p := decodePlayer(scrapePlayer(html)); p != nil && matchesVideo(p, wantID) {
			player = p
			return true, nil
		}
		return false, nil
	})
	return player, err
}

func decodePlayer(raw json.RawMessage) *playerResponse {
	if len(raw) == 0 {
		return nil
	}
	var p playerResponse
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}

func matchesVideo(p *playerResponse, wantID string) bool {
	return wantID == "" || p.VideoDetails.VideoID == "" || p.VideoDetails.VideoID == wantID
}

// scrapePlayer reads the JSON object assigned in an inline script. The
// decoder stops at the end of the first value, so trailing script is fine.
func scrapePlayer(html string) json.RawMessage {
	loc := playerAssignment.FindStringIndex(html)
	if loc == nil {
		return nil
	}
	var raw json.RawMessage
	if err := json.NewDecoder(strings.NewReader(html[loc[1]:])).Decode(&raw); err != nil {
		return nil
	}
	return raw
}

func videoID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	if strings.HasPrefix(u.Path, "/shorts/") {
		return strings.SplitN(strings.TrimPrefix(u.Path, "/shorts/"), "/", 2)[0]
	}
	return ""
}

func absoluteCaptionURL(base string) string {
	if strings.HasPrefix(base, "/") {
		return "https://www.youtube.com" + base
	}
	return base
}

func (e *Extractor) youtubeDescription(ctx context.Context, page browser.Page, pageURL string, player *playerResponse) string {
	log := e.logger.WithFields(logrus.Fields{"op": "Extractor.youtubeDescription", "tab_id": page.ID()})

	if browser.IsShort(pageURL) {
		for _, sel := range shortsTitleSelectors {
			if text, err := page.Text(ctx, sel); err == nil && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
		}
		return player.VideoDetails.Title
	}

	if err := page.Click(ctx, descriptionExpand); err != nil && !errors.Is(err, browser.ErrNoElement) {
		log.WithError(err).Debug("Could not expand description")
	}

	var text string
	_, err := poll.Stable(ctx, poll.Options{Interval: e.descriptionInterval, Timeout: e.cfg.DescriptionWait},
		func(ctx context.Context) (int, error) {
			t, err := page.Text(ctx, descriptionExpander)
			if err != nil {
				return 0, nil
			}
			text = strings.TrimSpace(t)
			return utf8.RuneCountInString(text), nil
		})
	if err != nil && !errors.Is(err, poll.ErrTimeout) {
		log.WithError(err).Debug("Description wait aborted")
	}
	if text != "" {
		return text
	}

	if player.VideoDetails.ShortDescription != "" {
		return player.VideoDetails.ShortDescription
	}
	return metaDescription(ctx, page)
}

func metaDescription(ctx context.Context, page browser.Page) string {
	html, err := page.HTML(ctx)
	if err != nil {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	content, _ := doc.Find(`meta[name="description"]`).Attr("content")
	return strings.TrimSpace(content)
}
