package extractor

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/browser"
	"github.com/nijaru/tubeprompt/models"
	"github.com/nijaru/tubeprompt/transcription"
)

const recordingFilename = "fullVideo.webm"

// recording runs one extra second past the clip length
const recordingTail = time.Second

var (
	engagementCount = regexp.MustCompile(`^[\d.,]+\s*[kKmM]?\s*(likes?|views?|comments?|replies)?$`)
	boilerplate     = map[string]bool{
		"reply": true, "replies": true, "audio": true, "follow": true, "following": true,
		"more": true, "like": true, "likes": true, "share": true, "save": true,
		"original audio": true, "see translation": true, "view replies": true,
	}
	descriptionNoise = []string{"likes", "audio", "view all", "see more"}
)

func (e *Extractor) instagram(ctx context.Context, page browser.Page, job Job) (models.Result, bool) {
	tabID := page.ID()
	log := e.logger.WithFields(logrus.Fields{
		"op":         "Extractor.instagram",
		"tab_id":     tabID,
		"request_id": job.RequestID,
	})

	e.sessions.BeginScraping(tabID)
	defer e.sessions.EndScraping(tabID)

	var caption, description string
	if html, err := page.HTML(ctx); err != nil {
		log.WithError(err).Warn("Could not read page for scraping")
	} else if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		caption = ScrapeShortCaption(doc)
		description = ScrapeDescription(doc)
	}
	if description == "" {
		description = caption
	}

	var rng *models.SliceRange
	if r, err := e.sessions.AwaitRange(ctx, tabID, e.cfg.RangeTimeout); err == nil {
		log.WithField("range", r).Info("Transcript range found")
		rng = &r
	} else if ctx.Err() != nil {
		return models.Failure(models.ErrTimeout, "acquisition cancelled"), true
	} else {
		log.WithError(err).Warn("No transcript range primed, capturing the full clip")
	}

	if !e.sessions.TryBeginCapture(tabID) {
		log.Info("Already capturing audio, ignoring new request")
		return models.Result{}, false
	}
	audio, err := e.capture(ctx, page, log)
	e.sessions.EndCapture(tabID)
	if err != nil {
		log.WithError(err).Error("Audio capture failed")
		return models.Failure(models.ErrMissingPrerequisite, "audio capture failed: %v", err), true
	}

	token, err := e.tokens(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not read auth token")
	}

	resp, err := e.transcriber.Transcribe(ctx, transcription.Request{
		Audio:    audio,
		Filename: recordingFilename,
		Range:    rng,
		Token:    token,
	})
	if err != nil {
		log.WithError(err).Error("Error during transcription request")
		if errors.Is(err, transcription.ErrInvalidResponse) {
			return models.Failure(models.ErrParse, "failed to get text from server"), true
		}
		return models.Failure(models.ErrNetwork, "error during transcription request"), true
	}
	if strings.TrimSpace(resp.Transcript) == "" {
		log.Error("Transcription server returned no text")
		return models.Failure(models.ErrParse, "failed to get text from server"), true
	}

	log.WithField("estimated_tokens", resp.EstimatedTokens).Info("Transcription received")
	e.usage(ctx, job.RequestID, resp.EstimatedTokens)

	return models.Success(models.TranscriptResult{
		Transcript:          resp.Transcript,
		SourceLangCode:      resp.Language,
		Description:         description,
		EstimatedTokenCount: resp.EstimatedTokens,
	}), true
}

// capture records the clip from the start: seek to zero, pause, start the
// recorder, play, and stop after ceil(duration)+1 seconds.
func (e *Extractor) capture(ctx context.Context, page browser.Page, log *logrus.Entry) ([]byte, error) {
	media, err := page.Media(ctx)
	if err != nil {
		return nil, err
	}

	wait := e.captureDuration(ctx, media) + recordingTail

	if err := media.Seek(ctx, 0); err != nil {
		return nil, errors.Wrap(err, "seeking to start")
	}
	if err := media.Pause(ctx); err != nil {
		return nil, errors.Wrap(err, "pausing")
	}
	if err := media.StartRecording(ctx); err != nil {
		return nil, err
	}
	if err := media.Play(ctx); err != nil {
		media.StopRecording(ctx)
		return nil, errors.Wrap(err, "starting playback")
	}
	log.WithField("wait", wait).Info("Recording started")

	if err := e.sleep(ctx, wait); err != nil {
		media.StopRecording(context.Background())
		return nil, err
	}

	audio, err := media.StopRecording(ctx)
	if err != nil {
		return nil, err
	}
	log.WithField("size", humanize.Bytes(uint64(len(audio)))).Info("Recording stopped")
	return audio, nil
}

// CaptureSeconds rounds the clip length up to whole seconds, using fallback
// when the length is unknown.
func CaptureSeconds(duration float64, fallback time.Duration) time.Duration {
	if duration > 0 && !math.IsInf(duration, 0) && !math.IsNaN(duration) {
		return time.Duration(math.Ceil(duration)) * time.Second
	}
	return fallback
}

func (e *Extractor) captureDuration(ctx context.Context, media browser.Media) time.Duration {
	d, err := media.Duration(ctx)
	if err != nil {
		d = 0
	}
	return CaptureSeconds(d, e.cfg.FallbackCapture)
}

// ScrapeShortCaption walks up from the video to the closest ancestor that
// carries readable text and joins that text, minus counters and controls.
func ScrapeShortCaption(doc *goquery.Document) string {
	video := doc.Find("video").First()
	if video.Length() == 0 {
		return ""
	}

	for node := video.Parent(); node.Length() > 0 && !node.Is("body"); node = node.Parent() {
		var tokens []string
		seen := make(map[string]bool)
		node.Find("span, h1, h2").Each(func(_ int, s *goquery.Selection) {
			if s.Children().Length() > 0 {
				return
			}
			text := strings.Join(strings.Fields(s.Text()), " ")
			if !captionToken(text) || seen[text] {
				return
			}
			seen[text] = true
			tokens = append(tokens, text)
		})
		if len(tokens) > 0 {
			return strings.Join(tokens, " ")
		}
	}
	return ""
}

func captionToken(text string) bool {
	if utf8.RuneCountInString(text) < 4 {
		return false
	}
	lower := strings.ToLower(text)
	if boilerplate[lower] || strings.HasPrefix(text, "#") {
		return false
	}
	return !engagementCount.MatchString(lower)
}

// ScrapeDescription prefers a long enough <h1>, then the first span that
// does not look like a handle, hashtag or engagement text.
func ScrapeDescription(doc *goquery.Document) string {
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); utf8.RuneCountInString(h1) > 10 {
		return h1
	}

	var found string
	doc.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if descriptionCandidate(text) {
			found = text
			return false
		}
		return true
	})
	return found
}

func descriptionCandidate(text string) bool {
	if utf8.RuneCountInString(text) <= 10 {
		return false
	}
	if strings.HasPrefix(text, "@") || strings.HasPrefix(text, "#") {
		return false
	}
	lower := strings.ToLower(text)
	for _, noise := range descriptionNoise {
		if strings.Contains(lower, noise) {
			return false
		}
	}
	return true
}
