// Package extractor acquires a transcript from the page in a tab. It picks
// one strategy per run from the page's platform and reports a tagged result.
package extractor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/browser"
	"github.com/nijaru/tubeprompt/config"
	"github.com/nijaru/tubeprompt/models"
	"github.com/nijaru/tubeprompt/session"
	"github.com/nijaru/tubeprompt/transcription"
)

type Transcriber interface {
	Transcribe(ctx context.Context, req transcription.Request) (*transcription.Response, error)
}

// TokenSource returns the bearer credential for the transcription server.
type TokenSource func(ctx context.Context) (string, error)

// UsageFunc receives the server's token estimate for a finished transcription.
type UsageFunc func(ctx context.Context, requestID string, tokens int)

type Job struct {
	RequestID         string
	PreferredLanguage string
}

type Extractor struct {
	cfg         config.AcquisitionConfig
	sessions    *session.Store
	transcriber Transcriber
	tokens      TokenSource
	usage       UsageFunc
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *logrus.Logger

	// poll intervals, shortened in tests
	playerInterval      time.Duration
	descriptionInterval time.Duration
}

type Option func(*Extractor)

func WithTokenSource(ts TokenSource) Option {
	return func(e *Extractor) { e.tokens = ts }
}

func WithUsage(fn UsageFunc) Option {
	return func(e *Extractor) { e.usage = fn }
}

// WithSleep replaces the wall-clock wait used while recording.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Extractor) { e.sleep = fn }
}

func WithPollIntervals(player, description time.Duration) Option {
	return func(e *Extractor) {
		e.playerInterval = player
		e.descriptionInterval = description
	}
}

func New(cfg config.AcquisitionConfig, sessions *session.Store, t Transcriber, logger *logrus.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		cfg:                 cfg,
		sessions:            sessions,
		transcriber:         t,
		logger:              logger,
		tokens:              func(context.Context) (string, error) { return "", nil },
		usage:               func(context.Context, string, int) {},
		sleep:               sleepCtx,
		playerInterval:      100 * time.Millisecond,
		descriptionInterval: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract runs the strategy for the page's platform. The second return is
// false when nothing should be reported: unsupported pages, and a capture
// request that lost the race to one already recording.
func (e *Extractor) Extract(ctx context.Context, page browser.Page, job Job) (models.Result, bool) {
	const op = "Extractor.Extract"

	url, err := page.URL(ctx)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"op":     op,
			"tab_id": page.ID(),
		}).Error("Failed to read tab URL")
		return models.Failure(models.ErrMissingPrerequisite, "could not read tab URL"), true
	}

	log := e.logger.WithFields(logrus.Fields{
		"op":         op,
		"tab_id":     page.ID(),
		"request_id": job.RequestID,
	})

	switch browser.DetectPlatform(url) {
	case browser.YouTube:
		log.Info("YouTube page detected")
		return e.youtube(ctx, page, url, job), true
	case browser.Instagram:
		log.Info("Instagram reel or post detected")
		return e.instagram(ctx, page, job)
	default:
		log.WithField("url", url).Debug("Not a supported page")
		return models.Result{}, false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
