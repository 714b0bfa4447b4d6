// Package dispatcher is the long-lived coordinator. It owns the tab leases,
// primes ranges before running the extractor, decides which results are
// relayed, and delivers composed prompts into the chat tab.
package dispatcher

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/browser"
	"github.com/nijaru/tubeprompt/config"
	"github.com/nijaru/tubeprompt/db"
	"github.com/nijaru/tubeprompt/errors"
	"github.com/nijaru/tubeprompt/extractor"
	"github.com/nijaru/tubeprompt/models"
	"github.com/nijaru/tubeprompt/session"
	"github.com/nijaru/tubeprompt/validation"
)

// completionTimeout bounds the store, archive and publish steps that follow
// an extraction.
const completionTimeout = 10 * time.Second

// Store persists acquisition records and preferences.
type Store interface {
	SaveAcquisition(ctx context.Context, a *models.Acquisition) error
	GetAcquisition(ctx context.Context, id string) (*models.Acquisition, error)
	LatestReady(ctx context.Context) (*models.Acquisition, error)
	ExpirePending(ctx context.Context, maxAge time.Duration) (int64, error)
	Preference(ctx context.Context, key string) (string, error)
}

type Publisher interface {
	Publish(env models.Envelope)
}

type Archiver interface {
	Save(ctx context.Context, a *models.Acquisition) error
}

// Acquirer runs one acquisition against a page.
type Acquirer interface {
	Extract(ctx context.Context, page browser.Page, job extractor.Job) (models.Result, bool)
}

type Dispatcher struct {
	host      browser.Host
	sessions  *session.Store
	extractor Acquirer
	store     Store
	events    Publisher
	archive   Archiver
	cfg       *config.Config
	client    *http.Client
	logger    *logrus.Logger
	newID     func() string

	mu     sync.Mutex
	leases map[string]string // tab id -> request id

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Dispatcher)

// WithArchive enables archiving of accepted transcripts.
func WithArchive(a Archiver) Option {
	return func(d *Dispatcher) { d.archive = a }
}

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) { d.newID = fn }
}

func New(
	cfg *config.Config,
	host browser.Host,
	sessions *session.Store,
	acquirer Acquirer,
	store Store,
	events Publisher,
	logger *logrus.Logger,
	opts ...Option,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		host:      host,
		sessions:  sessions,
		extractor: acquirer,
		store:     store,
		events:    events,
		cfg:       cfg,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		newID:     func() string { return uuid.New().String() },
		leases:    make(map[string]string),
		base:      ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Recover fails records a previous process left pending.
func (d *Dispatcher) Recover(ctx context.Context) error {
	n, err := d.store.ExpirePending(ctx, d.cfg.Acquisition.Timeout)
	if err != nil {
		return err
	}
	if n > 0 {
		d.logger.WithField("count", n).Warn("Expired acquisitions left pending by a previous run")
	}
	return nil
}

// Shutdown cancels in-flight acquisitions and deliveries and waits for them.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until background work finishes. Used by tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// StartAcquisition resolves the target tab, primes its range and runs the
// extractor in the background. It returns the request id that will carry the
// result. Unresolvable or unsupported tabs are ignored: the id is returned
// but no result will ever arrive for it.
func (d *Dispatcher) StartAcquisition(ctx context.Context, req models.AcquisitionRequest) (string, error) {
	const op = "Dispatcher.StartAcquisition"

	rng, err := validation.ValidateRange(req.Range)
	if err != nil {
		return "", errors.InvalidInput(op, err, err.Error())
	}
	if err := validation.ValidateLanguage(req.PreferredLanguage); err != nil {
		return "", errors.InvalidInput(op, err, err.Error())
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = d.newID()
	}
	log := d.logger.WithFields(logrus.Fields{"op": op, "request_id": requestID})

	page, err := d.resolveTab(ctx, req.TargetTabID)
	if err != nil {
		log.WithError(err).WithField("tab_id", req.TargetTabID).Warn("No target tab, ignoring acquisition")
		return requestID, nil
	}
	tabID := page.ID()
	log = log.WithField("tab_id", tabID)

	pageURL, err := page.URL(ctx)
	if err != nil {
		log.WithError(err).Warn("Tab lookup failed, ignoring acquisition")
		return requestID, nil
	}
	if err := validation.ValidateTabURL(pageURL); err != nil {
		log.WithError(err).WithField("url", pageURL).Info("Unsupported page, ignoring acquisition")
		return requestID, nil
	}
	platform := browser.DetectPlatform(pageURL)

	d.mu.Lock()
	if current, ok := d.leases[tabID]; ok && d.sessions.Flags(tabID).Active() {
		d.mu.Unlock()
		log.WithField("lease", current).Info("Acquisition already running on tab, joining it")
		return current, nil
	}
	d.leases[tabID] = requestID
	// the range is primed before the extractor can observe the tab
	if rng != nil {
		d.sessions.Prime(tabID, *rng)
	} else {
		d.sessions.ClearRange(tabID)
	}
	d.mu.Unlock()

	language := req.PreferredLanguage
	if language == "" {
		language = d.preference(ctx, db.PrefPreferredLanguage, d.cfg.Acquisition.DefaultLanguage)
	}

	status := models.StatusPending
	if platform == browser.Instagram {
		status = models.StatusCapturing
	}
	record := &models.Acquisition{
		ID:       requestID,
		TabID:    tabID,
		URL:      pageURL,
		Platform: string(platform),
		Status:   status,
		Range:    rng,
		Language: language,
	}
	if err := d.store.SaveAcquisition(ctx, record); err != nil {
		log.WithError(err).Error("Failed to record acquisition")
	}

	log.WithFields(logrus.Fields{"platform": platform, "range": rng}).Info("Acquisition started")

	d.wg.Add(1)
	go d.run(page, record, extractor.Job{RequestID: requestID, PreferredLanguage: language})

	return requestID, nil
}

func (d *Dispatcher) resolveTab(ctx context.Context, tabID string) (browser.Page, error) {
	if tabID != "" {
		return d.host.Tab(ctx, tabID)
	}
	return d.host.ActiveTab(ctx, browser.Acquirable)
}

func (d *Dispatcher) run(page browser.Page, record *models.Acquisition, job extractor.Job) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(d.base, d.cfg.Acquisition.Timeout)
	defer cancel()

	res, report := d.extractor.Extract(ctx, page, job)

	// ctx may have expired with the acquisition; the outcome is still recorded.
	done, cancelDone := context.WithTimeout(context.WithoutCancel(d.base), completionTimeout)
	defer cancelDone()

	if !report {
		d.logger.WithFields(logrus.Fields{
			"request_id": job.RequestID,
			"tab_id":     page.ID(),
		}).Info("Extractor produced no report")
		d.markDropped(done, record, "no report from extractor")
		return
	}

	d.OnAcquisitionComplete(done, res, page.ID(), job.RequestID)
}

// OnAcquisitionComplete decides whether a result is relayed. A result is
// dropped when a newer request holds the tab's lease or when the tab still
// has a capture or scrape in progress.
func (d *Dispatcher) OnAcquisitionComplete(ctx context.Context, res models.Result, tabID, requestID string) bool {
	const op = "Dispatcher.OnAcquisitionComplete"
	log := d.logger.WithFields(logrus.Fields{"op": op, "request_id": requestID, "tab_id": tabID})

	record, err := d.store.GetAcquisition(ctx, requestID)
	if err != nil {
		log.WithError(err).Warn("No record for result")
		record = &models.Acquisition{ID: requestID, TabID: tabID}
	}

	d.mu.Lock()
	lease, held := d.leases[tabID]
	flags := d.sessions.Flags(tabID)
	stale := !held || lease != requestID
	if !stale && !flags.Active() {
		delete(d.leases, tabID)
	}
	d.mu.Unlock()

	switch {
	case stale:
		log.WithField("lease", lease).Info("Result superseded by a newer request, dropping")
		d.markDropped(ctx, record, "superseded by a newer request")
		return false
	case flags.Active():
		log.WithFields(logrus.Fields{
			"audio_capture": flags.AudioCaptureInProgress,
			"scraping":      flags.InstagramScraping,
		}).Info("Acquisition still active on tab, dropping premature result")
		d.markDropped(ctx, record, "acquisition still active")
		return false
	}

	if res.OK {
		record.Status = models.StatusReady
		record.Transcript = res.Value.Transcript
		record.SourceLangCode = res.Value.SourceLangCode
		record.Description = res.Value.Description
		record.TokenEstimate = res.Value.EstimatedTokenCount
		record.Reason, record.Error = "", ""
	} else {
		record.Status = models.StatusFailed
		record.Reason = res.Reason
		record.Error = res.Detail
	}
	if err := d.store.SaveAcquisition(ctx, record); err != nil {
		log.WithError(err).Error("Failed to save result")
	}

	if res.OK && d.archive != nil {
		if err := d.archive.Save(ctx, record); err != nil {
			log.WithError(err).Warn("Failed to archive transcript")
		}
	}

	d.publish(models.MsgTranscriptReady, requestID, models.TranscriptReady{Result: res, TabID: tabID})
	log.WithFields(logrus.Fields{"ok": res.OK, "reason": res.Reason}).Info("Result relayed")
	return true
}

func (d *Dispatcher) markDropped(ctx context.Context, record *models.Acquisition, why string) {
	if record.Status == models.StatusReady {
		return
	}
	record.Status = models.StatusDropped
	record.Reason = models.ErrStale
	record.Error = why
	if err := d.store.SaveAcquisition(ctx, record); err != nil {
		d.logger.WithError(err).WithField("request_id", record.ID).Error("Failed to save dropped record")
	}
}

// SetRange primes a range for a tab outside an acquisition request, the
// way a page that finished loading asks for the range it missed.
func (d *Dispatcher) SetRange(ctx context.Context, tabID string, r models.TimeRange) error {
	const op = "Dispatcher.SetRange"

	if tabID == "" {
		return errors.InvalidInput(op, nil, "tab_id is required")
	}
	rng, err := validation.ValidateRange(r)
	if err != nil {
		return errors.InvalidInput(op, err, err.Error())
	}
	if rng == nil {
		d.sessions.ClearRange(tabID)
	} else {
		d.sessions.Prime(tabID, *rng)
	}
	d.logger.WithFields(logrus.Fields{"op": op, "tab_id": tabID, "range": rng}).Info("Transcript range set")
	return nil
}

func (d *Dispatcher) Acquisition(ctx context.Context, id string) (*models.Acquisition, error) {
	return d.store.GetAcquisition(ctx, id)
}

// Tabs lists open tabs tagged with their platform.
func (d *Dispatcher) Tabs(ctx context.Context) ([]models.TabInfo, error) {
	const op = "Dispatcher.Tabs"

	pages, err := d.host.Tabs(ctx)
	if err != nil {
		return nil, errors.Unavailable(op, err, "browser unavailable")
	}

	tabs := make([]models.TabInfo, 0, len(pages))
	for _, p := range pages {
		u, err := p.URL(ctx)
		if err != nil {
			continue
		}
		title, _ := p.Title(ctx)
		tabs = append(tabs, models.TabInfo{
			ID:       p.ID(),
			URL:      u,
			Title:    title,
			Platform: string(browser.DetectPlatform(u)),
		})
	}
	return tabs, nil
}

func (d *Dispatcher) publish(t models.MessageType, requestID string, payload any) {
	env, err := models.NewEnvelope(t, requestID, payload)
	if err != nil {
		d.logger.WithError(err).WithField("type", t).Error("Failed to encode event")
		return
	}
	d.events.Publish(env)
}

func (d *Dispatcher) preference(ctx context.Context, key, fallback string) string {
	v, err := d.store.Preference(ctx, key)
	if err != nil {
		d.logger.WithError(err).WithField("key", key).Warn("Failed to read preference")
	}
	if v == "" {
		return fallback
	}
	return v
}
