package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/config"
)

// Rod drives a Chrome instance over the DevTools protocol.
type Rod struct {
	browser *rod.Browser
	logger  *logrus.Logger
}

// Connect attaches to cfg.ControlURL, or launches a local browser when it
// is empty.
func Connect(cfg config.BrowserConfig, logger *logrus.Logger) (*Rod, error) {
	controlURL := cfg.ControlURL
	var err error

	switch {
	case controlURL == "":
		l := launcher.New().
			Headless(cfg.Headless).
			Set("mute-audio").
			Set("disable-blink-features", "AutomationControlled").
			Set("autoplay-policy", "no-user-gesture-required")
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		controlURL, err = l.Launch()
	case strings.HasPrefix(controlURL, "http"):
		controlURL, err = launcher.ResolveURL(controlURL)
	}
	if err != nil {
		return nil, errors.Wrap(err, "resolving browser control URL")
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, errors.Wrap(err, "connecting to browser")
	}

	logger.WithField("control_url", controlURL).Info("Connected to browser")
	return &Rod{browser: b, logger: logger}, nil
}

func (r *Rod) Close() error {
	return r.browser.Close()
}

func (r *Rod) Tab(ctx context.Context, id string) (Page, error) {
	pages, err := r.browser.Context(ctx).Pages()
	if err != nil {
		return nil, errors.Wrap(err, "listing tabs")
	}
	for _, p := range pages {
		if string(p.TargetID) == id {
			return &rodPage{page: p}, nil
		}
	}
	return nil, ErrTabNotFound
}

func (r *Rod) Tabs(ctx context.Context) ([]Page, error) {
	pages, err := r.browser.Context(ctx).Pages()
	if err != nil {
		return nil, errors.Wrap(err, "listing tabs")
	}
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, &rodPage{page: p})
	}
	return out, nil
}

func (r *Rod) ActiveTab(ctx context.Context, match func(string) bool) (Page, error) {
	pages, err := r.browser.Context(ctx).Pages()
	if err != nil {
		return nil, errors.Wrap(err, "listing tabs")
	}
	for _, p := range pages {
		page := &rodPage{page: p}
		u, err := page.URL(ctx)
		if err != nil || !match(u) {
			continue
		}
		visible, err := page.visible(ctx)
		if err != nil {
			r.logger.WithError(err).WithField("tab_id", page.ID()).Debug("Visibility check failed")
			continue
		}
		if visible {
			return page, nil
		}
	}
	return nil, ErrNoActiveTab
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) ID() string {
	return string(p.page.TargetID)
}

func (p *rodPage) info(ctx context.Context) (*proto.TargetTargetInfo, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return nil, errors.Wrap(err, "reading tab info")
	}
	return info, nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.info(ctx)
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	info, err := p.info(ctx)
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	return html, errors.Wrap(err, "reading page html")
}

func (p *rodPage) eval(ctx context.Context, js string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	return p.page.Context(ctx).Eval(js, args...)
}

func (p *rodPage) visible(ctx context.Context) (bool, error) {
	res, err := p.eval(ctx, `() => document.visibilityState === "visible"`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

const globalJS = `(name) => {
	const v = window[name];
	return v === undefined || v === null ? null : JSON.stringify(v);
}`

func (p *rodPage) Global(ctx context.Context, name string) (json.RawMessage, error) {
	res, err := p.eval(ctx, globalJS, name)
	if err != nil {
		return nil, errors.Wrapf(err, "reading window.%s", name)
	}
	if res.Value.Nil() {
		return nil, nil
	}
	return json.RawMessage(res.Value.Str()), nil
}

const fetchJS = `(u) => fetch(u, {credentials: "include"}).then(r => {
	if (!r.ok) throw new Error("HTTP " + r.status);
	return r.text();
})`

func (p *rodPage) Fetch(ctx context.Context, url string) (string, error) {
	res, err := p.eval(ctx, fetchJS, url)
	if err != nil {
		return "", errors.Wrap(err, "fetching from page")
	}
	return res.Value.Str(), nil
}

func (p *rodPage) Exists(ctx context.Context, selector string) (bool, error) {
	has, _, err := p.page.Context(ctx).Has(selector)
	return has, err
}

const clickJS = `(s) => {
	const el = document.querySelector(s);
	if (!el) return false;
	el.click();
	return true;
}`

func (p *rodPage) Click(ctx context.Context, selector string) error {
	res, err := p.eval(ctx, clickJS, selector)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		return ErrNoElement
	}
	return nil
}

const textJS = `(s) => {
	const el = document.querySelector(s);
	return el ? (el.innerText || el.textContent || "") : null;
}`

func (p *rodPage) Text(ctx context.Context, selector string) (string, error) {
	res, err := p.eval(ctx, textJS, selector)
	if err != nil {
		return "", err
	}
	if res.Value.Nil() {
		return "", ErrNoElement
	}
	return res.Value.Str(), nil
}

func (p *rodPage) Focus(ctx context.Context, selector string) error {
	has, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return err
	}
	if !has {
		return ErrNoElement
	}
	return el.Focus()
}

func (p *rodPage) InsertText(ctx context.Context, text string) error {
	return p.page.Context(ctx).InsertText(text)
}

func (p *rodPage) Media(ctx context.Context) (Media, error) {
	has, err := p.Exists(ctx, "video")
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, ErrNoMedia
	}
	return &rodMedia{page: p}, nil
}

type rodMedia struct {
	page *rodPage
}

func (m *rodMedia) Duration(ctx context.Context) (float64, error) {
	res, err := m.page.eval(ctx, `() => {
		const v = document.querySelector("video");
		return v && isFinite(v.duration) ? v.duration : 0;
	}`)
	if err != nil {
		return 0, err
	}
	return res.Value.Num(), nil
}

func (m *rodMedia) Seek(ctx context.Context, seconds float64) error {
	_, err := m.page.eval(ctx, `(t) => { document.querySelector("video").currentTime = t; }`, seconds)
	return err
}

func (m *rodMedia) Pause(ctx context.Context) error {
	_, err := m.page.eval(ctx, `() => { document.querySelector("video").pause(); }`)
	return err
}

func (m *rodMedia) Play(ctx context.Context) error {
	_, err := m.page.eval(ctx, `() => { document.querySelector("video").play().catch(() => {}); }`)
	return err
}

// The recorder lives in the page; it is the only state left there.
const startRecordingJS = `() => {
	const v = document.querySelector("video");
	if (!v) return "no-media";
	const tracks = v.captureStream().getAudioTracks();
	if (!tracks.length) return "no-audio";
	const rec = new MediaRecorder(new MediaStream(tracks));
	const chunks = [];
	rec.ondataavailable = (e) => { if (e.data.size > 0) chunks.push(e.data); };
	window.__tubepromptRecorder = { rec, chunks };
	rec.start();
	return "ok";
}`

const stopRecordingJS = `() => new Promise((resolve, reject) => {
	const c = window.__tubepromptRecorder;
	if (!c) return reject(new Error("recorder not started"));
	c.rec.onstop = () => {
		delete window.__tubepromptRecorder;
		const reader = new FileReader();
		reader.onload = () => resolve(String(reader.result).split(",")[1] || "");
		reader.onerror = () => reject(reader.error);
		reader.readAsDataURL(new Blob(c.chunks, { type: "video/webm" }));
	};
	c.rec.stop();
})`

func (m *rodMedia) StartRecording(ctx context.Context) error {
	res, err := m.page.eval(ctx, startRecordingJS)
	if err != nil {
		return errors.Wrap(err, "starting recorder")
	}
	switch res.Value.Str() {
	case "no-media":
		return ErrNoMedia
	case "no-audio":
		return ErrNoAudio
	}
	return nil
}

func (m *rodMedia) StopRecording(ctx context.Context) ([]byte, error) {
	res, err := m.page.eval(ctx, stopRecordingJS)
	if err != nil {
		return nil, errors.Wrap(err, "stopping recorder")
	}
	data, err := base64.StdEncoding.DecodeString(res.Value.Str())
	if err != nil {
		return nil, errors.Wrap(err, "decoding recording")
	}
	return data, nil
}
