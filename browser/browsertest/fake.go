// Package browsertest provides in-memory Host, Page and Media
// implementations for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nijaru/tubeprompt/browser"
)

type Host struct {
	mu    sync.Mutex
	pages []*Page
	// Err is returned from every lookup when set.
	Err error
}

func NewHost(pages ...*Page) *Host {
	return &Host{pages: pages}
}

func (h *Host) Add(p *Page) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pages = append(h.pages, p)
}

func (h *Host) Tab(ctx context.Context, id string) (browser.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Err != nil {
		return nil, h.Err
	}
	for _, p := range h.pages {
		if p.TabID == id {
			return p, nil
		}
	}
	return nil, browser.ErrTabNotFound
}

func (h *Host) Tabs(ctx context.Context) ([]browser.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Err != nil {
		return nil, h.Err
	}
	out := make([]browser.Page, 0, len(h.pages))
	for _, p := range h.pages {
		out = append(out, p)
	}
	return out, nil
}

func (h *Host) ActiveTab(ctx context.Context, match func(string) bool) (browser.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Err != nil {
		return nil, h.Err
	}
	for _, p := range h.pages {
		if p.Visible && match(p.PageURL) {
			return p, nil
		}
	}
	return nil, browser.ErrNoActiveTab
}

// Page is a scripted tab. Fields may be set directly before use; the
// mutating methods are safe for concurrent use.
type Page struct {
	TabID     string
	PageURL   string
	PageTitle string
	Body      string
	Visible   bool

	Globals map[string]json.RawMessage
	// GlobalsAfter makes a global appear only after that many reads.
	GlobalsAfter int
	Resources    map[string]string
	FetchErr     error

	// Elements maps selector to inner text.
	Elements map[string]string
	// ElementsAfter delays Exists for a selector by a number of checks.
	ElementsAfter map[string]int
	// OnClick runs when a selector is clicked.
	OnClick map[string]func(p *Page)

	MediaEl *Media

	mu           sync.Mutex
	globalReads  int
	existsChecks map[string]int
	focused      string
	inserted     []string
	fetched      []string
}

func (p *Page) ID() string { return p.TabID }

func (p *Page) URL(ctx context.Context) (string, error)   { return p.PageURL, nil }
func (p *Page) Title(ctx context.Context) (string, error) { return p.PageTitle, nil }
func (p *Page) HTML(ctx context.Context) (string, error)  { return p.Body, nil }

func (p *Page) Global(ctx context.Context, name string) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globalReads++
	if p.globalReads <= p.GlobalsAfter {
		return nil, nil
	}
	return p.Globals[name], nil
}

func (p *Page) Fetch(ctx context.Context, url string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetched = append(p.fetched, url)
	if p.FetchErr != nil {
		return "", p.FetchErr
	}
	body, ok := p.Resources[url]
	if !ok {
		return "", browser.ErrNoElement
	}
	return body, nil
}

func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.existsChecks == nil {
		p.existsChecks = make(map[string]int)
	}
	p.existsChecks[selector]++
	if p.existsChecks[selector] <= p.ElementsAfter[selector] {
		return false, nil
	}
	_, ok := p.Elements[selector]
	return ok, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	_, ok := p.Elements[selector]
	fn := p.OnClick[selector]
	p.mu.Unlock()
	if !ok {
		return browser.ErrNoElement
	}
	if fn != nil {
		fn(p)
	}
	return nil
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.Elements[selector]
	if !ok {
		return "", browser.ErrNoElement
	}
	return text, nil
}

// SetText replaces an element's text, e.g. from an OnClick hook.
func (p *Page) SetText(selector, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Elements == nil {
		p.Elements = make(map[string]string)
	}
	p.Elements[selector] = text
}

func (p *Page) Focus(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.Elements[selector]; !ok {
		return browser.ErrNoElement
	}
	p.focused = selector
	return nil
}

func (p *Page) InsertText(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inserted = append(p.inserted, text)
	return nil
}

func (p *Page) Media(ctx context.Context) (browser.Media, error) {
	if p.MediaEl == nil {
		return nil, browser.ErrNoMedia
	}
	return p.MediaEl, nil
}

func (p *Page) Focused() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused
}

func (p *Page) Inserted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.inserted...)
}

func (p *Page) Fetched() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.fetched...)
}

// Media records the calls made against it in order.
type Media struct {
	Length    float64
	Recording []byte
	NoAudio   bool

	mu     sync.Mutex
	calls  []string
	starts int
}

func (m *Media) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *Media) Duration(ctx context.Context) (float64, error) {
	return m.Length, nil
}

func (m *Media) Seek(ctx context.Context, seconds float64) error {
	m.record("seek")
	return nil
}

func (m *Media) Pause(ctx context.Context) error {
	m.record("pause")
	return nil
}

func (m *Media) Play(ctx context.Context) error {
	m.record("play")
	return nil
}

func (m *Media) StartRecording(ctx context.Context) error {
	if m.NoAudio {
		return browser.ErrNoAudio
	}
	m.record("start")
	m.mu.Lock()
	m.starts++
	m.mu.Unlock()
	return nil
}

func (m *Media) StopRecording(ctx context.Context) ([]byte, error) {
	m.record("stop")
	return m.Recording, nil
}

func (m *Media) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Starts reports how many recorders were created.
func (m *Media) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}
