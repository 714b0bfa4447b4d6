// Package browser is the tab and scripting host. The Dispatcher resolves
// tabs through a Host and the Extractor works against a Page.
package browser

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	ErrTabNotFound = errors.New("tab not found")
	ErrNoActiveTab = errors.New("no active tab on a supported page")
	ErrNoElement   = errors.New("element not found")
	ErrNoMedia     = errors.New("no media element on page")
	ErrNoAudio     = errors.New("no audio tracks available in stream")
)

type Host interface {
	Tab(ctx context.Context, id string) (Page, error)
	Tabs(ctx context.Context) ([]Page, error)
	// ActiveTab returns the visible tab whose URL satisfies match.
	ActiveTab(ctx context.Context, match func(url string) bool) (Page, error)
}

type Page interface {
	ID() string
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)

	// Global returns the JSON encoding of window[name], or nil when unset.
	Global(ctx context.Context, name string) (json.RawMessage, error)
	// Fetch GETs url from inside the page so it carries the page's cookies.
	Fetch(ctx context.Context, url string) (string, error)

	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	Focus(ctx context.Context, selector string) error
	InsertText(ctx context.Context, text string) error

	Media(ctx context.Context) (Media, error)
}

// Media is the page's primary <video> element.
type Media interface {
	Duration(ctx context.Context) (float64, error)
	Seek(ctx context.Context, seconds float64) error
	Pause(ctx context.Context) error
	Play(ctx context.Context) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) ([]byte, error)
}
