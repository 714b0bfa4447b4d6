// Package session holds the transient per-tab state shared between the
// Dispatcher and the Extractor: the primed slice range and the capture
// flags. It lives as long as the process; Reset drops a tab's entry.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/nijaru/tubeprompt/models"
	"github.com/nijaru/tubeprompt/poll"
)

type tabState struct {
	rng      *models.SliceRange
	flags    models.CaptureFlags
	scrapers int
}

type Store struct {
	mu   sync.Mutex
	tabs map[string]*tabState

	// RangeInterval is how often AwaitRange re-checks for a primed range.
	RangeInterval time.Duration
}

func NewStore() *Store {
	return &Store{
		tabs:          make(map[string]*tabState),
		RangeInterval: 100 * time.Millisecond,
	}
}

func (s *Store) state(tabID string) *tabState {
	st, ok := s.tabs[tabID]
	if !ok {
		st = &tabState{}
		s.tabs[tabID] = st
	}
	return st
}

// Prime writes the slice range for a tab. A later Prime overwrites an
// earlier one even if its acquisition has not read it yet.
func (s *Store) Prime(tabID string, r models.SliceRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(tabID).rng = &r
}

// ClearRange forgets the primed range so the next acquisition waits for a
// fresh one.
func (s *Store) ClearRange(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(tabID).rng = nil
}

func (s *Store) Range(tabID string) (models.SliceRange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tabs[tabID]
	if !ok || st.rng == nil {
		return models.SliceRange{}, false
	}
	return *st.rng, true
}

// AwaitRange blocks until a range is primed for the tab or the bound runs out.
func (s *Store) AwaitRange(ctx context.Context, tabID string, timeout time.Duration) (models.SliceRange, error) {
	var r models.SliceRange
	err := poll.Until(ctx, poll.Options{Interval: s.RangeInterval, Timeout: timeout}, func(context.Context) (bool, error) {
		var ok bool
		r, ok = s.Range(tabID)
		return ok, nil
	})
	return r, err
}

func (s *Store) Flags(tabID string) models.CaptureFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.tabs[tabID]; ok {
		return st.flags
	}
	return models.CaptureFlags{}
}

// TryBeginCapture sets the audio capture flag. It returns false, leaving
// state untouched, if a capture is already running on the tab.
func (s *Store) TryBeginCapture(tabID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(tabID)
	if st.flags.AudioCaptureInProgress {
		return false
	}
	st.flags.AudioCaptureInProgress = true
	return true
}

func (s *Store) EndCapture(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(tabID).flags.AudioCaptureInProgress = false
}

// BeginScraping marks the tab as being scraped. Calls nest: the flag stays
// set until every BeginScraping has been matched by EndScraping, so an
// invocation that bails out early cannot clear it under a running one.
func (s *Store) BeginScraping(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(tabID)
	st.scrapers++
	st.flags.InstagramScraping = true
}

func (s *Store) EndScraping(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(tabID)
	if st.scrapers > 0 {
		st.scrapers--
	}
	st.flags.InstagramScraping = st.scrapers > 0
}

// Reset drops everything known about a tab.
func (s *Store) Reset(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tabs, tabID)
}
