package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/nijaru/tubeprompt/models"
	"github.com/nijaru/tubeprompt/poll"
)

func TestPrimeAndRange(t *testing.T) {
	s := NewStore()

	if _, ok := s.Range("tab"); ok {
		t.Fatal("expected no range before priming")
	}

	s.Prime("tab", models.SliceRange{Start: 1, End: 5})
	s.Prime("tab", models.SliceRange{Start: 2, End: 6})

	r, ok := s.Range("tab")
	if !ok || r.Start != 2 || r.End != 6 {
		t.Errorf("expected latest range to win, got %+v", r)
	}

	s.ClearRange("tab")
	if _, ok := s.Range("tab"); ok {
		t.Error("expected range to be cleared")
	}
}

func TestAwaitRangeArrivesLater(t *testing.T) {
	s := NewStore()
	s.RangeInterval = 5 * time.Millisecond

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Prime("tab", models.SliceRange{Start: 0, End: 9})
	}()

	r, err := s.AwaitRange(context.Background(), "tab", time.Second)
	if err != nil {
		t.Fatalf("AwaitRange() error = %v", err)
	}
	if r.End != 9 {
		t.Errorf("unexpected range %+v", r)
	}
}

func TestAwaitRangeTimeout(t *testing.T) {
	s := NewStore()
	s.RangeInterval = 5 * time.Millisecond

	_, err := s.AwaitRange(context.Background(), "tab", 20*time.Millisecond)
	if !errors.Is(err, poll.ErrTimeout) {
		t.Errorf("expected poll.ErrTimeout, got %v", err)
	}
}

func TestTryBeginCaptureIsExclusive(t *testing.T) {
	s := NewStore()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryBeginCapture("tab") {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one capture to begin, got %d", wins)
	}
	if !s.Flags("tab").AudioCaptureInProgress {
		t.Error("capture flag should be set")
	}

	s.EndCapture("tab")
	if !s.TryBeginCapture("tab") {
		t.Error("capture should be possible after EndCapture")
	}
}

func TestFlagsPerTab(t *testing.T) {
	s := NewStore()
	s.BeginScraping("a")

	if !s.Flags("a").Active() {
		t.Error("tab a should be active")
	}
	if s.Flags("b").Active() {
		t.Error("tab b should be untouched")
	}

	s.Reset("a")
	if s.Flags("a").Active() {
		t.Error("reset should clear flags")
	}
}

func TestScrapingNests(t *testing.T) {
	s := NewStore()
	s.BeginScraping("tab")
	s.BeginScraping("tab")

	s.EndScraping("tab")
	if !s.Flags("tab").InstagramScraping {
		t.Fatal("scraping flag cleared while another scrape is still running")
	}

	s.EndScraping("tab")
	if s.Flags("tab").InstagramScraping {
		t.Error("scraping flag should clear after the last scrape ends")
	}

	s.EndScraping("tab")
	s.BeginScraping("tab")
	if !s.Flags("tab").InstagramScraping {
		t.Error("an unmatched EndScraping must not swallow the next BeginScraping")
	}
}
