package extractor

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"github.com/nijaru/tubeprompt/browser/browsertest"
	"github.com/nijaru/tubeprompt/models"
	"github.com/nijaru/tubeprompt/session"
	"github.com/nijaru/tubeprompt/transcription"
)

const instagramHTML = `<html><body>
<article>
  <div class="player">
    <div class="media"><video src="blob:x"></video></div>
    <div class="meta">
      <span>@creator</span>
      <span>1,204 likes</span>
      <span>Reply</span>
      <span>#travel</span>
      <span>Sunset over the old harbour</span>
      <span>Original audio</span>
    </div>
  </div>
  <h1>Short</h1>
  <section>
    <span>View all 12 comments</span>
    <span>A longer caption about the harbour trip</span>
  </section>
</article>
</body></html>`

type fakeTranscriber struct {
	mu       sync.Mutex
	requests []transcription.Request
	resp     *transcription.Response
	err      error
	onCall   func()
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req transcription.Request) (*transcription.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}
	return f.resp, f.err
}

func instagramPage(length float64) *browsertest.Page {
	return &browsertest.Page{
		TabID:   "ig-tab",
		PageURL: "https://www.instagram.com/reel/C1abc/",
		Body:    instagramHTML,
		MediaEl: &browsertest.Media{Length: length, Recording: []byte("webm")},
	}
}

func TestExtractInstagram(t *testing.T) {
	sessions := session.NewStore()
	sessions.Prime("ig-tab", models.SliceRange{Start: 0, End: 8})

	var flagsDuringPost models.CaptureFlags
	tr := &fakeTranscriber{resp: &transcription.Response{Transcript: "hello from the harbour", EstimatedTokens: 21}}
	tr.onCall = func() { flagsDuringPost = sessions.Flags("ig-tab") }

	var waited []time.Duration
	var usage []int
	e := newTestExtractor(testConfig(), sessions, tr,
		WithSleep(func(ctx context.Context, d time.Duration) error {
			waited = append(waited, d)
			return nil
		}),
		WithTokenSource(func(context.Context) (string, error) { return "tok", nil }),
		WithUsage(func(ctx context.Context, requestID string, tokens int) {
			usage = append(usage, tokens)
		}),
	)

	page := instagramPage(8.4)
	res, report := e.Extract(context.Background(), page, Job{RequestID: "r1"})
	if !report || !res.OK {
		t.Fatalf("expected reported success, got %+v", res)
	}

	if res.Value.Transcript != "hello from the harbour" || res.Value.EstimatedTokenCount != 21 {
		t.Errorf("unexpected result %+v", res.Value)
	}
	if res.Value.Description != "Sunset over the old harbour" {
		t.Errorf("unexpected description %q", res.Value.Description)
	}

	if want := []string{"seek", "pause", "start", "play", "stop"}; !reflect.DeepEqual(page.MediaEl.Calls(), want) {
		t.Errorf("expected media calls %v, got %v", want, page.MediaEl.Calls())
	}
	if len(waited) != 1 || waited[0] != 10*time.Second {
		t.Errorf("expected a 9s clip plus 1s tail, got %v", waited)
	}

	if len(tr.requests) != 1 {
		t.Fatalf("expected one transcription request, got %d", len(tr.requests))
	}
	req := tr.requests[0]
	if req.Token != "tok" || req.Filename != "fullVideo.webm" || string(req.Audio) != "webm" {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Range == nil || req.Range.End != 8 {
		t.Errorf("expected primed range to be forwarded, got %+v", req.Range)
	}

	if flagsDuringPost.AudioCaptureInProgress {
		t.Error("capture flag should be cleared before the upload")
	}
	if !flagsDuringPost.InstagramScraping {
		t.Error("scraping flag should stay set until the result is ready")
	}
	if sessions.Flags("ig-tab").Active() {
		t.Error("flags should be cleared once the result is returned")
	}
	if !reflect.DeepEqual(usage, []int{21}) {
		t.Errorf("expected usage relay of 21 tokens, got %v", usage)
	}
}

func TestExtractInstagramWithoutRangeCapturesFullClip(t *testing.T) {
	tr := &fakeTranscriber{resp: &transcription.Response{Transcript: "text"}}
	e := newTestExtractor(testConfig(), session.NewStore(), tr,
		WithSleep(func(context.Context, time.Duration) error { return nil }))

	res, _ := e.Extract(context.Background(), instagramPage(0), Job{})
	if !res.OK {
		t.Fatalf("expected success, got %+v", res)
	}
	if tr.requests[0].Range != nil {
		t.Error("range should be omitted when none was primed")
	}
}

func TestExtractInstagramCaptureIsExclusive(t *testing.T) {
	sessions := session.NewStore()
	sessions.Prime("ig-tab", models.SliceRange{Start: 0, End: 5})
	if !sessions.TryBeginCapture("ig-tab") {
		t.Fatal("setup: could not begin capture")
	}

	tr := &fakeTranscriber{resp: &transcription.Response{Transcript: "text"}}
	e := newTestExtractor(testConfig(), sessions, tr,
		WithSleep(func(context.Context, time.Duration) error { return nil }))

	page := instagramPage(3)
	_, report := e.Extract(context.Background(), page, Job{})
	if report {
		t.Error("a second capture must not report")
	}
	if page.MediaEl.Starts() != 0 {
		t.Error("no second recorder should be created")
	}
	if len(tr.requests) != 0 {
		t.Error("no upload should happen")
	}
	if !sessions.Flags("ig-tab").AudioCaptureInProgress {
		t.Error("the running capture keeps its flag")
	}
}

func TestExtractInstagramLosingInvocationKeepsFlags(t *testing.T) {
	sessions := session.NewStore()
	sessions.Prime("ig-tab", models.SliceRange{Start: 0, End: 5})

	recording := make(chan struct{})
	release := make(chan struct{})
	var flagsDuringPost models.CaptureFlags
	tr := &fakeTranscriber{resp: &transcription.Response{Transcript: "text"}}
	tr.onCall = func() { flagsDuringPost = sessions.Flags("ig-tab") }

	e := newTestExtractor(testConfig(), sessions, tr,
		WithSleep(func(ctx context.Context, d time.Duration) error {
			close(recording)
			<-release
			return nil
		}))

	page := instagramPage(3)
	type outcome struct {
		res    models.Result
		report bool
	}
	first := make(chan outcome, 1)
	go func() {
		res, report := e.Extract(context.Background(), page, Job{RequestID: "a"})
		first <- outcome{res, report}
	}()
	<-recording

	if _, report := e.Extract(context.Background(), page, Job{RequestID: "b"}); report {
		t.Error("the invocation that lost the capture must not report")
	}
	flags := sessions.Flags("ig-tab")
	if !flags.AudioCaptureInProgress || !flags.InstagramScraping {
		t.Errorf("running capture lost its flags: %+v", flags)
	}

	close(release)
	got := <-first
	if !got.report || !got.res.OK {
		t.Fatalf("expected the running capture to report success, got %+v", got.res)
	}
	if !flagsDuringPost.InstagramScraping {
		t.Error("scraping flag should stay set while the winning upload is in flight")
	}
	if sessions.Flags("ig-tab").Active() {
		t.Error("flags should be cleared once both invocations are done")
	}
}

func TestExtractInstagramFailures(t *testing.T) {
	tests := []struct {
		name  string
		page  func() *browsertest.Page
		trErr error
		resp  *transcription.Response
		want  models.ErrorKind
	}{
		{
			name: "no video element",
			page: func() *browsertest.Page {
				p := instagramPage(3)
				p.MediaEl = nil
				return p
			},
			want: models.ErrMissingPrerequisite,
		},
		{
			name: "no audio tracks",
			page: func() *browsertest.Page {
				p := instagramPage(3)
				p.MediaEl.NoAudio = true
				return p
			},
			want: models.ErrMissingPrerequisite,
		},
		{
			name:  "server unreachable",
			page:  func() *browsertest.Page { return instagramPage(3) },
			trErr: errors.New("connection refused"),
			want:  models.ErrNetwork,
		},
		{
			name:  "server returned garbage",
			page:  func() *browsertest.Page { return instagramPage(3) },
			trErr: errors.Wrap(transcription.ErrInvalidResponse, "bad json"),
			want:  models.ErrParse,
		},
		{
			name: "server returned no text",
			page: func() *browsertest.Page { return instagramPage(3) },
			resp: &transcription.Response{},
			want: models.ErrParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := session.NewStore()
			sessions.Prime("ig-tab", models.SliceRange{Start: 0, End: 3})
			tr := &fakeTranscriber{resp: tt.resp, err: tt.trErr}
			e := newTestExtractor(testConfig(), sessions, tr,
				WithSleep(func(context.Context, time.Duration) error { return nil }))

			res, report := e.Extract(context.Background(), tt.page(), Job{})
			if !report {
				t.Fatal("failures must be reported")
			}
			if res.OK || res.Reason != tt.want {
				t.Errorf("expected %s, got %+v", tt.want, res)
			}
			if sessions.Flags("ig-tab").Active() {
				t.Error("flags must be cleared after a failure")
			}
		})
	}
}

func TestCaptureSeconds(t *testing.T) {
	tests := []struct {
		duration float64
		want     time.Duration
	}{
		{8.4, 9 * time.Second},
		{9, 9 * time.Second},
		{0.1, time.Second},
		{0, 5 * time.Second},
		{-1, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := CaptureSeconds(tt.duration, 5*time.Second); got != tt.want {
			t.Errorf("CaptureSeconds(%v) = %s, want %s", tt.duration, got, tt.want)
		}
	}
}

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestScrapeShortCaption(t *testing.T) {
	got := ScrapeShortCaption(doc(t, instagramHTML))
	if got != "@creator Sunset over the old harbour" {
		t.Errorf("unexpected caption %q", got)
	}

	if got := ScrapeShortCaption(doc(t, `<div><span>no video here</span></div>`)); got != "" {
		t.Errorf("expected empty caption, got %q", got)
	}
}

func TestScrapeDescription(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "long heading wins",
			html: `<h1>A heading that is long enough</h1><span>Some other long span text</span>`,
			want: "A heading that is long enough",
		},
		{
			name: "short heading falls back to spans",
			html: `<h1>Hi</h1><span>@someone_handle</span><span>#hashtag_text_here</span><span>See more of this</span><span>Real description text</span>`,
			want: "Real description text",
		},
		{
			name: "nothing usable",
			html: `<span>short</span><span>1,000 likes on this</span>`,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScrapeDescription(doc(t, tt.html)); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
