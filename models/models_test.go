package models

import (
	"testing"

	"github.com/pkg/errors"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input   string
		want    float64
		wantErr bool
	}{
		{"90", 90, false},
		{"01:30", 90, false},
		{"1:02:03", 3723, false},
		{"00:05.5", 5.5, false},
		{" 02:15 ", 135, false},
		{"", 0, true},
		{"aa:bb", 0, true},
		{"01:75", 0, true},
		{"1:2:3:4", 0, true},
		{"-5", 0, true},
		{"NaN", 0, true},
		{"00:nan", 0, true},
		{"Inf", 0, true},
		{"1:+Inf", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTimeRangeSeconds(t *testing.T) {
	r, err := TimeRange{Start: "00:10", End: "01:00"}.Seconds()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Start != 10 || r.End != 60 {
		t.Errorf("got %+v", r)
	}

	_, err = TimeRange{Start: "02:15", End: "01:00"}.Seconds()
	if !errors.Is(err, ErrRangeOrder) {
		t.Errorf("expected ErrRangeOrder, got %v", err)
	}
	if err.Error() != "start must precede end" {
		t.Errorf("unexpected message %q", err.Error())
	}

	_, err = TimeRange{Start: "01:00", End: "01:00"}.Seconds()
	if !errors.Is(err, ErrRangeOrder) {
		t.Errorf("equal bounds should be rejected, got %v", err)
	}
}

func TestSliceRangeContains(t *testing.T) {
	r := SliceRange{Start: 10, End: 20}
	tests := []struct {
		t    float64
		want bool
	}{
		{9.99, false},
		{10, true},
		{19.99, true},
		{20, false},
	}
	for _, tt := range tests {
		if got := r.Contains(tt.t); got != tt.want {
			t.Errorf("Contains(%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestResult(t *testing.T) {
	ok := Success(TranscriptResult{Transcript: "hello", SourceLangCode: "en"})
	if !ok.OK || ok.Err() != nil || ok.Value.Transcript != "hello" {
		t.Errorf("unexpected success result %+v", ok)
	}

	fail := Failure(ErrNoCaptions, "no tracks for %s", "abc")
	if fail.OK || fail.Value != nil {
		t.Errorf("failure should carry no value")
	}
	var rerr *ResultError
	if !errors.As(fail.Err(), &rerr) || rerr.Kind != ErrNoCaptions {
		t.Errorf("expected ResultError with kind no_captions, got %v", fail.Err())
	}
	if fail.Err().Error() != "no_captions: no tracks for abc" {
		t.Errorf("unexpected message %q", fail.Err().Error())
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(MsgDeliveryDone, "req-1", DeliveryDone{ChatTabID: "T1", CharCount: 42})
	if err != nil {
		t.Fatal(err)
	}

	var done DeliveryDone
	if err := env.Decode(&done); err != nil {
		t.Fatal(err)
	}
	if done.CharCount != 42 || env.RequestID != "req-1" {
		t.Errorf("unexpected decode %+v", done)
	}
}

func TestCaptureFlagsActive(t *testing.T) {
	if (CaptureFlags{}).Active() {
		t.Error("zero flags should be inactive")
	}
	if !(CaptureFlags{InstagramScraping: true}).Active() {
		t.Error("scraping flag should be active")
	}
	if !(CaptureFlags{AudioCaptureInProgress: true}).Active() {
		t.Error("capture flag should be active")
	}
}
