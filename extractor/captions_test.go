package extractor

import (
	"testing"

	"github.com/nijaru/tubeprompt/models"
)

func track(lang, kind, vss, name string) CaptionTrack {
	t := CaptionTrack{
		BaseURL:      "https://www.youtube.com/api/timedtext?lang=" + lang + "&kind=" + kind,
		LanguageCode: lang,
		Kind:         kind,
		VssID:        vss,
	}
	t.Name.SimpleText = name
	return t
}

func TestSelectTrack(t *testing.T) {
	autoEN := track("en", "asr", "a.en", "English (auto-generated)")
	manualEN := track("en", "", ".en", "English")
	autoES := track("es", "asr", "a.es", "Spanish (auto-generated)")
	manualES := track("es", "", ".es", "Spanish")
	mexican := track("es-419", "", ".es-419", "Latin American")
	spanishByName := track("xx", "", "", "Spanish (community)")
	manualDE := track("de", "", ".de", "German")
	autoFR := track("fr", "asr", "a.fr", "French (auto-generated)")

	tests := []struct {
		name      string
		tracks    []CaptionTrack
		preferred string
		want      CaptionTrack
		wantRule  int
	}{
		{"auto preferred beats manual preferred", []CaptionTrack{manualES, autoES}, "es", autoES, 1},
		{"manual preferred", []CaptionTrack{manualEN, manualES}, "es", manualES, 2},
		{"legacy vss id with region", []CaptionTrack{manualDE, mexican}, "es", mexican, 3},
		{"display name substring", []CaptionTrack{manualDE, spanishByName}, "es", spanishByName, 4},
		{"manual english", []CaptionTrack{autoEN, manualDE, manualEN}, "ja", manualEN, 5},
		{"auto english", []CaptionTrack{manualDE, autoEN}, "ja", autoEN, 6},
		{"first available", []CaptionTrack{autoFR, manualDE}, "ja", autoFR, 7},
		{"empty preference means english", []CaptionTrack{manualDE, autoEN}, "", autoEN, 1},
		{"no tracks", nil, "en", CaptionTrack{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rule := SelectTrack(tt.tracks, tt.preferred)
			if rule != tt.wantRule {
				t.Errorf("expected rule %d, got %d", tt.wantRule, rule)
			}
			if got.BaseURL != tt.want.BaseURL {
				t.Errorf("expected %s, got %s", tt.want.BaseURL, got.BaseURL)
			}
		})
	}
}

func TestSelectTrackOnlyAutoEnglishWithSpanishPreference(t *testing.T) {
	only := track("en", "asr", "a.en", "English (auto-generated)")

	got, rule := SelectTrack([]CaptionTrack{only}, "es")
	if rule < 5 {
		t.Errorf("no preferred-language rule should match, got rule %d", rule)
	}
	if got.LanguageCode != "en" {
		t.Errorf("expected the only track, got %+v", got)
	}
}

func TestSelectTrackDeterministic(t *testing.T) {
	tracks := []CaptionTrack{
		track("fr", "asr", "a.fr", "French (auto-generated)"),
		track("de", "", ".de", "German"),
		track("en", "asr", "a.en", "English (auto-generated)"),
	}
	first, _ := SelectTrack(tracks, "ko")
	for i := 0; i < 20; i++ {
		got, _ := SelectTrack(tracks, "ko")
		if got.BaseURL != first.BaseURL {
			t.Fatalf("selection changed between runs: %s vs %s", got.BaseURL, first.BaseURL)
		}
	}
}

func TestTrackNameRuns(t *testing.T) {
	var tr CaptionTrack
	tr.Name.Runs = append(tr.Name.Runs, struct {
		Text string `json:"text"`
	}{Text: "Korean"})
	if tr.Name.String() != "Korean" {
		t.Errorf("unexpected name %q", tr.Name.String())
	}
}

const srv1Doc = `<?xml version="1.0" encoding="utf-8" ?><transcript>
<text start="0.5" dur="2">first &amp;amp; one</text>
<text start="10" dur="2">it&amp;#39;s   second</text>
<text start="15.2" dur="2">third&nbsp;line</text>
<text start="20" dur="2">&amp;quot;fourth&amp;quot;</text>
<text start="bad" dur="2">skipped</text>
</transcript>`

const srv3Doc = `<?xml version="1.0" encoding="utf-8" ?><timedtext format="3"><body>
<p t="1000" d="1500"><s>hello</s><s> world</s></p>
<p t="2500" d="1000">plain &lt;b&gt;</p>
<p t="9000" d="1000">late</p>
</body></timedtext>`

func TestParseTimedTextSrv1(t *testing.T) {
	entries, err := ParseTimedText(srv1Doc)
	if err != nil {
		t.Fatalf("ParseTimedText() error = %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}

	got := JoinEntries(entries, nil)
	want := `first & one it's second third line "fourth"`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseTimedTextSrv3(t *testing.T) {
	entries, err := ParseTimedText(srv3Doc)
	if err != nil {
		t.Fatalf("ParseTimedText() error = %v", err)
	}
	if len(entries) != 3 || entries[0].Start != 1 || entries[1].Start != 2.5 {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if got := JoinEntries(entries, nil); got != "hello world plain <b> late" {
		t.Errorf("unexpected text %q", got)
	}
}

func TestJoinEntriesRange(t *testing.T) {
	entries := []Entry{
		{Start: 0, Text: "a"},
		{Start: 9.99, Text: "b"},
		{Start: 10, Text: "c"},
		{Start: 15, Text: "  "},
		{Start: 19.5, Text: "d"},
		{Start: 20, Text: "e"},
	}

	tests := []struct {
		name string
		r    *models.SliceRange
		want string
	}{
		{"half-open window", &models.SliceRange{Start: 10, End: 20}, "c d"},
		{"whole clip", nil, "a b c d e"},
		{"empty window", &models.SliceRange{Start: 30, End: 40}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JoinEntries(entries, tt.r); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTimedTextGarbage(t *testing.T) {
	entries, err := ParseTimedText("not xml at all")
	if err == nil && len(entries) != 0 {
		t.Errorf("expected no entries, got %+v", entries)
	}
}
