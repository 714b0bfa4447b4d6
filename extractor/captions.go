package extractor

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nijaru/tubeprompt/models"
	"github.com/nijaru/tubeprompt/prompt"
)

type CaptionTrack struct {
	BaseURL      string    `json:"baseUrl"`
	Name         trackName `json:"name"`
	VssID        string    `json:"vssId"`
	LanguageCode string    `json:"languageCode"`
	Kind         string    `json:"kind,omitempty"`
}

type trackName struct {
	SimpleText string `json:"simpleText,omitempty"`
	Runs       []struct {
		Text string `json:"text"`
	} `json:"runs,omitempty"`
}

func (n trackName) String() string {
	if n.SimpleText != "" {
		return n.SimpleText
	}
	var b strings.Builder
	for _, r := range n.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

func (t CaptionTrack) IsAuto() bool {
	return t.Kind == "asr"
}

// vssLanguage strips the legacy ".xx" / "a.xx" prefix from the vssId.
func (t CaptionTrack) vssLanguage() string {
	id := strings.TrimPrefix(t.VssID, "a")
	if !strings.HasPrefix(id, ".") {
		return ""
	}
	return strings.ToLower(id[1:])
}

func isEnglish(code string) bool {
	code = strings.ToLower(code)
	return code == "en" || strings.HasPrefix(code, "en-")
}

type trackRule func(t CaptionTrack, lang string) bool

// trackRules are evaluated in order; the first rule with any matching track
// decides.
var trackRules = []trackRule{
	func(t CaptionTrack, lang string) bool { return t.IsAuto() && strings.EqualFold(t.LanguageCode, lang) },
	func(t CaptionTrack, lang string) bool { return !t.IsAuto() && strings.EqualFold(t.LanguageCode, lang) },
	func(t CaptionTrack, lang string) bool {
		v := t.vssLanguage()
		return v != "" && (v == strings.ToLower(lang) || strings.HasPrefix(v, strings.ToLower(lang)+"-"))
	},
	func(t CaptionTrack, lang string) bool {
		name := prompt.LanguageName(lang)
		if name == lang {
			return false
		}
		return strings.Contains(strings.ToLower(t.Name.String()), strings.ToLower(name))
	},
	func(t CaptionTrack, lang string) bool { return !t.IsAuto() && isEnglish(t.LanguageCode) },
	func(t CaptionTrack, lang string) bool { return t.IsAuto() && isEnglish(t.LanguageCode) },
	func(t CaptionTrack, lang string) bool { return true },
}

// SelectTrack picks a caption track for the preferred language. It returns
// the 1-based rule that matched, or 0 when there are no tracks.
func SelectTrack(tracks []CaptionTrack, preferred string) (CaptionTrack, int) {
	if preferred == "" {
		preferred = prompt.DefaultLanguage
	}
	for i, rule := range trackRules {
		for _, t := range tracks {
			if rule(t, preferred) {
				return t, i + 1
			}
		}
	}
	return CaptionTrack{}, 0
}

type Entry struct {
	Start float64
	Text  string
}

// srv1 is <transcript><text start dur>; srv3 is <timedtext><body><p t d>
// with times in milliseconds and optional <s> segments.
type timedTextDoc struct {
	Texts []struct {
		Start string `xml:"start,attr"`
		Text  string `xml:",chardata"`
	} `xml:"text"`
	Paras []struct {
		T    string `xml:"t,attr"`
		Text string `xml:",chardata"`
		Segs []struct {
			Text string `xml:",chardata"`
		} `xml:"s"`
	} `xml:"body>p"`
}

func ParseTimedText(doc string) ([]Entry, error) {
	d := xml.NewDecoder(strings.NewReader(doc))
	d.Strict = false
	d.Entity = xml.HTMLEntity

	var parsed timedTextDoc
	if err := d.Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "parsing caption document")
	}

	entries := make([]Entry, 0, len(parsed.Texts)+len(parsed.Paras))
	for _, t := range parsed.Texts {
		start, err := strconv.ParseFloat(t.Start, 64)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Start: start, Text: t.Text})
	}
	for _, p := range parsed.Paras {
		ms, err := strconv.ParseFloat(p.T, 64)
		if err != nil {
			continue
		}
		text := p.Text
		if len(p.Segs) > 0 {
			var b strings.Builder
			for _, s := range p.Segs {
				b.WriteString(s.Text)
			}
			text = b.String()
		}
		entries = append(entries, Entry{Start: ms / 1000, Text: text})
	}
	return entries, nil
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
)

// JoinEntries keeps entries starting inside r, in document order, joined by
// a single space. A nil range keeps everything.
func JoinEntries(entries []Entry, r *models.SliceRange) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if r != nil && !r.Contains(e.Start) {
			continue
		}
		text := strings.Join(strings.Fields(entityReplacer.Replace(e.Text)), " ")
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}
