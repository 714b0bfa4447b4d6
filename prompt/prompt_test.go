package prompt

import (
	"strings"
	"testing"
)

func TestComposeSummarize(t *testing.T) {
	tests := []struct {
		lang   string
		prefix string
	}{
		{"en", "Summarize this video or audio transcript (length: 5 characters):\n\n"},
		{"es", "Resume esta transcripción de video o audio (longitud: 5 caracteres):\n\n"},
		{"fr", "Résumez cette transcription vidéo ou audio (longueur : 5 caractères) :\n\n"},
		{"de", "Fasse eine Zusammenfassung dieses Video- bzw. Audiotranskripts (Länge: 5 Zeichen):\n\n"},
		{"ja", "このビデオ/オーディオの文字起こしを要約してください（文字数: 5文字）：\n\n"},
		{"ko", "이 비디오 또는 오디오 전사를 요약하세요(길이: 5자):\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			p := Compose(Input{Transcript: "hello", SourceLangCode: tt.lang, TargetLangCode: tt.lang})
			if p.Kind != KindSummarize {
				t.Errorf("expected summarize, got %s", p.Kind)
			}
			if p.Text != tt.prefix+"hello" {
				t.Errorf("unexpected prompt %q", p.Text)
			}
		})
	}
}

func TestComposeTranslate(t *testing.T) {
	tests := []struct {
		name   string
		source string
		target string
		want   string
	}{
		{
			name:   "english target omits length",
			source: "fr",
			target: "en",
			want:   "This video is in French. Translate the transcript and summarize it:\n\nbonjour",
		},
		{
			name:   "spanish target",
			source: "en",
			target: "es",
			want:   "Este video está en English (longitud: 7 caracteres). Tradúcelo al español y resúmelo:\n\nbonjour",
		},
		{
			name:   "unmapped source keeps raw code",
			source: "pt",
			target: "de",
			want:   "Dieses Video ist in pt (Länge: 7 Zeichen). Übersetze es ins Deutsche und fasse es zusammen:\n\nbonjour",
		},
		{
			name:   "korean target",
			source: "ja",
			target: "ko",
			want:   "이 비디오는 Japanese로 되어 있습니다(길이: 7자). 한국어로 번역하고 요약하세요:\n\nbonjour",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Compose(Input{Transcript: "bonjour", SourceLangCode: tt.source, TargetLangCode: tt.target})
			if p.Kind != KindTranslate {
				t.Errorf("expected translate, got %s", p.Kind)
			}
			if p.Text != tt.want {
				t.Errorf("got %q\nwant %q", p.Text, tt.want)
			}
		})
	}
}

func TestComposeUnknownTargetFallsBackToEnglish(t *testing.T) {
	p := Compose(Input{Transcript: "ciao", SourceLangCode: "it", TargetLangCode: "it"})
	if p.Language != "en" || p.Kind != KindSummarize {
		t.Errorf("expected English summarize, got %s %s", p.Language, p.Kind)
	}
	if !strings.HasPrefix(p.Text, "Summarize this video") {
		t.Errorf("unexpected prompt %q", p.Text)
	}

	p = Compose(Input{Transcript: "ciao", SourceLangCode: "en", TargetLangCode: "xx"})
	if p.Language != "en" || p.Kind != KindTranslate {
		t.Errorf("expected English translate, got %s %s", p.Language, p.Kind)
	}
}

func TestComposeFrenchWithDescription(t *testing.T) {
	p := Compose(Input{
		Transcript:         "Bonjour à tous",
		Description:        "Épisode 1",
		IncludeDescription: true,
		SourceLangCode:     "fr",
		TargetLangCode:     "fr",
	})

	body := "Bonjour à tous\n\n[DESCRIPTION]\nÉpisode 1"
	wantCount := len([]rune(body))
	if p.CharCount != wantCount {
		t.Errorf("expected %d characters, got %d", wantCount, p.CharCount)
	}
	want := "Résumez cette transcription vidéo ou audio (longueur : 39 caractères) :\n\n" + body
	if p.Text != want {
		t.Errorf("got %q\nwant %q", p.Text, want)
	}
}

func TestComposeDescriptionIgnoredUnlessRequested(t *testing.T) {
	p := Compose(Input{Transcript: "abc", Description: "desc", SourceLangCode: "en", TargetLangCode: "en"})
	if strings.Contains(p.Text, "[DESCRIPTION]") || p.CharCount != 3 {
		t.Errorf("description should not be appended: %q", p.Text)
	}
}

func TestLanguageName(t *testing.T) {
	if LanguageName("ko") != "Korean" {
		t.Error("expected Korean")
	}
	if LanguageName("zz") != "zz" {
		t.Error("expected raw code fallback")
	}
}
