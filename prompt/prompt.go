// Package prompt turns a transcript into the instruction pasted into the
// chat editor.
package prompt

import (
	"fmt"
	"unicode/utf8"
)

const DefaultLanguage = "en"

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"ja": "Japanese",
	"ko": "Korean",
}

// summarize templates take the character count and the transcript.
var summarize = map[string]string{
	"en": "Summarize this video or audio transcript (length: %[1]d characters):\n\n%[2]s",
	"es": "Resume esta transcripción de video o audio (longitud: %[1]d caracteres):\n\n%[2]s",
	"fr": "Résumez cette transcription vidéo ou audio (longueur : %[1]d caractères) :\n\n%[2]s",
	"de": "Fasse eine Zusammenfassung dieses Video- bzw. Audiotranskripts (Länge: %[1]d Zeichen):\n\n%[2]s",
	"ja": "このビデオ/オーディオの文字起こしを要約してください（文字数: %[1]d文字）：\n\n%[2]s",
	"ko": "이 비디오 또는 오디오 전사를 요약하세요(길이: %[1]d자):\n\n%[2]s",
}

// translate templates take the character count, the transcript and the
// source language name. English does not state the length.
var translate = map[string]string{
	"en": "This video is in %[3]s. Translate the transcript and summarize it:\n\n%[2]s",
	"es": "Este video está en %[3]s (longitud: %[1]d caracteres). Tradúcelo al español y resúmelo:\n\n%[2]s",
	"fr": "Cette vidéo est en %[3]s (longueur : %[1]d caractères). Traduisez-la en français et résumez-la :\n\n%[2]s",
	"de": "Dieses Video ist in %[3]s (Länge: %[1]d Zeichen). Übersetze es ins Deutsche und fasse es zusammen:\n\n%[2]s",
	"ja": "このビデオは%[3]sです（文字数: %[1]d文字）。日本語に翻訳して要約してください：\n\n%[2]s",
	"ko": "이 비디오는 %[3]s로 되어 있습니다(길이: %[1]d자). 한국어로 번역하고 요약하세요:\n\n%[2]s",
}

type Kind string

const (
	KindSummarize Kind = "summarize"
	KindTranslate Kind = "translate"
)

type Input struct {
	Transcript         string
	Description        string
	IncludeDescription bool
	SourceLangCode     string
	TargetLangCode     string
}

type Prompt struct {
	Text string
	Kind Kind
	// Language is the template set actually used.
	Language string
	// CharCount is the length of the transcript after the description block
	// was appended.
	CharCount int
}

// LanguageName maps a code to its English display name, or returns the
// code itself when unknown.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

func Supported(code string) bool {
	_, ok := summarize[code]
	return ok
}

// WithDescription appends the description block used by every template.
func WithDescription(transcript, description string) string {
	if description == "" {
		return transcript
	}
	return transcript + "\n\n[DESCRIPTION]\n" + description
}

// Compose picks the summarize template when source and target languages
// match and the translate template otherwise. Unknown targets use English.
func Compose(in Input) Prompt {
	body := in.Transcript
	if in.IncludeDescription {
		body = WithDescription(body, in.Description)
	}
	n := utf8.RuneCountInString(body)

	lang := in.TargetLangCode
	if !Supported(lang) {
		lang = DefaultLanguage
	}

	if in.SourceLangCode == in.TargetLangCode {
		return Prompt{
			Text:      fmt.Sprintf(summarize[lang], n, body),
			Kind:      KindSummarize,
			Language:  lang,
			CharCount: n,
		}
	}

	return Prompt{
		Text:      fmt.Sprintf(translate[lang], n, body, LanguageName(in.SourceLangCode)),
		Kind:      KindTranslate,
		Language:  lang,
		CharCount: n,
	}
}
