package models

import "fmt"

type ErrorKind string

const (
	ErrMissingPrerequisite ErrorKind = "missing_prerequisite"
	ErrNoCaptions          ErrorKind = "no_captions"
	ErrNetwork             ErrorKind = "network"
	ErrParse               ErrorKind = "parse"
	ErrTimeout             ErrorKind = "timeout"
	ErrStale               ErrorKind = "stale"
)

type TranscriptResult struct {
	Transcript          string `json:"transcript"`
	SourceLangCode      string `json:"source_lang_code,omitempty"`
	Description         string `json:"description,omitempty"`
	EstimatedTokenCount int    `json:"estimated_token_count,omitempty"`
}

// Result is what an acquisition produces. Exactly one of Value or Reason is set.
type Result struct {
	OK     bool              `json:"ok"`
	Value  *TranscriptResult `json:"value,omitempty"`
	Reason ErrorKind         `json:"reason,omitempty"`
	Detail string            `json:"detail,omitempty"`
}

func Success(v TranscriptResult) Result {
	return Result{OK: true, Value: &v}
}

func Failure(kind ErrorKind, format string, args ...any) Result {
	return Result{Reason: kind, Detail: fmt.Sprintf(format, args...)}
}

func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &ResultError{Kind: r.Reason, Detail: r.Detail}
}

type ResultError struct {
	Kind   ErrorKind
	Detail string
}

func (e *ResultError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}
