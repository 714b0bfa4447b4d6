package models

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCapturing Status = "capturing"
	StatusReady     Status = "ready"
	StatusDropped   Status = "dropped"
	StatusFailed    Status = "failed"
)

// AcquisitionRequest starts a transcript fetch. An empty TargetTabID means
// the active tab on a supported platform.
type AcquisitionRequest struct {
	RequestID         string    `json:"request_id,omitempty"`
	TargetTabID       string    `json:"target_tab_id,omitempty"`
	Range             TimeRange `json:"range"`
	PreferredLanguage string    `json:"preferred_language,omitempty"`
}

// CaptureFlags mark an acquisition that is still producing a result for a tab.
type CaptureFlags struct {
	AudioCaptureInProgress bool `json:"audio_capture_in_progress"`
	InstagramScraping      bool `json:"instagram_scraping"`
}

func (f CaptureFlags) Active() bool {
	return f.AudioCaptureInProgress || f.InstagramScraping
}

// Acquisition is the per-request record the Dispatcher keeps. Delivery reads
// source language and description from here rather than from shared state.
type Acquisition struct {
	ID             string      `json:"id"`
	TabID          string      `json:"tab_id"`
	URL            string      `json:"url"`
	Platform       string      `json:"platform"`
	Status         Status      `json:"status"`
	Range          *SliceRange `json:"range,omitempty"`
	Language       string      `json:"preferred_language,omitempty"`
	SourceLangCode string      `json:"source_lang_code,omitempty"`
	Transcript     string      `json:"transcript,omitempty"`
	Description    string      `json:"description,omitempty"`
	TokenEstimate  int         `json:"estimated_token_count,omitempty"`
	Reason         ErrorKind   `json:"reason,omitempty"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (a *Acquisition) IsReady() bool {
	return a.Status == StatusReady
}

type PromptRequest struct {
	RequestID          string `json:"request_id,omitempty"`
	Transcript         string `json:"transcript"`
	TargetLanguageCode string `json:"language,omitempty"`
	IncludeDescription bool   `json:"include_description"`
	Description        string `json:"description,omitempty"`
	ChatTabID          string `json:"selected_chat_tab_id,omitempty"`
}

type TabInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Platform string `json:"platform"`
}
