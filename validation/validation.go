package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/nijaru/tubeprompt/browser"
	"github.com/nijaru/tubeprompt/models"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var languageCode = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z0-9]{2,8})?$`)

// ValidateTabURL checks that a tab URL is something an acquisition can run on.
func ValidateTabURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return &ValidationError{Field: "url", Message: "URL is required"}
	}

	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return &ValidationError{Field: "url", Message: "invalid URL format"}
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "URL must start with http or https"}
	}
	if parsedURL.Host == "" {
		return &ValidationError{Field: "url", Message: "URL must have a host"}
	}

	if strings.Contains(parsedURL.Host, "youtube.com") && parsedURL.Path == "/watch" && parsedURL.Query().Get("v") == "" {
		return &ValidationError{Field: "url", Message: "YouTube URL must contain a valid video ID"}
	}
	if !browser.Acquirable(rawURL) {
		return &ValidationError{Field: "url", Message: "only YouTube videos and Instagram reels or posts are supported"}
	}
	return nil
}

// ValidateRange converts a user-entered range. An empty range is allowed
// and yields nil.
func ValidateRange(r models.TimeRange) (*models.SliceRange, error) {
	if r.IsZero() {
		return nil, nil
	}
	if strings.TrimSpace(r.Start) == "" || strings.TrimSpace(r.End) == "" {
		return nil, &ValidationError{Field: "range", Message: "both start and end are required"}
	}
	sr, err := r.Seconds()
	if err != nil {
		if err == models.ErrRangeOrder {
			return nil, &ValidationError{Field: "range", Message: err.Error()}
		}
		return nil, &ValidationError{Field: "range", Message: fmt.Sprintf("invalid time: %v", err)}
	}
	return &sr, nil
}

// ValidateLanguage accepts an empty code or a BCP 47 style primary tag with
// an optional region or script.
func ValidateLanguage(code string) error {
	if code == "" || languageCode.MatchString(code) {
		return nil
	}
	return &ValidationError{Field: "language", Message: fmt.Sprintf("invalid language code %q", code)}
}

func ValidateAcquisition(req models.AcquisitionRequest) error {
	if _, err := ValidateRange(req.Range); err != nil {
		return err
	}
	return ValidateLanguage(req.PreferredLanguage)
}

func ValidatePrompt(req models.PromptRequest) error {
	if strings.TrimSpace(req.Transcript) == "" {
		return &ValidationError{Field: "transcript", Message: "transcript is required"}
	}
	return ValidateLanguage(req.TargetLanguageCode)
}
