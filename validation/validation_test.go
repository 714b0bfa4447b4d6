package validation

import (
	"testing"

	"github.com/nijaru/tubeprompt/models"
)

func TestValidateTabURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://www.youtube.com/watch?v=abc123", false},
		{"https://www.youtube.com/shorts/abc123", false},
		{"https://www.instagram.com/reel/C1abc/", false},
		{"https://www.instagram.com/p/C1abc/", false},
		{"https://www.youtube.com/watch", true},
		{"https://www.instagram.com/someone/", true},
		{"https://chatgpt.com/", true},
		{"ftp://www.youtube.com/watch?v=abc", true},
		{"http://", true},
		{"", true},
	}

	for _, tt := range tests {
		err := ValidateTabURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateTabURL(%s) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateRange(t *testing.T) {
	tests := []struct {
		name    string
		r       models.TimeRange
		want    *models.SliceRange
		wantMsg string
	}{
		{"empty", models.TimeRange{}, nil, ""},
		{"valid", models.TimeRange{Start: "00:10", End: "01:30"}, &models.SliceRange{Start: 10, End: 90}, ""},
		{"reversed", models.TimeRange{Start: "01:30", End: "00:10"}, nil, "range: start must precede end"},
		{"equal", models.TimeRange{Start: "5", End: "5"}, nil, "range: start must precede end"},
		{"half filled", models.TimeRange{Start: "5"}, nil, "range: both start and end are required"},
		{"nan start", models.TimeRange{Start: "NaN", End: "00:10"}, nil, `range: invalid time: start: invalid timestamp "NaN"`},
		{"nan end", models.TimeRange{Start: "00:05", End: "nan"}, nil, `range: invalid time: end: invalid timestamp "nan"`},
		{"infinite end", models.TimeRange{Start: "00:05", End: "Inf"}, nil, `range: invalid time: end: invalid timestamp "Inf"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateRange(tt.r)
			if tt.wantMsg != "" {
				if err == nil || err.Error() != tt.wantMsg {
					t.Fatalf("expected %q, got %v", tt.wantMsg, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if _, err := ValidateRange(models.TimeRange{Start: "aa", End: "10"}); err == nil {
		t.Error("expected an error for a malformed timestamp")
	}
}

func TestValidateLanguage(t *testing.T) {
	for _, code := range []string{"", "en", "ko", "es-419", "zh-Hans", "fil"} {
		if err := ValidateLanguage(code); err != nil {
			t.Errorf("ValidateLanguage(%q) = %v", code, err)
		}
	}
	for _, code := range []string{"EN", "english", "e", "en_US", "en-"} {
		if err := ValidateLanguage(code); err == nil {
			t.Errorf("ValidateLanguage(%q) should fail", code)
		}
	}
}

func TestValidatePrompt(t *testing.T) {
	if err := ValidatePrompt(models.PromptRequest{Transcript: "  "}); err == nil {
		t.Error("empty transcript should fail")
	}
	if err := ValidatePrompt(models.PromptRequest{Transcript: "text", TargetLanguageCode: "fr"}); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}
