package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func envelopeHandler(t *testing.T, prefs map[string]string, mu *sync.Mutex) http.Handler {
	t.Helper()
	write := func(w http.ResponseWriter, data interface{}) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tabs", func(w http.ResponseWriter, r *http.Request) {
		write(w, []map[string]string{
			{"id": "tab-1", "platform": "youtube", "url": "https://www.youtube.com/watch?v=abc"},
			{"id": "chat-1", "platform": "chatgpt", "url": "https://chatgpt.com/"},
		})
	})
	mux.HandleFunc("/api/v1/preferences/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/api/v1/preferences/")
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodPut {
			var body struct {
				Value string `json:"value"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			prefs[key] = body.Value
		}
		write(w, map[string]string{"key": key, "value": prefs[key]})
	})
	mux.HandleFunc("/api/v1/acquisitions", func(w http.ResponseWriter, r *http.Request) {
		t.Error("acquisition request should not have been sent")
	})
	return mux
}

func TestRun(t *testing.T) {
	prefs := map[string]string{}
	var mu sync.Mutex
	ts := httptest.NewServer(envelopeHandler(t, prefs, &mu))
	defer ts.Close()

	tests := []struct {
		name       string
		args       []string
		wantOut    string
		wantErr    string
		wantPrefLn string
	}{
		{name: "usage", args: nil, wantOut: "Usage: tubeprompt"},
		{name: "tabs", args: []string{"tabs"}, wantOut: "chat-1"},
		{name: "pref set", args: []string{"pref", "set", "preferredLanguage", "de"}, wantPrefLn: "de"},
		{name: "pref get", args: []string{"pref", "get", "preferredLanguage"}, wantOut: "de"},
		{name: "pref usage", args: []string{"pref", "get"}, wantErr: "usage"},
		{name: "reversed range", args: []string{"acquire", "-start", "02:15", "-end", "01:00"}, wantErr: "start must precede end"},
		{name: "unknown", args: []string{"frobnicate"}, wantErr: "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout bytes.Buffer
			args := append([]string{"-server", ts.URL}, tt.args...)
			err := run(context.Background(), &stdout, io.Discard, args)

			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if !strings.Contains(stdout.String(), tt.wantOut) {
				t.Errorf("stdout = %q, want %q", stdout.String(), tt.wantOut)
			}
			if tt.wantPrefLn != "" {
				mu.Lock()
				got := prefs["preferredLanguage"]
				mu.Unlock()
				if got != tt.wantPrefLn {
					t.Errorf("stored pref = %q", got)
				}
			}
		})
	}
}
