package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/svdmeer/transcribe/pkg/apperr"
)

func tempAudioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.mp3")
	if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestOpenAIEngine(t *testing.T, endpoint string) *OpenAIEngine {
	t.Helper()
	eng, err := NewOpenAIEngine(endpoint, "test-key", "gpt-4o-transcribe-diarize", "2025-01-01", 30*time.Second, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestNewOpenAIEngineRequiresCredentials(t *testing.T) {
	if _, err := NewOpenAIEngine("", "key", "dep", "v", 0, zerolog.Nop()); apperr.CodeOf(err) != apperr.CodeConfiguration {
		t.Errorf("missing endpoint: code = %v, want configuration", apperr.CodeOf(err))
	}
	if _, err := NewOpenAIEngine("https://x.example.com", "", "dep", "v", 0, zerolog.Nop()); apperr.CodeOf(err) != apperr.CodeConfiguration {
		t.Errorf("missing key: code = %v, want configuration", apperr.CodeOf(err))
	}
}

func TestOpenAITranscribe(t *testing.T) {
	var gotFormat string
	var gotAPIKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotFormat = r.FormValue("response_format")
		gotAPIKey = r.Header.Get("api-key")

		json.NewEncoder(w).Encode(map[string]any{
			"text":     "hello world",
			"duration": 2.5,
			"segments": []map[string]any{
				{"id": 0, "speaker": "0", "start": 0.0, "end": 1.2, "text": "hello"},
				{"id": 1, "speaker": 1, "start": 1.3, "end": 2.5, "text": "world"},
			},
		})
	}))
	defer srv.Close()

	eng := newTestOpenAIEngine(t, srv.URL)
	result, err := eng.Transcribe(context.Background(), tempAudioFile(t), "nl", nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotFormat != "verbose_json" {
		t.Errorf("response_format = %q, want verbose_json", gotFormat)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("api-key header = %q", gotAPIKey)
	}
	if result.Text != "hello world" || result.DurationSeconds != 2.5 {
		t.Errorf("result = %+v", result)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(result.Segments))
	}
	// String and integer speaker values both arrive as decimal strings.
	if result.Segments[0].Speaker != "0" || result.Segments[1].Speaker != "1" {
		t.Errorf("speakers = %q, %q", result.Segments[0].Speaker, result.Segments[1].Speaker)
	}
}

func TestOpenAIFallsBackToJSONOnce(t *testing.T) {
	var formats []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(32 << 20)
		format := r.FormValue("response_format")
		formats = append(formats, format)

		if format == "verbose_json" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "response_format verbose_json is not supported with this model"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"text": "plain transcript"})
	}))
	defer srv.Close()

	eng := newTestOpenAIEngine(t, srv.URL)
	result, err := eng.Transcribe(context.Background(), tempAudioFile(t), "nl", nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if len(formats) != 2 || formats[0] != "verbose_json" || formats[1] != "json" {
		t.Errorf("request formats = %v, want [verbose_json json]", formats)
	}
	if result.Text != "plain transcript" {
		t.Errorf("Text = %q", result.Text)
	}
	if len(result.Segments) != 0 {
		t.Errorf("minimal format should yield no segments, got %+v", result.Segments)
	}
}

func TestOpenAINoFallbackForUnrelatedErrors(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limit exceeded"}}`))
	}))
	defer srv.Close()

	eng := newTestOpenAIEngine(t, srv.URL)
	_, err := eng.Transcribe(context.Background(), tempAudioFile(t), "nl", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry for unrelated rejection)", calls)
	}
	if apperr.CodeOf(err) != apperr.CodeBackendRejected {
		t.Errorf("code = %v, want backend rejected", apperr.CodeOf(err))
	}
}

func TestOpenAIMissingFile(t *testing.T) {
	eng := newTestOpenAIEngine(t, "https://unused.example.com")
	_, err := eng.Transcribe(context.Background(), "/nonexistent/audio.mp3", "nl", nil)
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("code = %v, want validation", apperr.CodeOf(err))
	}
}

func TestSpeakerLabelUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"alice"`, "alice"},
		{`"3"`, "3"},
		{`7`, "7"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var s speakerLabel
		if err := json.Unmarshal([]byte(tt.in), &s); err != nil {
			t.Errorf("unmarshal %s: %v", tt.in, err)
			continue
		}
		if s.label != tt.want {
			t.Errorf("unmarshal %s = %q, want %q", tt.in, s.label, tt.want)
		}
	}

	var s speakerLabel
	if err := json.Unmarshal([]byte(`{"x":1}`), &s); err == nil {
		t.Error("expected error for object speaker value")
	}
}

func TestMentionsResponseFormat(t *testing.T) {
	if !mentionsResponseFormat("backend returned 400: Response_Format not supported") {
		t.Error("case-insensitive match expected")
	}
	if mentionsResponseFormat("rate limit exceeded") {
		t.Error("unrelated message should not match")
	}
}
