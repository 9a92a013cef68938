package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/svdmeer/transcribe/pkg/apperr"
)

func newTestSpeechEngine(t *testing.T, baseURL string) *SpeechEngine {
	t.Helper()
	eng, err := NewSpeechEngine("test-key", "westeurope", 10, nil, 30*time.Second, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if baseURL != "" {
		eng.baseURL = baseURL
	}
	return eng
}

func TestNewSpeechEngineRequiresCredentials(t *testing.T) {
	if _, err := NewSpeechEngine("", "westeurope", 10, nil, 0, zerolog.Nop()); apperr.CodeOf(err) != apperr.CodeConfiguration {
		t.Errorf("missing key: code = %v, want configuration", apperr.CodeOf(err))
	}
	if _, err := NewSpeechEngine("key", "", 10, nil, 0, zerolog.Nop()); apperr.CodeOf(err) != apperr.CodeConfiguration {
		t.Errorf("missing region: code = %v, want configuration", apperr.CodeOf(err))
	}
}

func TestSpeechLocale(t *testing.T) {
	eng := newTestSpeechEngine(t, "")
	tests := []struct {
		language, want string
	}{
		{"nl", "nl-NL"},
		{"en", "en-US"},
		{"de", "de-DE"},
		{"pt", "pt-PT"},
		{"sv", "sv-SV"},
	}
	for _, tt := range tests {
		if got := eng.locale(tt.language); got != tt.want {
			t.Errorf("locale(%q) = %q, want %q", tt.language, got, tt.want)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"a.wav", "audio/wav"},
		{"a.mp3", "audio/mpeg"},
		{"a.WMA", "audio/x-ms-wma"},
		{"a.unknown", "audio/wav"},
	}
	for _, tt := range tests {
		if got := contentTypeFor(tt.path); got != tt.want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSpeechTranscribe(t *testing.T) {
	var gotKey string
	var gotDefinition transcribeDefinition

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if err := json.Unmarshal([]byte(r.FormValue("definition")), &gotDefinition); err != nil {
			t.Fatalf("decode definition: %v", err)
		}
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Fatalf("audio part missing: %v", err)
		}

		speaker0, speaker1 := 0, 1
		json.NewEncoder(w).Encode(speechResponse{
			DurationMilliseconds: 5250,
			CombinedPhrases:      []combinedPhrase{{Text: "Hallo daar."}, {Text: "Alles goed?"}},
			Phrases: []speechPhrase{
				{Speaker: &speaker0, OffsetMilliseconds: 0, DurationMilliseconds: 2500, Text: "Hallo daar."},
				{Speaker: &speaker1, OffsetMilliseconds: 2750, DurationMilliseconds: 2500, Text: "Alles goed?"},
			},
		})
	}))
	defer srv.Close()

	eng := newTestSpeechEngine(t, srv.URL)
	result, err := eng.Transcribe(context.Background(), tempAudioFile(t), "nl", nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("subscription key header = %q", gotKey)
	}
	if len(gotDefinition.Locales) != 1 || gotDefinition.Locales[0] != "nl-NL" {
		t.Errorf("locales = %v, want [nl-NL]", gotDefinition.Locales)
	}
	if !gotDefinition.Diarization.Enabled || gotDefinition.Diarization.MaxSpeakers != 10 {
		t.Errorf("diarization = %+v", gotDefinition.Diarization)
	}
	if gotDefinition.ProfanityFilterMode != "None" {
		t.Errorf("profanityFilterMode = %q", gotDefinition.ProfanityFilterMode)
	}

	if result.Text != "Hallo daar. Alles goed?" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.DurationSeconds != 5.25 {
		t.Errorf("DurationSeconds = %v, want 5.25", result.DurationSeconds)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(result.Segments))
	}
	first := result.Segments[0]
	if first.Speaker != "0" || first.Start != 0 || first.End != 2.5 {
		t.Errorf("first segment = %+v", first)
	}
	second := result.Segments[1]
	if second.Speaker != "1" || second.Start != 2.75 || second.End != 5.25 {
		t.Errorf("second segment = %+v", second)
	}
}

func TestSpeechTranscribePhraseList(t *testing.T) {
	var gotDefinition transcribeDefinition

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(32 << 20)
		json.Unmarshal([]byte(r.FormValue("definition")), &gotDefinition)
		json.NewEncoder(w).Encode(speechResponse{})
	}))
	defer srv.Close()

	eng, err := NewSpeechEngine("k", "westeurope", 10, []string{"VoiceFlow", "Azure"}, 30*time.Second, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	eng.baseURL = srv.URL

	if _, err := eng.Transcribe(context.Background(), tempAudioFile(t), "nl", nil); err != nil {
		t.Fatal(err)
	}
	if gotDefinition.PhraseList == nil || len(gotDefinition.PhraseList.Phrases) != 2 {
		t.Errorf("phraseList = %+v, want two phrases", gotDefinition.PhraseList)
	}
}

func TestSpeechBackendRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "invalid subscription key"}}`))
	}))
	defer srv.Close()

	eng := newTestSpeechEngine(t, srv.URL)
	_, err := eng.Transcribe(context.Background(), tempAudioFile(t), "nl", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.CodeOf(err) != apperr.CodeBackendRejected {
		t.Errorf("code = %v, want backend rejected", apperr.CodeOf(err))
	}
	// The backend's own message must survive verbatim for diagnostics.
	if !strings.Contains(err.Error(), "invalid subscription key") {
		t.Errorf("backend message lost: %v", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("status code lost: %v", err)
	}
}

func TestSpeechMissingSpeakerIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(speechResponse{
			DurationMilliseconds: 1000,
			CombinedPhrases:      []combinedPhrase{{Text: "no diarization"}},
			Phrases: []speechPhrase{
				{Speaker: nil, OffsetMilliseconds: 0, DurationMilliseconds: 1000, Text: "no diarization"},
			},
		})
	}))
	defer srv.Close()

	eng := newTestSpeechEngine(t, srv.URL)
	result, err := eng.Transcribe(context.Background(), tempAudioFile(t), "nl", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Segments[0].Speaker != "" {
		t.Errorf("Speaker = %q, want empty for missing index", result.Segments[0].Speaker)
	}
}
