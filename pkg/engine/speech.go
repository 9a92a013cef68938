package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/svdmeer/transcribe/pkg/apperr"
)

const (
	speechMaxUploadBytes = 300 << 20

	// Fast-transcription API version with improved diarization.
	speechAPIVersion = "2025-10-15"
)

// SpeechEngine talks to the Azure Speech fast-transcription REST API: one
// synchronous multipart upload with diarization enabled, JSON back with
// millisecond timing and 0-based speaker indices.
type SpeechEngine struct {
	key         string
	region      string
	maxSpeakers int
	phraseList  []string
	baseURL     string
	httpClient  *http.Client
	log         zerolog.Logger
}

// NewSpeechEngine fails fast when credentials are absent.
func NewSpeechEngine(key, region string, maxSpeakers int, phraseList []string, timeout time.Duration, log zerolog.Logger) (*SpeechEngine, error) {
	if key == "" {
		return nil, apperr.Configuration("AZURE_SPEECH_KEY is not set")
	}
	if region == "" {
		return nil, apperr.Configuration("AZURE_SPEECH_REGION is not set")
	}
	if maxSpeakers <= 0 {
		maxSpeakers = 10
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &SpeechEngine{
		key:         key,
		region:      region,
		maxSpeakers: maxSpeakers,
		phraseList:  phraseList,
		baseURL:     fmt.Sprintf("https://%s.api.cognitive.microsoft.com", region),
		httpClient:  &http.Client{Timeout: timeout},
		log:         log.With().Str("engine", NameSpeech).Logger(),
	}, nil
}

func (e *SpeechEngine) Name() string { return NameSpeech }

func (e *SpeechEngine) MaxUploadBytes() int64 { return speechMaxUploadBytes }

// speechLocales maps short language codes to the full locale tags the API
// expects. Unknown codes synthesize a best-guess tag rather than failing.
var speechLocales = map[string]string{
	"nl": "nl-NL",
	"en": "en-US",
	"de": "de-DE",
	"fr": "fr-FR",
	"es": "es-ES",
	"it": "it-IT",
}

// SupportedLanguages lists the short codes with a known locale mapping,
// sorted. Other codes are still accepted via the synthesized tag.
func SupportedLanguages() []string {
	codes := make([]string, 0, len(speechLocales))
	for code := range speechLocales {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (e *SpeechEngine) locale(language string) string {
	if loc, ok := speechLocales[language]; ok {
		return loc
	}
	return fmt.Sprintf("%s-%s", language, strings.ToUpper(language))
}

var speechContentTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/flac",
	".webm": "audio/webm",
	".wma":  "audio/x-ms-wma",
	".aac":  "audio/aac",
	".amr":  "audio/amr",
}

func contentTypeFor(path string) string {
	if ct, ok := speechContentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "audio/wav"
}

// transcribeDefinition is the request definition sent alongside the audio.
type transcribeDefinition struct {
	Locales             []string           `json:"locales"`
	Diarization         diarizationOptions `json:"diarization"`
	ProfanityFilterMode string             `json:"profanityFilterMode"`
	PhraseList          *phraseListOptions `json:"phraseList,omitempty"`
}

type diarizationOptions struct {
	MaxSpeakers int  `json:"maxSpeakers"`
	Enabled     bool `json:"enabled"`
}

type phraseListOptions struct {
	Phrases []string `json:"phrases"`
}

func (e *SpeechEngine) Transcribe(ctx context.Context, audioPath, language string, progress ProgressFunc) (*Result, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, apperr.Validation("audio file not found: %s", audioPath)
	}
	defer file.Close()

	locale := e.locale(language)
	definition := transcribeDefinition{
		Locales:             []string{locale},
		Diarization:         diarizationOptions{MaxSpeakers: e.maxSpeakers, Enabled: true},
		ProfanityFilterMode: "None",
	}
	if len(e.phraseList) > 0 {
		definition.PhraseList = &phraseListOptions{Phrases: e.phraseList}
	}
	definitionJSON, err := json.Marshal(definition)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := audioFormFile(writer, filepath.Base(audioPath), contentTypeFor(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy audio into form: %w", err)
	}
	writer.WriteField("definition", string(definitionJSON))
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	url := fmt.Sprintf("%s/speechtotext/transcriptions:transcribe?api-version=%s", e.baseURL, speechAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", e.key)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	e.log.Info().Str("locale", locale).Str("file", filepath.Base(audioPath)).Msg("calling fast transcription API")
	notify(progress, "Transcribing audio (this may take a few minutes)...")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, apperr.BackendTimeout("transcription request timed out; the audio file may be too long").WithCause(err)
		}
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.BackendRejected("backend returned %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded speechResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, apperr.BackendRejected("unrecognized response payload: %s", snippet(respBody))
	}

	result := decoded.toResult()
	notify(progress, fmt.Sprintf("Transcription complete: %d segments", len(result.Segments)))
	return result, nil
}

// audioFormFile creates the "audio" part with an explicit content type; the
// API inspects it to pick a decoder.
func audioFormFile(w *multipart.Writer, filename, contentType string) (io.Writer, error) {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	return w.CreatePart(header)
}

// speechResponse is the strict schema of the fast-transcription payload
// (api-version 2025-10-15). Timing fields are milliseconds; speaker indices
// are 0-based and absent when diarization found nothing.
type speechResponse struct {
	DurationMilliseconds int64            `json:"durationMilliseconds"`
	CombinedPhrases      []combinedPhrase `json:"combinedPhrases"`
	Phrases              []speechPhrase   `json:"phrases"`
}

type combinedPhrase struct {
	Text string `json:"text"`
}

type speechPhrase struct {
	Speaker              *int   `json:"speaker"`
	OffsetMilliseconds   int64  `json:"offsetMilliseconds"`
	DurationMilliseconds int64  `json:"durationMilliseconds"`
	Text                 string `json:"text"`
}

func (r *speechResponse) toResult() *Result {
	result := &Result{
		DurationSeconds: float64(r.DurationMilliseconds) / 1000.0,
	}

	texts := make([]string, 0, len(r.CombinedPhrases))
	for _, cp := range r.CombinedPhrases {
		if cp.Text != "" {
			texts = append(texts, cp.Text)
		}
	}
	result.Text = strings.Join(texts, " ")

	for _, phrase := range r.Phrases {
		speaker := ""
		if phrase.Speaker != nil {
			speaker = strconv.Itoa(*phrase.Speaker)
		}
		start := float64(phrase.OffsetMilliseconds) / 1000.0
		result.Segments = append(result.Segments, Segment{
			Speaker: speaker,
			Text:    phrase.Text,
			Start:   start,
			End:     start + float64(phrase.DurationMilliseconds)/1000.0,
		})
	}

	return result
}
