package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/svdmeer/transcribe/pkg/apperr"
)

const (
	openaiMaxUploadBytes = 25 << 20

	formatVerboseJSON = "verbose_json"
	formatJSON        = "json"
)

// OpenAIEngine talks to an Azure OpenAI audio-transcription deployment. It
// requests detailed, time-stamped output; when the deployed model rejects the
// requested detail level it retries exactly once with the minimal format,
// because model/response-format compatibility is not statically knowable.
type OpenAIEngine struct {
	endpoint   string
	apiKey     string
	deployment string
	apiVersion string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewOpenAIEngine fails fast when credentials are absent so a misconfigured
// backend never reaches the network.
func NewOpenAIEngine(endpoint, apiKey, deployment, apiVersion string, timeout time.Duration, log zerolog.Logger) (*OpenAIEngine, error) {
	if endpoint == "" {
		return nil, apperr.Configuration("AZURE_OPENAI_ENDPOINT is not set")
	}
	if apiKey == "" {
		return nil, apperr.Configuration("AZURE_OPENAI_API_KEY is not set")
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &OpenAIEngine{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiKey:     apiKey,
		deployment: deployment,
		apiVersion: apiVersion,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("engine", NameOpenAI).Logger(),
	}, nil
}

func (e *OpenAIEngine) Name() string { return NameOpenAI }

func (e *OpenAIEngine) MaxUploadBytes() int64 { return openaiMaxUploadBytes }

func (e *OpenAIEngine) Transcribe(ctx context.Context, audioPath, language string, progress ProgressFunc) (*Result, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, apperr.Validation("audio file not found: %s", audioPath)
	}

	notify(progress, "Transcribing with "+e.deployment+"...")

	resp, err := e.request(ctx, audioPath, language, formatVerboseJSON)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Code == apperr.CodeBackendRejected && mentionsResponseFormat(ae.Message) {
			// The deployed model does not support the detailed format;
			// fall back once to the minimal compatible one.
			e.log.Warn().Msg("verbose_json rejected by deployment, retrying with json")
			notify(progress, "Retrying with minimal response format...")
			resp, err = e.request(ctx, audioPath, language, formatJSON)
		}
	}
	if err != nil {
		return nil, err
	}

	notify(progress, fmt.Sprintf("Transcription complete: %d segments", len(resp.Segments)))

	result := &Result{
		Text:            resp.Text,
		DurationSeconds: resp.Duration,
		Segments:        make([]Segment, 0, len(resp.Segments)),
	}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, Segment{
			Speaker: seg.Speaker.label,
			Text:    seg.Text,
			Start:   seg.Start,
			End:     seg.End,
		})
	}
	return result, nil
}

func (e *OpenAIEngine) request(ctx context.Context, audioPath, language, responseFormat string) (*openaiResponse, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy audio into form: %w", err)
	}

	writer.WriteField("model", e.deployment)
	if language != "" {
		writer.WriteField("language", language)
	}
	writer.WriteField("response_format", responseFormat)
	if responseFormat == formatVerboseJSON {
		writer.WriteField("timestamp_granularities[]", "segment")
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/audio/transcriptions?api-version=%s",
		e.endpoint, e.deployment, e.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("api-key", e.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, apperr.BackendTimeout("transcription request timed out").WithCause(err)
		}
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		// The backend's message is preserved verbatim for diagnostics.
		return nil, apperr.BackendRejected("backend returned %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded openaiResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, apperr.BackendRejected("unrecognized response payload: %s", snippet(respBody))
	}
	return &decoded, nil
}

// openaiResponse is the strict schema for the deployment's transcription
// payload (API version 2025-01-01). Anything that does not decode into it is
// a hard rejection rather than a best guess.
type openaiResponse struct {
	Text     string          `json:"text"`
	Duration float64         `json:"duration"`
	Segments []openaiSegment `json:"segments"`
}

type openaiSegment struct {
	ID      int          `json:"id"`
	Speaker speakerLabel `json:"speaker"`
	Start   float64      `json:"start"`
	End     float64      `json:"end"`
	Text    string       `json:"text"`
}

// speakerLabel accepts the two ways the schema spells a speaker: a string
// label or a bare integer index. Integers become decimal strings so the
// diarization normalizer can turn them into 1-based display labels.
type speakerLabel struct {
	label string
}

func (s *speakerLabel) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		s.label = asString
		return nil
	}
	var asInt int
	if err := json.Unmarshal(data, &asInt); err == nil {
		s.label = strconv.Itoa(asInt)
		return nil
	}
	if string(data) == "null" {
		s.label = ""
		return nil
	}
	return fmt.Errorf("speaker is neither string nor integer: %s", data)
}

func mentionsResponseFormat(message string) bool {
	return strings.Contains(strings.ToLower(message), "response_format")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
