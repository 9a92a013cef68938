package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/svdmeer/transcribe/pkg/apperr"
)

// Converter turns an upload into an engine-compatible audio file by driving
// ffmpeg. It owns the naming of the files it produces; deleting them is the
// caller's job via the cleanup func returned by Normalize.
type Converter struct {
	timeout time.Duration
	log     zerolog.Logger
}

// NewConverter creates a converter whose ffmpeg invocations are bounded by
// timeout (zero means the 300 s default).
func NewConverter(timeout time.Duration, log zerolog.Logger) *Converter {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Converter{
		timeout: timeout,
		log:     log.With().Str("component", "converter").Logger(),
	}
}

// FFmpegAvailable reports whether the ffmpeg binary is on PATH.
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// Normalize resolves the file the engine should receive, per the conversion
// decision. The returned cleanup func deletes whatever file Normalize created
// (never the input) and must be deferred by the caller so the file is gone on
// every exit path. After resolution the file is checked against maxBytes; a
// violation fails before any network call happens.
func (c *Converter) Normalize(ctx context.Context, inputPath string, decision Decision, maxBytes int64) (string, func(), error) {
	noop := func() {}

	var resolved string
	switch decision {
	case DecisionNative:
		resolved = inputPath

	case DecisionExtract:
		resolved = siblingPath(inputPath, "_extracted.wma")
		// Demux only: copy the audio stream out of the container,
		// preserving the original codec and quality.
		if err := c.runFFmpeg(ctx, "-y", "-i", inputPath, "-vn", "-acodec", "copy", resolved); err != nil {
			os.Remove(resolved)
			return "", noop, err
		}

	case DecisionReencode:
		resolved = siblingPath(inputPath, "_converted.wav")
		// 16-bit PCM, 16 kHz, mono: speech-optimized and keeps the
		// output small enough for the stricter engine ceiling.
		if err := c.runFFmpeg(ctx, "-y", "-i", inputPath,
			"-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1", resolved); err != nil {
			os.Remove(resolved)
			return "", noop, err
		}

	default:
		return "", noop, apperr.Validation("file %s is not supported", filepath.Base(inputPath))
	}

	cleanup := noop
	if resolved != inputPath {
		created := resolved
		cleanup = func() {
			if err := os.Remove(created); err != nil && !os.IsNotExist(err) {
				c.log.Warn().Err(err).Str("path", created).Msg("failed to remove converted file")
			}
		}
	}

	if err := c.checkSize(resolved, maxBytes); err != nil {
		cleanup()
		return "", noop, err
	}

	return resolved, cleanup, nil
}

func (c *Converter) checkSize(path string, maxBytes int64) error {
	if maxBytes <= 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return apperr.ConversionFailed("output file missing after conversion").WithCause(err)
	}
	if info.Size() > maxBytes {
		return apperr.PayloadTooLarge("file size %.1fMB exceeds the %dMB engine limit",
			float64(info.Size())/(1024*1024), maxBytes/(1024*1024))
	}
	return nil
}

func (c *Converter) runFFmpeg(ctx context.Context, args ...string) error {
	if !FFmpegAvailable() {
		return apperr.ConversionFailed("ffmpeg is not installed; install it or upload a natively supported format")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.ConversionTimeout("audio conversion timed out after %s", c.timeout)
	}
	if err != nil {
		return apperr.ConversionFailed("ffmpeg failed: %s", lastLine(stderr.String())).WithCause(err)
	}

	c.log.Debug().Dur("elapsed", time.Since(start)).Strs("args", args).Msg("ffmpeg finished")
	return nil
}

// Duration returns the audio duration in seconds via ffprobe. Best effort:
// callers treat failures as "unknown", never as pipeline errors.
func (c *Converter) Duration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %v (stderr: %s)", err, lastLine(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return 0, fmt.Errorf("ffprobe returned no duration")
	}

	duration, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", out, err)
	}
	return duration, nil
}

// siblingPath replaces the extension of path with suffix, keeping the
// directory, so converted files stay namespaced under the job's upload name.
func siblingPath(path, suffix string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + suffix
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
