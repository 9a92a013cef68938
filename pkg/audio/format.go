package audio

import (
	"path/filepath"
	"sort"
	"strings"
)

// Decision is the conversion plan for one upload against one engine.
type Decision int

const (
	// DecisionUnsupported means the file cannot be made acceptable at all.
	DecisionUnsupported Decision = iota
	// DecisionNative means the engine accepts the file as-is.
	DecisionNative
	// DecisionExtract means the audio payload can be demuxed out of its
	// container without re-encoding.
	DecisionExtract
	// DecisionReencode means the file must be transcoded to WAV first.
	DecisionReencode
)

func (d Decision) String() string {
	switch d {
	case DecisionNative:
		return "native"
	case DecisionExtract:
		return "extract"
	case DecisionReencode:
		return "reencode"
	default:
		return "unsupported"
	}
}

type formatSet struct {
	native   map[string]bool
	extract  map[string]bool
	reencode map[string]bool
}

// The two backends accept different native sets, so the tables are keyed by
// engine name and must be kept in sync with what each API documents.
var engineFormats = map[string]formatSet{
	// Deployment-model backend (25 MB ceiling, narrow native set).
	"openai": {
		native: set(".mp3", ".mp4", ".m4a", ".wav", ".webm", ".mpeg", ".mpga"),
		// No lossless demux target: the backend does not accept WMA, so
		// containers always go through a full re-encode.
		extract:  set(),
		reencode: set(".asf", ".wma", ".avi", ".flv", ".ogg", ".flac", ".aac", ".wmv"),
	},
	// Fast-transcription backend (300 MB ceiling, accepts WMA natively,
	// which makes ASF containers extractable without quality loss).
	"speech": {
		native:   set(".wav", ".mp3", ".ogg", ".opus", ".flac", ".wma", ".aac", ".webm", ".amr", ".speex"),
		extract:  set(".asf"),
		reencode: set(".avi", ".flv", ".wmv", ".m4a", ".mp4", ".mpeg", ".mpga"),
	},
}

func set(exts ...string) map[string]bool {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[e] = true
	}
	return m
}

// Classify decides how a file must be handled before it can be submitted to
// the named engine. Pure function of the extension (case-insensitive) and the
// engine's format tables, checked in precedence order native > extract >
// reencode.
func Classify(filename, engineName string) Decision {
	ext := strings.ToLower(filepath.Ext(filename))
	formats, ok := engineFormats[engineName]
	if !ok {
		return DecisionUnsupported
	}

	switch {
	case formats.native[ext]:
		return DecisionNative
	case formats.extract[ext]:
		return DecisionExtract
	case formats.reencode[ext]:
		return DecisionReencode
	default:
		return DecisionUnsupported
	}
}

// Accepted reports whether an upload with this filename may be admitted for
// the named engine at all. Callers must reject unsupported files before a job
// is created.
func Accepted(filename, engineName string) bool {
	return Classify(filename, engineName) != DecisionUnsupported
}

// AcceptedExtensions lists every extension the named engine can take after
// normalization, sorted, without the leading dot.
func AcceptedExtensions(engineName string) []string {
	formats, ok := engineFormats[engineName]
	if !ok {
		return nil
	}

	var exts []string
	for _, m := range []map[string]bool{formats.native, formats.extract, formats.reencode} {
		for ext := range m {
			exts = append(exts, strings.TrimPrefix(ext, "."))
		}
	}
	sort.Strings(exts)
	return exts
}

// NativeExtensions lists the extensions the named engine accepts without any
// transformation, sorted, without the leading dot.
func NativeExtensions(engineName string) []string {
	formats, ok := engineFormats[engineName]
	if !ok {
		return nil
	}

	exts := make([]string, 0, len(formats.native))
	for ext := range formats.native {
		exts = append(exts, strings.TrimPrefix(ext, "."))
	}
	sort.Strings(exts)
	return exts
}
