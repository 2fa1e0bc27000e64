// Package asr defines the speech-recognition provider capability and converts
// raw provider output into transcript segments.
package asr

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// Options are the recognition parameters passed to a provider.
type Options struct {
	LanguageCode          string `json:"language_code"`
	EnablePunctuation     bool   `json:"enable_punctuation"`
	EnableWordTimeOffsets bool   `json:"enable_word_time_offsets"`
	EnableDiarization     bool   `json:"enable_diarization"`
	MaxAlternatives       int    `json:"max_alternatives"`
}

// Provider is the capability the pipeline depends on but does not implement:
// given audio bytes, a format and options, return recognized text with
// per-word timestamps and confidence, or fail with a provider error.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, format string, opts Options) (*Response, error)
}

// Response is an ordered sequence of recognition results.
type Response struct {
	Results []Result `json:"results"`
}

// Result holds the alternatives for one recognized stretch of audio.
type Result struct {
	Alternatives []Alternative `json:"alternatives"`
}

// Alternative is one hypothesis for a result, with word timings.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words"`
}

// Word is a single recognized word with time offsets.
type Word struct {
	Text       string    `json:"word"`
	StartTime  Timestamp `json:"start_time"`
	EndTime    Timestamp `json:"end_time"`
	SpeakerTag int       `json:"speaker_tag,omitempty"`
}

// Text joins the best alternative of every result into the full transcript.
func (r *Response) Text() string {
	parts := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if len(res.Alternatives) == 0 {
			continue
		}
		if t := strings.TrimSpace(res.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Timestamp is a time offset in seconds. Providers serialize offsets as a
// bare number, a decimal-with-suffix string ("1.300s") or a
// {seconds, nanos} pair; all three decode here. Invalid input decodes to 0.
type Timestamp float64

// Seconds returns the offset as a float64.
func (t Timestamp) Seconds() float64 { return float64(t) }

// UnmarshalJSON accepts the three wire forms of a time offset.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	*t = 0

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num > 0 {
			*t = Timestamp(num)
		}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*t = Timestamp(ParseDurationString(str))
		return nil
	}

	var pair struct {
		Seconds int64 `json:"seconds"`
		Nanos   int64 `json:"nanos"`
	}
	if err := json.Unmarshal(data, &pair); err == nil {
		secs := float64(pair.Seconds) + float64(pair.Nanos)/1e9
		if secs > 0 {
			*t = Timestamp(secs)
		}
	}
	return nil
}

// ParseDurationString parses a decimal-with-suffix offset such as "1.300s".
// A missing suffix is tolerated; anything unparseable yields 0.
func ParseDurationString(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "s"))
	if s == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}
