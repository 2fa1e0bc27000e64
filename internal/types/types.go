package types

import (
	"path/filepath"
	"strings"
	"time"
)

// Job states inside the queue.
const (
	JobStateWaiting   = "waiting"
	JobStateActive    = "active"
	JobStateCompleted = "completed"
	JobStateFailed    = "failed"
	JobStateDelayed   = "delayed"
)

// Transcription statuses written to the status store.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Supported audio formats
const (
	FormatMP3  = "mp3"
	FormatWAV  = "wav"
	FormatM4A  = "m4a"
	FormatOpus = "opus"
	FormatOGG  = "ogg"
	FormatWebM = "webm"
)

// TranscriptionJob is the immutable job payload submitted by the producer.
type TranscriptionJob struct {
	TranscriptionID string  `json:"transcription_id"`
	UserID          string  `json:"user_id"`
	AudioReference  string  `json:"audio_reference"`
	AudioFormat     string  `json:"audio_format"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// TranscriptSegment is a time-bounded slice of transcript text.
type TranscriptSegment struct {
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker,omitempty"`
}

// TranscriptionJobResult is returned by the worker once a job reaches a
// terminal state, for logging and the event stream.
type TranscriptionJobResult struct {
	TranscriptionID  string              `json:"transcription_id"`
	Status           string              `json:"status"`
	Text             string              `json:"text,omitempty"`
	Segments         []TranscriptSegment `json:"segments,omitempty"`
	Confidence       float64             `json:"confidence,omitempty"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	ProcessedAt      time.Time           `json:"processed_at"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
}

// ValidateAudioFormat checks if the format (bare name or filename extension)
// is one the pipeline accepts.
func ValidateAudioFormat(format string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(format), "."))
	if ext == "" {
		ext = strings.ToLower(format)
	}
	switch ext {
	case FormatMP3, FormatWAV, FormatM4A, FormatOpus, FormatOGG, FormatWebM:
		return true
	}
	return false
}
