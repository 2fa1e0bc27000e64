// Package storage holds the clients for the pipeline's external
// collaborators: the transcription status store, the notification channel
// and the audio object download.
package storage

import (
	"context"
	"time"

	"github.com/JoaoMarcos160/vet-transcription-platform/internal/types"
)

// StatusUpdate carries the fields written to a transcription record. Nil
// pointers are omitted from the update.
type StatusUpdate struct {
	Status         string
	TranscriptText *string
	Segments       []types.TranscriptSegment
	Confidence     *float64
	ErrorMessage   *string
}

// StatusStore is the external store holding transcription records.
type StatusStore interface {
	UpdateStatus(ctx context.Context, transcriptionID string, update StatusUpdate) error
}

// NotificationPayload is delivered to the user on completion or failure.
type NotificationPayload struct {
	UserID          string    `json:"user_id"`
	TranscriptionID string    `json:"transcription_id"`
	Type            string    `json:"type"` // "completed" or "failed"
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
}

// Notifier delivers a notification. Delivery is best-effort: callers log
// failures and move on.
type Notifier interface {
	CreateNotification(ctx context.Context, payload NotificationPayload) error
}

// AudioFetcher downloads the audio bytes behind an opaque reference.
type AudioFetcher interface {
	Fetch(ctx context.Context, audioReference string) ([]byte, error)
}
