package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	postgrest "github.com/supabase-community/postgrest-go"

	"github.com/JoaoMarcos160/vet-transcription-platform/internal/types"
)

const (
	transcriptionsTable = "transcriptions"
	notificationsTable  = "notifications"
)

// SupabaseClient implements StatusStore and Notifier against the platform's
// Supabase tables through PostgREST.
type SupabaseClient struct {
	client *postgrest.Client
	logger zerolog.Logger
}

// NewSupabaseClient creates a PostgREST client with service role credentials.
func NewSupabaseClient(supabaseURL, serviceKey string, logger zerolog.Logger) (*SupabaseClient, error) {
	if supabaseURL == "" || serviceKey == "" {
		return nil, fmt.Errorf("supabase url and service key are required")
	}

	client := postgrest.NewClient(supabaseURL+"/rest/v1", "", map[string]string{
		"apikey":        serviceKey,
		"Authorization": fmt.Sprintf("Bearer %s", serviceKey),
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("initialize postgrest client: %w", client.ClientError)
	}

	return &SupabaseClient{
		client: client,
		logger: logger.With().Str("component", "storage.supabase").Logger(),
	}, nil
}

// transcriptionRow mirrors the transcriptions table columns this pipeline
// writes. Pointers keep untouched columns out of the PATCH body.
type transcriptionRow struct {
	Status         string                    `json:"status,omitempty"`
	TranscriptText *string                   `json:"transcript_text,omitempty"`
	Segments       []types.TranscriptSegment `json:"segments,omitempty"`
	Confidence     *float64                  `json:"confidence,omitempty"`
	ErrorMessage   *string                   `json:"error_message,omitempty"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// UpdateStatus patches the transcription record identified by transcriptionID.
func (s *SupabaseClient) UpdateStatus(ctx context.Context, transcriptionID string, update StatusUpdate) error {
	row := transcriptionRow{
		Status:         update.Status,
		TranscriptText: update.TranscriptText,
		Segments:       update.Segments,
		Confidence:     update.Confidence,
		ErrorMessage:   update.ErrorMessage,
		UpdatedAt:      time.Now().UTC(),
	}

	var results []transcriptionRow
	_, err := s.client.From(transcriptionsTable).
		Update(row, "", "").
		Eq("id", transcriptionID).
		ExecuteTo(&results)
	if err != nil {
		return fmt.Errorf("update transcription %s: %w", transcriptionID, err)
	}

	s.logger.Debug().
		Str("transcription_id", transcriptionID).
		Str("status", update.Status).
		Msg("status updated")
	return nil
}

// notificationRow mirrors the notifications table columns.
type notificationRow struct {
	UserID          string    `json:"user_id"`
	TranscriptionID string    `json:"transcription_id"`
	Type            string    `json:"type"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateNotification inserts a notification row for the user.
func (s *SupabaseClient) CreateNotification(ctx context.Context, payload NotificationPayload) error {
	row := notificationRow{
		UserID:          payload.UserID,
		TranscriptionID: payload.TranscriptionID,
		Type:            payload.Type,
		Title:           payload.Title,
		Message:         payload.Message,
		CreatedAt:       payload.Timestamp,
	}

	var results []notificationRow
	_, err := s.client.From(notificationsTable).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&results)
	if err != nil {
		return fmt.Errorf("create notification for %s: %w", payload.UserID, err)
	}
	return nil
}
