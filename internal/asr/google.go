package asr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	speech "google.golang.org/api/speech/v1"
	"google.golang.org/api/option"

	"github.com/JoaoMarcos160/vet-transcription-platform/internal/types"
)

// GoogleProvider implements Provider against Cloud Speech-to-Text.
type GoogleProvider struct {
	service      *speech.Service
	pollInterval time.Duration
	logger       zerolog.Logger
}

// NewGoogleProvider creates a Speech-to-Text client. Credentials come from
// the given service account file, a GOOGLE_ACCESS_TOKEN env var, or
// application default credentials, in that order.
func NewGoogleProvider(ctx context.Context, credentialsFile string, logger zerolog.Logger) (*GoogleProvider, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else if token := os.Getenv("GOOGLE_ACCESS_TOKEN"); token != "" {
		opts = append(opts, option.WithTokenSource(
			oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})))
	}

	srv, err := speech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech service: %w", err)
	}

	return &GoogleProvider{
		service:      srv,
		pollInterval: 5 * time.Second,
		logger:       logger.With().Str("component", "asr.google").Logger(),
	}, nil
}

// Transcribe sends audio to Cloud Speech-to-Text and maps the response into
// the provider-neutral form.
func (p *GoogleProvider) Transcribe(ctx context.Context, audio []byte, format string, opts Options) (*Response, error) {
	cfg := &speech.RecognitionConfig{
		Encoding:                   encodingFor(format),
		LanguageCode:               opts.LanguageCode,
		EnableAutomaticPunctuation: opts.EnablePunctuation,
		EnableWordTimeOffsets:      opts.EnableWordTimeOffsets,
		MaxAlternatives:            int64(opts.MaxAlternatives),
	}
	if opts.EnableDiarization {
		cfg.DiarizationConfig = &speech.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
		}
	}

	content := base64.StdEncoding.EncodeToString(audio)

	// Rough duration estimate from payload size is unreliable, so requests
	// go through Recognize first and fall back to the long-running API only
	// when the service rejects the audio as too long for the sync path.
	results, err := p.recognize(ctx, cfg, content)
	if err != nil {
		return nil, err
	}

	return mapResults(results), nil
}

func (p *GoogleProvider) recognize(ctx context.Context, cfg *speech.RecognitionConfig, content string) ([]*speech.SpeechRecognitionResult, error) {
	resp, err := p.service.Speech.Recognize(&speech.RecognizeRequest{
		Config: cfg,
		Audio:  &speech.RecognitionAudio{Content: content},
	}).Context(ctx).Do()
	if err == nil {
		return resp.Results, nil
	}
	if !exceedsSyncLimit(err) {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	p.logger.Debug().Err(err).Msg("audio too long for sync recognize, using long-running")
	return p.longRunningRecognize(ctx, cfg, content)
}

// exceedsSyncLimit reports whether the service rejected a synchronous
// Recognize call because the audio is over the sync length limit. Any other
// failure (auth, invalid argument, quota) must not be retried on the
// long-running path.
func exceedsSyncLimit(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != 400 {
		return false
	}
	msg := strings.ToLower(gerr.Message)
	return strings.Contains(msg, "too long") ||
		strings.Contains(msg, "duration limit") ||
		strings.Contains(msg, "longrunningrecognize")
}

func (p *GoogleProvider) longRunningRecognize(ctx context.Context, cfg *speech.RecognitionConfig, content string) ([]*speech.SpeechRecognitionResult, error) {
	op, err := p.service.Speech.Longrunningrecognize(&speech.LongRunningRecognizeRequest{
		Config: cfg,
		Audio:  &speech.RecognitionAudio{Content: content},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("long-running recognize: %w", err)
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		op, err = p.service.Operations.Get(op.Name).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("poll operation %s: %w", op.Name, err)
		}
	}

	if op.Error != nil {
		return nil, fmt.Errorf("recognition operation failed: %s", op.Error.Message)
	}

	var lr speech.LongRunningRecognizeResponse
	if err := json.Unmarshal(op.Response, &lr); err != nil {
		return nil, fmt.Errorf("decode operation response: %w", err)
	}
	return lr.Results, nil
}

func mapResults(in []*speech.SpeechRecognitionResult) *Response {
	resp := &Response{}
	for _, r := range in {
		if r == nil {
			continue
		}
		result := Result{}
		for _, a := range r.Alternatives {
			if a == nil {
				continue
			}
			alt := Alternative{
				Transcript: a.Transcript,
				Confidence: a.Confidence,
			}
			for _, w := range a.Words {
				if w == nil {
					continue
				}
				alt.Words = append(alt.Words, Word{
					Text:       w.Word,
					StartTime:  Timestamp(ParseDurationString(w.StartTime)),
					EndTime:    Timestamp(ParseDurationString(w.EndTime)),
					SpeakerTag: int(w.SpeakerTag),
				})
			}
			result.Alternatives = append(result.Alternatives, alt)
		}
		resp.Results = append(resp.Results, result)
	}
	return resp
}

// encodingFor maps pipeline audio formats to Speech-to-Text encodings.
// Formats the service can sniff from the container header stay unspecified.
func encodingFor(format string) string {
	switch format {
	case types.FormatMP3:
		return "MP3"
	case types.FormatWAV:
		return "LINEAR16"
	case types.FormatOGG, types.FormatOpus:
		return "OGG_OPUS"
	case types.FormatWebM:
		return "WEBM_OPUS"
	default:
		return "ENCODING_UNSPECIFIED"
	}
}
