package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPAudioFetcher downloads audio referenced by a signed URL or a
// bucket-relative object path resolved against a base URL.
type HTTPAudioFetcher struct {
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewHTTPAudioFetcher creates a fetcher with a hard per-download timeout.
func NewHTTPAudioFetcher(baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPAudioFetcher {
	return &HTTPAudioFetcher{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With().Str("component", "storage.fetch").Logger(),
	}
}

// Fetch downloads the audio bytes behind the reference. Timeouts and
// transport errors surface to the caller unwrapped in a download error.
func (f *HTTPAudioFetcher) Fetch(ctx context.Context, audioReference string) ([]byte, error) {
	target := audioReference
	if u, err := url.Parse(audioReference); err != nil || u.Scheme == "" {
		target = f.baseURL + "/" + strings.TrimPrefix(audioReference, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download audio: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio body: %w", err)
	}

	f.logger.Debug().
		Str("reference", audioReference).
		Int("bytes", len(data)).
		Dur("took", time.Since(start)).
		Msg("audio downloaded")
	return data, nil
}
