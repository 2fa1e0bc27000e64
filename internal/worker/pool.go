// Package worker runs the bounded pool of consumers that lease jobs from the
// queue and drive them through download, recognition, segment extraction and
// the status state machine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/JoaoMarcos160/vet-transcription-platform/internal/asr"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/events"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/queue"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/storage"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/types"
)

// Config is the process-wide worker configuration, passed explicitly so the
// pool stays testable in isolation.
type Config struct {
	Count           int
	LockDuration    time.Duration
	PollInterval    time.Duration
	DownloadTimeout time.Duration
	LanguageCode    string
	Diarization     bool
}

func (c *Config) applyDefaults() {
	if c.Count <= 0 {
		c.Count = 4
	}
	if c.LockDuration <= 0 {
		c.LockDuration = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 300 * time.Second
	}
	if c.LanguageCode == "" {
		c.LanguageCode = "pt-BR"
	}
}

// Pool manages the worker goroutines. Its concurrency bounds simultaneous
// audio downloads and ASR calls; there is no separate rate limiter.
type Pool struct {
	queue    queue.Queue
	provider asr.Provider
	status   storage.StatusStore
	fetcher  storage.AudioFetcher
	notifier storage.Notifier
	bus      *events.Bus
	cfg      Config
	logger   zerolog.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPool wires the pipeline collaborators into a pool.
func NewPool(
	cfg Config,
	q queue.Queue,
	provider asr.Provider,
	status storage.StatusStore,
	fetcher storage.AudioFetcher,
	notifier storage.Notifier,
	bus *events.Bus,
	logger zerolog.Logger,
) *Pool {
	cfg.applyDefaults()
	return &Pool{
		queue:    q,
		provider: provider,
		status:   status,
		fetcher:  fetcher,
		notifier: notifier,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With().Str("component", "worker").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.logger.Info().Int("count", p.cfg.Count).Msg("starting worker pool")
	for i := 0; i < p.cfg.Count; i++ {
		p.wg.Add(1)
		go p.run(fmt.Sprintf("worker-%d", i))
	}
}

// Stop signals all workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	close(p.stopChan)
	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

// run is one worker's lease loop: poll with backoff when the queue is empty
// or paused, otherwise process the leased job.
func (p *Pool) run(workerID string) {
	defer p.wg.Done()
	logger := p.logger.With().Str("worker_id", workerID).Logger()

	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		rec, err := p.queue.Lease(context.Background(), workerID, p.cfg.LockDuration)
		if err != nil {
			logger.Error().Err(err).Msg("lease failed")
		}
		if rec == nil {
			select {
			case <-p.stopChan:
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		result := p.processJob(logger, rec)
		logger.Info().
			Str("job_id", rec.ID).
			Str("transcription_id", result.TranscriptionID).
			Str("status", result.Status).
			Int64("processing_time_ms", result.ProcessingTimeMs).
			Msg("job finished")
	}
}

// processJob drives one leased job through the pipeline. It never lets a
// failure escape: every error path writes a failed status and reports to the
// queue before returning.
func (p *Pool) processJob(logger zerolog.Logger, rec *queue.JobRecord) (result types.TranscriptionJobResult) {
	started := time.Now()
	logger = logger.With().
		Str("job_id", rec.ID).
		Str("transcription_id", rec.Job.TranscriptionID).
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	renewDone := p.keepLockAlive(ctx, cancel, logger, rec)
	defer func() { cancel(); <-renewDone }()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("panic while processing job")
			err := fmt.Errorf("worker panic: %v", r)
			result = p.failJob(logger, rec, err, started)
		}
	}()

	text, segments, confidence, err := p.transcribe(ctx, logger, rec)
	if err != nil {
		return p.failJob(logger, rec, err, started)
	}

	return p.completeJob(logger, rec, text, segments, confidence, started)
}

// transcribe runs the happy-path pipeline steps up to the terminal write.
func (p *Pool) transcribe(ctx context.Context, logger zerolog.Logger, rec *queue.JobRecord) (string, []types.TranscriptSegment, float64, error) {
	job := rec.Job

	// Processing must be visible before any provider work so a polling client
	// never sees the job vanish between pending and a terminal state.
	if err := p.status.UpdateStatus(ctx, job.TranscriptionID, storage.StatusUpdate{
		Status: types.StatusProcessing,
	}); err != nil {
		return "", nil, 0, fmt.Errorf("write processing status: %w", err)
	}
	p.publish(events.TypeProcessing, rec, "")

	if !types.ValidateAudioFormat(job.AudioFormat) {
		return "", nil, 0, &ValidationError{Reason: fmt.Sprintf("unsupported audio format %q", job.AudioFormat)}
	}

	downloadCtx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	defer cancel()
	audio, err := p.fetcher.Fetch(downloadCtx, job.AudioReference)
	if err != nil {
		return "", nil, 0, &DownloadError{Err: err}
	}
	logger.Debug().Int("bytes", len(audio)).Msg("audio fetched")

	resp, err := p.provider.Transcribe(ctx, audio, job.AudioFormat, asr.Options{
		LanguageCode:          p.cfg.LanguageCode,
		EnablePunctuation:     true,
		EnableWordTimeOffsets: true,
		EnableDiarization:     p.cfg.Diarization,
		MaxAlternatives:       1,
	})
	if err != nil {
		return "", nil, 0, &ProviderError{Err: err}
	}

	return resp.Text(), asr.ExtractSegments(resp), asr.MeanConfidence(resp), nil
}

// completeJob performs the terminal sequence for a successful job: status
// store write, queue completion, then best-effort notification.
func (p *Pool) completeJob(logger zerolog.Logger, rec *queue.JobRecord, text string, segments []types.TranscriptSegment, confidence float64, started time.Time) types.TranscriptionJobResult {
	ctx := context.Background()
	job := rec.Job

	result := types.TranscriptionJobResult{
		TranscriptionID:  job.TranscriptionID,
		Status:           types.StatusCompleted,
		Text:             text,
		Segments:         segments,
		Confidence:       confidence,
		ProcessedAt:      time.Now(),
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}

	if err := p.status.UpdateStatus(ctx, job.TranscriptionID, storage.StatusUpdate{
		Status:         types.StatusCompleted,
		TranscriptText: &text,
		Segments:       segments,
		Confidence:     &confidence,
	}); err != nil {
		// The transcript exists but the record write failed; retrying the
		// whole job is the only recovery path.
		logger.Error().Err(err).Msg("terminal status write failed")
		return p.failJob(logger, rec, fmt.Errorf("write completed status: %w", err), started)
	}

	if err := p.queue.Complete(ctx, rec.ID, rec.LockToken, &result); err != nil {
		if errors.Is(err, queue.ErrStaleLock) {
			logger.Warn().Msg("lease lost before completion, result discarded by queue")
		} else {
			logger.Error().Err(err).Msg("queue completion failed")
		}
		return result
	}

	p.notify(logger, job, types.StatusCompleted, "Transcrição concluída",
		"Sua transcrição está pronta.")
	p.publish(events.TypeCompleted, rec, "")
	return result
}

// failJob performs the terminal sequence for a failed attempt. Notification
// is only sent once no further retry will happen.
func (p *Pool) failJob(logger zerolog.Logger, rec *queue.JobRecord, jobErr error, started time.Time) types.TranscriptionJobResult {
	ctx := context.Background()
	job := rec.Job
	message := userMessage(jobErr)
	canRetry := retryable(jobErr)

	logger.Error().Err(jobErr).Bool("retryable", canRetry).Msg("job attempt failed")

	if err := p.status.UpdateStatus(ctx, job.TranscriptionID, storage.StatusUpdate{
		Status:       types.StatusFailed,
		ErrorMessage: &message,
	}); err != nil {
		logger.Error().Err(err).Msg("failed status write failed")
	}

	stale := false
	if err := p.queue.Fail(ctx, rec.ID, rec.LockToken, jobErr.Error(), canRetry); err != nil {
		if errors.Is(err, queue.ErrStaleLock) {
			logger.Warn().Msg("lease lost before failure report")
			stale = true
		} else {
			logger.Error().Err(err).Msg("queue failure report failed")
		}
	}

	terminal := !canRetry || rec.AttemptsMade+1 >= rec.MaxAttempts
	switch {
	case stale:
		// Another worker or the sweeper owns this job now; stay quiet.
	case terminal:
		p.notify(logger, job, types.StatusFailed, "Falha na transcrição", message)
		p.publish(events.TypeFailed, rec, message)
	default:
		p.publish(events.TypeRetrying, rec, message)
	}

	return types.TranscriptionJobResult{
		TranscriptionID:  job.TranscriptionID,
		Status:           types.StatusFailed,
		ErrorMessage:     message,
		ProcessedAt:      time.Now(),
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}
}

// keepLockAlive renews the job lock at half the lock duration until ctx is
// cancelled. Losing the lease cancels ctx so in-flight work stops early.
func (p *Pool) keepLockAlive(ctx context.Context, cancel context.CancelFunc, logger zerolog.Logger, rec *queue.JobRecord) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.cfg.LockDuration / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			err := p.queue.RenewLock(ctx, rec.ID, rec.LockToken, p.cfg.LockDuration)
			if errors.Is(err, queue.ErrStaleLock) {
				logger.Warn().Msg("lock renewal rejected, abandoning job")
				cancel()
				return
			}
			if err != nil {
				logger.Error().Err(err).Msg("lock renewal failed")
			}
		}
	}()
	return done
}

// notify delivers a user notification. Failures are logged and swallowed:
// they must never flip a completed job to failed.
func (p *Pool) notify(logger zerolog.Logger, job types.TranscriptionJob, status, title, message string) {
	if p.notifier == nil {
		return
	}
	// A misbehaving notifier must never undo a terminal state already
	// recorded for the job.
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Interface("panic", r).Msg("notifier panicked")
		}
	}()
	err := p.notifier.CreateNotification(context.Background(), storage.NotificationPayload{
		UserID:          job.UserID,
		TranscriptionID: job.TranscriptionID,
		Type:            status,
		Title:           title,
		Message:         message,
		Timestamp:       time.Now().UTC(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("notification delivery failed")
	}
}

func (p *Pool) publish(eventType events.Type, rec *queue.JobRecord, message string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.Event{
		JobID:           rec.ID,
		TranscriptionID: rec.Job.TranscriptionID,
		Type:            eventType,
		Message:         message,
	})
}
