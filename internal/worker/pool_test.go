package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/JoaoMarcos160/vet-transcription-platform/internal/asr"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/events"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/queue"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/storage"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/types"
)

type fakeProvider struct {
	resp *asr.Response
	err  error
}

func (f *fakeProvider) Transcribe(ctx context.Context, audio []byte, format string, opts asr.Options) (*asr.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type statusWrite struct {
	transcriptionID string
	update          storage.StatusUpdate
}

type fakeStatusStore struct {
	mu     sync.Mutex
	writes []statusWrite
}

func (f *fakeStatusStore) UpdateStatus(ctx context.Context, transcriptionID string, update storage.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, statusWrite{transcriptionID, update})
	return nil
}

func (f *fakeStatusStore) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	for i, w := range f.writes {
		out[i] = w.update.Status
	}
	return out
}

func (f *fakeStatusStore) last() statusWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[len(f.writes)-1]
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []storage.NotificationPayload
	panics   bool
}

func (f *fakeNotifier) CreateNotification(ctx context.Context, payload storage.NotificationPayload) error {
	if f.panics {
		panic("notifier exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func helloWorldResponse() *asr.Response {
	return &asr.Response{Results: []asr.Result{{
		Alternatives: []asr.Alternative{{
			Transcript: "hello world",
			Confidence: 0.95,
			Words: []asr.Word{
				{Text: "hello", StartTime: 0, EndTime: 0.5},
				{Text: "world", StartTime: 0.5, EndTime: 1.0},
			},
		}},
	}}}
}

type fixture struct {
	queue    *queue.SQLiteQueue
	status   *fakeStatusStore
	notifier *fakeNotifier
	pool     *Pool
}

func newFixture(t *testing.T, provider asr.Provider, fetcher storage.AudioFetcher, notifier *fakeNotifier) *fixture {
	t.Helper()
	q, err := queue.NewSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"), queue.Config{
		MaxAttempts: 3,
		BackoffBase: 10 * time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	status := &fakeStatusStore{}
	pool := NewPool(Config{
		Count:           1,
		LockDuration:    time.Minute,
		PollInterval:    5 * time.Millisecond,
		DownloadTimeout: time.Second,
	}, q, provider, status, fetcher, notifier, events.NewBus(100), zerolog.Nop())

	pool.Start()
	t.Cleanup(pool.Stop)

	return &fixture{queue: q, status: status, notifier: notifier, pool: pool}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPipelineSuccess(t *testing.T) {
	fx := newFixture(t,
		&fakeProvider{resp: helloWorldResponse()},
		&fakeFetcher{data: []byte("audio-bytes")},
		&fakeNotifier{})

	job := types.TranscriptionJob{
		TranscriptionID: "t-1",
		UserID:          "user-1",
		AudioReference:  "audio/t-1.mp3",
		AudioFormat:     types.FormatMP3,
		DurationSeconds: 300,
	}
	jobID, err := fx.queue.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, "job completion", func() bool {
		info, err := fx.queue.JobStatus(context.Background(), jobID)
		return err == nil && info.State == types.JobStateCompleted
	})

	statuses := fx.status.statuses()
	if len(statuses) != 2 || statuses[0] != types.StatusProcessing || statuses[1] != types.StatusCompleted {
		t.Fatalf("status sequence = %v, want [processing completed]", statuses)
	}

	last := fx.status.last()
	if last.update.TranscriptText == nil || *last.update.TranscriptText != "hello world" {
		t.Fatalf("transcript text = %v, want hello world", last.update.TranscriptText)
	}
	if last.update.Confidence == nil || *last.update.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want 0.95", last.update.Confidence)
	}
	if len(last.update.Segments) != 1 || last.update.Segments[0].Text != "hello world" {
		t.Fatalf("segments = %+v", last.update.Segments)
	}

	info, _ := fx.queue.JobStatus(context.Background(), jobID)
	if info.Result == nil || info.Result.Text != "hello world" {
		t.Fatalf("queue result = %+v", info.Result)
	}

	waitFor(t, "completion notification", func() bool { return fx.notifier.count() == 1 })
}

func TestPipelineDownloadFailureRetries(t *testing.T) {
	fx := newFixture(t,
		&fakeProvider{resp: helloWorldResponse()},
		&fakeFetcher{err: context.DeadlineExceeded},
		&fakeNotifier{})

	jobID, _ := fx.queue.Enqueue(context.Background(), types.TranscriptionJob{
		TranscriptionID: "t-1",
		UserID:          "user-1",
		AudioReference:  "audio/t-1.mp3",
		AudioFormat:     types.FormatMP3,
		DurationSeconds: 60,
	})

	// Every attempt fails; after MaxAttempts the job is terminal.
	waitFor(t, "attempts exhaustion", func() bool {
		info, err := fx.queue.JobStatus(context.Background(), jobID)
		return err == nil && info.State == types.JobStateFailed && info.AttemptsMade == 3
	})

	statuses := fx.status.statuses()
	if len(statuses) < 2 || statuses[0] != types.StatusProcessing {
		t.Fatalf("status sequence = %v", statuses)
	}
	last := fx.status.last()
	if last.update.Status != types.StatusFailed {
		t.Fatalf("last status = %s, want failed", last.update.Status)
	}
	if last.update.ErrorMessage == nil || *last.update.ErrorMessage == "" {
		t.Fatal("failed status has empty error message")
	}

	// Only the final, non-retried failure notifies the user.
	waitFor(t, "failure notification", func() bool { return fx.notifier.count() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := fx.notifier.count(); n != 1 {
		t.Fatalf("got %d failure notifications, want 1", n)
	}
}

func TestPipelineUnsupportedFormatIsFatal(t *testing.T) {
	fx := newFixture(t,
		&fakeProvider{resp: helloWorldResponse()},
		&fakeFetcher{data: []byte("audio")},
		&fakeNotifier{})

	jobID, _ := fx.queue.Enqueue(context.Background(), types.TranscriptionJob{
		TranscriptionID: "t-1",
		UserID:          "user-1",
		AudioReference:  "audio/t-1.flac",
		AudioFormat:     "flac",
		DurationSeconds: 60,
	})

	waitFor(t, "fatal failure", func() bool {
		info, err := fx.queue.JobStatus(context.Background(), jobID)
		return err == nil && info.State == types.JobStateFailed
	})

	// No retry for validation failures.
	info, _ := fx.queue.JobStatus(context.Background(), jobID)
	if info.AttemptsMade != 1 {
		t.Fatalf("attempts = %d, want 1", info.AttemptsMade)
	}
}

func TestPipelineProviderErrorRetries(t *testing.T) {
	fx := newFixture(t,
		&fakeProvider{err: errors.New("rate limited")},
		&fakeFetcher{data: []byte("audio")},
		&fakeNotifier{})

	jobID, _ := fx.queue.Enqueue(context.Background(), types.TranscriptionJob{
		TranscriptionID: "t-1",
		UserID:          "user-1",
		AudioReference:  "audio/t-1.mp3",
		AudioFormat:     types.FormatMP3,
		DurationSeconds: 60,
	})

	waitFor(t, "first retry", func() bool {
		info, err := fx.queue.JobStatus(context.Background(), jobID)
		return err == nil && info.AttemptsMade >= 1 && info.State != types.JobStateWaiting
	})

	waitFor(t, "attempts exhaustion", func() bool {
		info, err := fx.queue.JobStatus(context.Background(), jobID)
		return err == nil && info.State == types.JobStateFailed && info.AttemptsMade == 3
	})
}

func TestPipelineNotifierPanicKeepsJobCompleted(t *testing.T) {
	fx := newFixture(t,
		&fakeProvider{resp: helloWorldResponse()},
		&fakeFetcher{data: []byte("audio")},
		&fakeNotifier{panics: true})

	jobID, _ := fx.queue.Enqueue(context.Background(), types.TranscriptionJob{
		TranscriptionID: "t-1",
		UserID:          "user-1",
		AudioReference:  "audio/t-1.mp3",
		AudioFormat:     types.FormatMP3,
		DurationSeconds: 60,
	})

	waitFor(t, "completion despite notifier", func() bool {
		info, err := fx.queue.JobStatus(context.Background(), jobID)
		return err == nil && info.State == types.JobStateCompleted
	})

	// The status store must never see the completed job flip to failed.
	time.Sleep(50 * time.Millisecond)
	statuses := fx.status.statuses()
	if statuses[len(statuses)-1] != types.StatusCompleted {
		t.Fatalf("final status = %s, want completed", statuses[len(statuses)-1])
	}
}
