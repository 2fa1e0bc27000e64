package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/JoaoMarcos160/vet-transcription-platform/internal/api"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/asr"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/config"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/events"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/logging"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/queue"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/storage"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, "transcription-pipeline")

	if err := os.MkdirAll(filepath.Dir(cfg.Queue.Database), 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create data directory")
	}

	q, err := queue.NewSQLiteQueue(cfg.Queue.Database, queue.Config{
		MaxAttempts:     cfg.Queue.MaxAttempts,
		MaxStalledCount: cfg.Queue.MaxStalledCount,
		BackoffBase:     cfg.BackoffBase(),
		CompletedTTL:    cfg.CompletedTTL(),
		FailedTTL:       cfg.FailedTTL(),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open job queue")
	}
	defer q.Close()

	supabase, err := storage.NewSupabaseClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize supabase client")
	}

	provider, err := asr.NewGoogleProvider(context.Background(), cfg.Speech.CredentialsFile, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize speech client")
	}

	fetcher := storage.NewHTTPAudioFetcher(
		cfg.Supabase.URL+"/storage/v1/object/public",
		cfg.DownloadTimeout(),
		logger,
	)

	bus := events.NewBus(500)

	pool := worker.NewPool(worker.Config{
		Count:           cfg.Workers.Count,
		LockDuration:    cfg.LockDuration(),
		PollInterval:    cfg.PollInterval(),
		DownloadTimeout: cfg.DownloadTimeout(),
		LanguageCode:    cfg.Speech.LanguageCode,
		Diarization:     cfg.Speech.Diarization,
	}, q, provider, supabase, fetcher, supabase, bus, logger)
	pool.Start()
	defer pool.Stop()

	sweeper := queue.NewSweeper(q, cfg.SweepInterval(), logger)
	sweeper.Start()
	defer sweeper.Stop()

	server := api.New(q, bus, logger)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logger.Info().Msg("shutting down gracefully")
		if err := server.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info().Str("addr", addr).Msg("server starting")
	if err := server.Listen(addr); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
