// Package api exposes the pipeline's operational HTTP surface: job
// submission, queue stats, pause/resume, job inspection and cancellation,
// plus a websocket stream of job lifecycle events.
package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/JoaoMarcos160/vet-transcription-platform/internal/events"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/queue"
	"github.com/JoaoMarcos160/vet-transcription-platform/internal/types"
)

// Server wires the queue and event bus into a fiber app.
type Server struct {
	app    *fiber.App
	queue  queue.Queue
	bus    *events.Bus
	logger zerolog.Logger
}

// New builds the HTTP server and registers all routes.
func New(q queue.Queue, bus *events.Bus, logger zerolog.Logger) *Server {
	s := &Server{
		app:    fiber.New(fiber.Config{DisableStartupMessage: true}),
		queue:  q,
		bus:    bus,
		logger: logger.With().Str("component", "api").Logger(),
	}

	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))
	s.app.Use(s.requestLogger)

	s.app.Get("/health", s.handleHealth)
	s.app.Post("/jobs", s.handleEnqueue)
	s.app.Get("/jobs/:id", s.handleJobStatus)
	s.app.Delete("/jobs/:id", s.handleRemoveJob)
	s.app.Get("/queue/stats", s.handleStats)
	s.app.Post("/queue/pause", s.handlePause)
	s.app.Post("/queue/resume", s.handleResume)
	s.app.Get("/ws/events", websocket.New(s.handleEventStream))

	return s
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	err := c.Next()
	s.logger.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Msg("request")
	return err
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"paused": s.queue.Paused(),
	})
}

// enqueueRequest is the producer-facing job submission body.
type enqueueRequest struct {
	TranscriptionID string  `json:"transcription_id"`
	UserID          string  `json:"user_id"`
	AudioReference  string  `json:"audio_reference"`
	AudioFormat     string  `json:"audio_format"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (s *Server) handleEnqueue(c *fiber.Ctx) error {
	var req enqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_BAD_BODY",
		})
	}

	if req.TranscriptionID == "" || req.UserID == "" || req.AudioReference == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "transcription_id, user_id and audio_reference are required",
			"code":  "ERR_MISSING_FIELDS",
		})
	}
	if !types.ValidateAudioFormat(req.AudioFormat) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported audio format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}
	if req.DurationSeconds < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "duration_seconds must be >= 0",
			"code":  "ERR_INVALID_DURATION",
		})
	}

	jobID, err := s.queue.Enqueue(c.Context(), types.TranscriptionJob{
		TranscriptionID: req.TranscriptionID,
		UserID:          req.UserID,
		AudioReference:  req.AudioReference,
		AudioFormat:     req.AudioFormat,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("enqueue failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to enqueue job",
			"code":  "ERR_ENQUEUE_FAILED",
		})
	}

	s.bus.Publish(events.Event{
		JobID:           jobID,
		TranscriptionID: req.TranscriptionID,
		Type:            events.TypeEnqueued,
	})

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": jobID,
		"status": types.JobStateWaiting,
	})
}

func (s *Server) handleJobStatus(c *fiber.Ctx) error {
	info, err := s.queue.JobStatus(c.Context(), c.Params("id"))
	if errors.Is(err, queue.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
			"code":  "ERR_JOB_NOT_FOUND",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load job status",
			"code":  "ERR_STATUS_FAILED",
		})
	}
	return c.JSON(info)
}

func (s *Server) handleRemoveJob(c *fiber.Ctx) error {
	err := s.queue.Remove(c.Context(), c.Params("id"))
	if errors.Is(err, queue.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found or already finished",
			"code":  "ERR_JOB_NOT_FOUND",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to remove job",
			"code":  "ERR_REMOVE_FAILED",
		})
	}
	return c.JSON(fiber.Map{"removed": true})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.queue.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load queue stats",
			"code":  "ERR_STATS_FAILED",
		})
	}
	return c.JSON(stats)
}

func (s *Server) handlePause(c *fiber.Ctx) error {
	s.queue.Pause()
	s.logger.Info().Msg("queue paused")
	return c.JSON(fiber.Map{"paused": true})
}

func (s *Server) handleResume(c *fiber.Ctx) error {
	s.queue.Resume()
	s.logger.Info().Msg("queue resumed")
	return c.JSON(fiber.Map{"paused": false})
}

// handleEventStream replays buffered events past ?since= and then follows
// the live feed until the client disconnects.
func (s *Server) handleEventStream(c *websocket.Conn) {
	// An unparseable cursor just replays the full buffer.
	since, _ := strconv.ParseInt(c.Query("since"), 10, 64)

	for _, event := range s.bus.Since(since) {
		if err := c.WriteJSON(event); err != nil {
			return
		}
	}

	ch, cancel := s.bus.Subscribe()
	defer cancel()

	// Reads only serve to detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
