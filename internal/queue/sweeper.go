package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically recovers stalled jobs and prunes terminal jobs past
// their retention window.
type Sweeper struct {
	queue    *SQLiteQueue
	interval time.Duration
	stopChan chan struct{}
	logger   zerolog.Logger
}

// NewSweeper creates a sweeper over the given queue.
func NewSweeper(q *SQLiteQueue, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		queue:    q,
		interval: interval,
		stopChan: make(chan struct{}),
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start runs an initial sweep, then sweeps on every tick until Stop.
func (s *Sweeper) Start() {
	s.sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	s.logger.Info().Dur("interval", s.interval).Msg("stall sweeper started")
}

// Stop stops the sweeper.
func (s *Sweeper) Stop() {
	close(s.stopChan)
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	requeued, failed, err := s.queue.RequeueStalled(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("stall sweep failed")
	} else if requeued > 0 || failed > 0 {
		s.logger.Warn().Int("requeued", requeued).Int("failed", failed).Msg("stalled jobs recovered")
	}

	pruned, err := s.queue.PruneFinished(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("retention prune failed")
	} else if pruned > 0 {
		s.logger.Info().Int("pruned", pruned).Msg("terminal jobs pruned")
	}
}
