package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// EscalationSweeper drives EscalationService.HandleEscalations on a fixed
// interval until its context is cancelled.
type EscalationSweeper struct {
	escalations *EscalationService
	interval    time.Duration
	log         zerolog.Logger
}

// NewEscalationSweeper creates a sweeper over the given escalation service.
func NewEscalationSweeper(escalations *EscalationService, interval time.Duration, log zerolog.Logger) *EscalationSweeper {
	return &EscalationSweeper{
		escalations: escalations,
		interval:    interval,
		log:         log,
	}
}

// Run sweeps once immediately, then on every tick. Sweep errors are logged
// and the loop continues; only context cancellation stops it.
func (s *EscalationSweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Escalation sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *EscalationSweeper) sweep(ctx context.Context) {
	count, err := s.escalations.HandleEscalations(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Escalation sweep failed")
		return
	}
	if count > 0 {
		s.log.Info().Int("escalated", count).Msg("Escalation sweep completed")
	}
}
