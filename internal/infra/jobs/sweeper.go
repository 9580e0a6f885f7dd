package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically removes aged-out terminal jobs from the registry.
type Sweeper struct {
	interval time.Duration
	maxAge   time.Duration
	registry *Registry
	log      *zerolog.Logger
}

func NewSweeper(interval, maxAge time.Duration, registry *Registry, logger *zerolog.Logger) *Sweeper {
	swLog := logger.With().Str("component", "JobSweeper").Logger()
	return &Sweeper{
		interval: interval,
		maxAge:   maxAge,
		registry: registry,
		log:      &swLog,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Dur("max_age", s.maxAge).Msg("starting job sweeper")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("stopping job sweeper")
			return ctx.Err()
		case <-ticker.C:
			s.registry.Sweep(s.maxAge)
		}
	}
}
