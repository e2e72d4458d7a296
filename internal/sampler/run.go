package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStop is returned by a RoundFunc to end Run without error.
var ErrStop = errors.New("stop sampling")

// RoundFunc observes each completed round. Returning ErrStop ends the loop
// cleanly; any other error ends it with that error.
type RoundFunc func(ctx context.Context, r Round) error

// Run executes a round immediately and then once per interval until ctx is
// cancelled or fn asks to stop.
//
// Cancellation returns ctx.Err(). A round that fails is returned as an
// error; unavailable sources never fail a round.
func (s *Sampler) Run(ctx context.Context, interval time.Duration, fn RoundFunc) error {
	if interval <= 0 {
		return fmt.Errorf("sampling interval must be positive, got %s", interval)
	}

	s.logger.Info("sampling started", "policy", s.policy, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r, err := s.Round(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("sampling stopped: context cancelled")
				return ctx.Err()
			}
			return err
		}
		if fn != nil {
			if err := fn(ctx, r); err != nil {
				if errors.Is(err, ErrStop) {
					s.logger.Info("sampling stopped")
					return nil
				}
				return err
			}
		}

		select {
		case <-ctx.Done():
			s.logger.Info("sampling stopped: context cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
