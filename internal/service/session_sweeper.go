package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SessionSweeper periodically expires overdue sessions and invitations.
type SessionSweeper struct {
	sessions    SessionService
	invitations InvitationService
	interval    time.Duration
	logger      zerolog.Logger
}

// NewSessionSweeper constructs a sweeper. A non-positive interval defaults
// to one minute.
func NewSessionSweeper(sessions SessionService, invitations InvitationService, interval time.Duration, logger zerolog.Logger) *SessionSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionSweeper{
		sessions:    sessions,
		invitations: invitations,
		interval:    interval,
		logger:      logger.With().Str("component", "session_sweeper").Logger(),
	}
}

// Run sweeps until ctx is cancelled.
func (s *SessionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("session sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("session sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass.
func (s *SessionSweeper) Sweep(ctx context.Context) {
	sessions, err := s.sessions.ExpireOverdue(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to expire sessions")
	}

	var invitations int64
	if s.invitations != nil {
		invitations, err = s.invitations.ExpireOverdue(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to expire invitations")
		}
	}

	if sessions > 0 || invitations > 0 {
		s.logger.Info().Int("sessions", sessions).Int64("invitations", invitations).Msg("expired overdue records")
	}
}
