package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/scoring"
)

func TestSessionSweeperSweep(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	ctx := context.Background()
	started := f.start(t)
	sweeper := NewSessionSweeper(f.sessions, f.invitations, 0, testLogger())
	require.Equal(t, time.Minute, sweeper.interval)

	sweeper.Sweep(ctx)
	session, err := f.repos.sessions.GetByID(ctx, started.Session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, session.Status)

	f.advanceClock(time.Hour)
	sweeper.Sweep(ctx)

	session, err = f.repos.sessions.GetByID(ctx, started.Session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusExpired, session.Status)

	submission, err := f.repos.submissions.GetByID(ctx, started.Submission.ID)
	require.NoError(t, err)
	require.True(t, submission.IsCompleted())
	require.Contains(t, eventTypes(f.events()), EventSessionExpired)
}

func TestSessionSweeperRunStopsOnCancel(t *testing.T) {
	f := newAssessmentFixture(t, scoring.AggregateLatest)
	started := f.start(t)
	f.advanceClock(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewSessionSweeper(f.sessions, nil, 20*time.Millisecond, testLogger()).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		submission, err := f.repos.submissions.GetByID(context.Background(), started.Submission.ID)
		return err == nil && submission.IsCompleted()
	}, 3*time.Second, 25*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
