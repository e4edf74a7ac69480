package database

import (
	"context"
	"testing"
	"time"

	"pss-server/pkg/config"
	"pss-server/pkg/diarization"
	"pss-server/pkg/errors"
	"pss-server/pkg/milestones"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	db, err := Open(context.Background(), config.DatabaseConfig{
		Driver:       DriverSQLite,
		DSN:          ":memory:",
		QueryTimeout: 5 * time.Second,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	// Running twice must be harmless.
	require.NoError(t, db.Migrate(context.Background()))

	return NewRepository(db, logger)
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &DB{driver: DriverSQLite}
	assert.Equal(t, "WHERE x = ?", lite.rebind("WHERE x = ?"))
}

func TestMigrationsForDriver(t *testing.T) {
	assert.Contains(t, migrationsFor(DriverPostgres)[0], "JSONB")
	assert.NotContains(t, migrationsFor(DriverSQLite)[0], "JSONB")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql"}, logrus.New())
	assert.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	session := &PeerSession{OrgID: "org-1", CreatedBy: "user-1", Title: "Weekly check-in"}
	require.NoError(t, repo.CreateSession(ctx, session))
	require.NotEmpty(t, session.ID)

	got, err := repo.GetSession(ctx, "org-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly check-in", got.Title)
	assert.Equal(t, SessionStatusCreated, got.Status)
	assert.False(t, got.RolesConfirmed)
	assert.Nil(t, got.Diarization)

	require.NoError(t, repo.AttachRecording(ctx, "org-1", session.ID, "orgs/org-1/sessions/x/a.mp3"))

	utterances := []diarization.Utterance{
		{Speaker: "A", Text: "Hi there", Start: 0, End: 2000},
		{Speaker: "B", Text: "Hello how are you doing today", Start: 2000, End: 8000},
	}
	result := diarization.AggregateSpeakerStats(utterances, 8)
	suggested := diarization.SuggestRoles(result)

	require.NoError(t, repo.SaveTranscription(ctx, "org-1", session.ID, Transcription{
		RecordingKey:        "orgs/org-1/sessions/x/a.mp3",
		AudioDuration:       8,
		Transcript:          "Hi there Hello how are you doing today",
		FormattedTranscript: diarization.FormatTranscript(utterances, ""),
		Utterances:          utterances,
		Diarization:         result,
		SuggestedRoles:      suggested,
	}))

	got, err = repo.GetSession(ctx, "org-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionStatusTranscribed, got.Status)
	assert.Equal(t, utterances, got.Utterances)
	require.NotNil(t, got.Diarization)
	assert.Equal(t, result, *got.Diarization)
	assert.Equal(t, suggested, got.SuggestedRoles)
	assert.Nil(t, got.ConfirmedRoles)
	assert.False(t, got.RolesConfirmed)

	confirmed := diarization.RoleMap{
		"A": {Role: diarization.RoleSpecialist, Label: "Sam"},
		"B": {Role: diarization.RoleParticipant, Label: "Jordan"},
	}
	require.NoError(t, repo.ConfirmSpeakerRoles(ctx, "org-1", session.ID, confirmed))

	got, err = repo.GetSession(ctx, "org-1", session.ID)
	require.NoError(t, err)
	assert.True(t, got.RolesConfirmed)
	assert.Equal(t, SessionStatusConfirmed, got.Status)
	assert.Equal(t, confirmed, got.ConfirmedRoles)

	// A new transcription invalidates the confirmation.
	require.NoError(t, repo.SaveTranscription(ctx, "org-1", session.ID, Transcription{Diarization: result, SuggestedRoles: suggested}))
	got, err = repo.GetSession(ctx, "org-1", session.ID)
	require.NoError(t, err)
	assert.False(t, got.RolesConfirmed)
	assert.Nil(t, got.ConfirmedRoles)
}

func TestSessionTenantIsolation(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	session := &PeerSession{OrgID: "org-1", CreatedBy: "user-1", Title: "private"}
	require.NoError(t, repo.CreateSession(ctx, session))

	_, err := repo.GetSession(ctx, "org-2", session.ID)
	assert.True(t, errors.Is(err, errors.ErrSessionNotFound))

	err = repo.ConfirmSpeakerRoles(ctx, "org-2", session.ID, diarization.RoleMap{})
	assert.True(t, errors.Is(err, errors.ErrSessionNotFound))

	sessions, err := repo.ListSessions(ctx, "org-2", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestListSessions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for _, title := range []string{"first", "second", "third"} {
		require.NoError(t, repo.CreateSession(ctx, &PeerSession{OrgID: "org-1", CreatedBy: "u", Title: title}))
	}

	sessions, err := repo.ListSessions(ctx, "org-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "third", sessions[0].Title)

	page, err := repo.ListSessions(ctx, "org-1", ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "second", page[0].Title)
}

func TestGoalLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	goal := &RecoveryGoal{OrgID: "org-1", CreatedBy: "user-1", Title: "Return to work", Category: "employment"}
	require.NoError(t, repo.CreateGoal(ctx, goal))
	require.NotEmpty(t, goal.ID)

	got, err := repo.GetGoal(ctx, "org-1", goal.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Plan)
	assert.NotNil(t, got.Milestones)
	assert.Empty(t, got.Milestones)
	assert.Equal(t, 0, got.Progress)

	plan := &milestones.PhasedPlan{
		Preparation: &milestones.PlanPhase{Title: "Get ready", Actions: []string{"Update resume", "List references"}},
		Action:      &milestones.PlanPhase{Title: "Apply", Actions: []string{"Apply to three jobs"}},
	}
	ms := milestones.GenerateFromPlan(plan)
	require.NoError(t, repo.SavePlan(ctx, "org-1", goal.ID, plan, ms))

	got, err = repo.GetGoal(ctx, "org-1", goal.ID)
	require.NoError(t, err)
	assert.Equal(t, plan, got.Plan)
	assert.Equal(t, ms, got.Milestones)

	toggled := milestones.ToggleAt(ms, ms[0].ID, "user-1", time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC))
	require.NoError(t, repo.SaveMilestones(ctx, "org-1", goal.ID, toggled))

	got, err = repo.GetGoal(ctx, "org-1", goal.ID)
	require.NoError(t, err)
	assert.Equal(t, 33, got.Progress)
	require.NotNil(t, got.Milestones[0].CompletedAt)
	assert.True(t, got.Milestones[0].CompletedAt.Equal(time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)))
	require.NotNil(t, got.Milestones[0].CompletedBy)
	assert.Equal(t, "user-1", *got.Milestones[0].CompletedBy)
}

func TestGoalTenantIsolation(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	goal := &RecoveryGoal{OrgID: "org-1", CreatedBy: "user-1", Title: "Housing"}
	require.NoError(t, repo.CreateGoal(ctx, goal))

	_, err := repo.GetGoal(ctx, "org-2", goal.ID)
	assert.True(t, errors.Is(err, errors.ErrGoalNotFound))

	err = repo.SaveMilestones(ctx, "org-2", goal.ID, nil)
	assert.True(t, errors.Is(err, errors.ErrGoalNotFound))

	goals, err := repo.ListGoals(ctx, "org-1", ListOptions{})
	require.NoError(t, err)
	assert.Len(t, goals, 1)
}

func TestListOptionsNormalized(t *testing.T) {
	assert.Equal(t, ListOptions{Limit: DefaultListLimit}, ListOptions{}.normalized())
	assert.Equal(t, ListOptions{Limit: MaxListLimit, Offset: 0}, ListOptions{Limit: 10_000, Offset: -3}.normalized())
}
