package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pss-server/pkg/diarization"
	"pss-server/pkg/errors"
	"pss-server/pkg/metrics"
	"pss-server/pkg/milestones"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Repository provides tenant-scoped persistence for sessions and goals. Every
// query filters on org_id; a row owned by another tenant is reported as not
// found.
type Repository struct {
	db     *DB
	logger *logrus.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *logrus.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const sessionColumns = `id, org_id, created_by, title, participant_name, status, recording_key,
	audio_duration, transcript, formatted_transcript, utterances, diarization,
	suggested_roles, confirmed_roles, roles_confirmed, created_at, updated_at`

const goalColumns = `id, org_id, created_by, session_id, title, description, category,
	plan, milestones, progress, created_at, updated_at`

// Session operations

// CreateSession inserts a new session, assigning its id and timestamps
func (r *Repository) CreateSession(ctx context.Context, session *PeerSession) error {
	defer metrics.ObserveDBQuery("create_session")()
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	session.ID = uuid.New().String()
	session.Status = SessionStatusCreated
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := r.db.exec(ctx, `
		INSERT INTO peer_sessions (
			id, org_id, created_by, title, participant_name, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.OrgID, session.CreatedBy, session.Title,
		session.ParticipantName, session.Status, formatTime(now), formatTime(now),
	)
	if err != nil {
		r.logger.WithError(err).Error("Failed to create session")
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"org_id":     session.OrgID,
	}).Info("Session created")

	return nil
}

// GetSession retrieves a session of the given tenant
func (r *Repository) GetSession(ctx context.Context, orgID, id string) (*PeerSession, error) {
	defer metrics.ObserveDBQuery("get_session")()
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	row := r.db.queryRow(ctx, `SELECT `+sessionColumns+` FROM peer_sessions WHERE org_id = ? AND id = ?`, orgID, id)
	session, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewSessionNotFound(id)
		}
		r.logger.WithError(err).WithField("session_id", id).Error("Failed to get session")
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// ListSessions returns the tenant's sessions, newest first
func (r *Repository) ListSessions(ctx context.Context, orgID string, opts ListOptions) ([]*PeerSession, error) {
	defer metrics.ObserveDBQuery("list_sessions")()
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	opts = opts.normalized()
	rows, err := r.db.query(ctx,
		`SELECT `+sessionColumns+` FROM peer_sessions WHERE org_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		orgID, opts.Limit, opts.Offset,
	)
	if err != nil {
		r.logger.WithError(err).Error("Failed to list sessions")
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*PeerSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, nil
}

// AttachRecording records where a session's audio was stored
func (r *Repository) AttachRecording(ctx context.Context, orgID, id, recordingKey string) error {
	defer metrics.ObserveDBQuery("attach_recording")()
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	result, err := r.db.exec(ctx, `
		UPDATE peer_sessions SET recording_key = ?, status = ?, updated_at = ?
		WHERE org_id = ? AND id = ?`,
		recordingKey, SessionStatusUploaded, formatTime(time.Now().UTC()), orgID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to attach recording: %w", err)
	}
	return requireRow(result, errors.NewSessionNotFound(id))
}

// SaveTranscription stores a diarized transcript. Any previously confirmed
// role mapping is discarded because speaker tags are only meaningful within
// one transcription job.
func (r *Repository) SaveTranscription(ctx context.Context, orgID, id string, t Transcription) error {
	defer metrics.ObserveDBQuery("save_transcription")()

	utterances, err := marshalJSON(t.Utterances)
	if err != nil {
		return err
	}
	diarizationJSON, err := marshalJSON(t.Diarization)
	if err != nil {
		return err
	}
	suggested, err := marshalJSON(t.SuggestedRoles)
	if err != nil {
		return err
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	result, err := r.db.exec(ctx, `
		UPDATE peer_sessions SET
			recording_key = ?, status = ?, audio_duration = ?, transcript = ?,
			formatted_transcript = ?, utterances = ?, diarization = ?,
			suggested_roles = ?, confirmed_roles = NULL, roles_confirmed = ?, updated_at = ?
		WHERE org_id = ? AND id = ?`,
		t.RecordingKey, SessionStatusTranscribed, t.AudioDuration, t.Transcript,
		t.FormattedTranscript, utterances, diarizationJSON,
		suggested, false, formatTime(time.Now().UTC()),
		orgID, id,
	)
	if err != nil {
		r.logger.WithError(err).WithField("session_id", id).Error("Failed to save transcription")
		return fmt.Errorf("failed to save transcription: %w", err)
	}
	return requireRow(result, errors.NewSessionNotFound(id))
}

// ConfirmSpeakerRoles stores the human-confirmed role mapping
func (r *Repository) ConfirmSpeakerRoles(ctx context.Context, orgID, id string, roles diarization.RoleMap) error {
	defer metrics.ObserveDBQuery("confirm_speaker_roles")()

	confirmed, err := marshalJSON(roles)
	if err != nil {
		return err
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	result, err := r.db.exec(ctx, `
		UPDATE peer_sessions SET confirmed_roles = ?, roles_confirmed = ?, status = ?, updated_at = ?
		WHERE org_id = ? AND id = ?`,
		confirmed, true, SessionStatusConfirmed, formatTime(time.Now().UTC()), orgID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to confirm speaker roles: %w", err)
	}
	return requireRow(result, errors.NewSessionNotFound(id))
}

// Goal operations

// CreateGoal inserts a new goal, assigning its id and timestamps
func (r *Repository) CreateGoal(ctx context.Context, goal *RecoveryGoal) error {
	defer metrics.ObserveDBQuery("create_goal")()

	if goal.Milestones == nil {
		goal.Milestones = []milestones.Milestone{}
	}
	plan, err := marshalJSON(goal.Plan)
	if err != nil {
		return err
	}
	ms, err := marshalJSON(goal.Milestones)
	if err != nil {
		return err
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	goal.ID = uuid.New().String()
	goal.CreatedAt = now
	goal.UpdatedAt = now
	goal.Progress = milestones.CalculateProgress(goal.Milestones)

	_, err = r.db.exec(ctx, `
		INSERT INTO recovery_goals (
			id, org_id, created_by, session_id, title, description, category,
			plan, milestones, progress, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		goal.ID, goal.OrgID, goal.CreatedBy, goal.SessionID, goal.Title, goal.Description,
		goal.Category, plan, ms, goal.Progress, formatTime(now), formatTime(now),
	)
	if err != nil {
		r.logger.WithError(err).Error("Failed to create goal")
		return fmt.Errorf("failed to create goal: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"goal_id": goal.ID,
		"org_id":  goal.OrgID,
	}).Info("Goal created")

	return nil
}

// GetGoal retrieves a goal of the given tenant
func (r *Repository) GetGoal(ctx context.Context, orgID, id string) (*RecoveryGoal, error) {
	defer metrics.ObserveDBQuery("get_goal")()
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	row := r.db.queryRow(ctx, `SELECT `+goalColumns+` FROM recovery_goals WHERE org_id = ? AND id = ?`, orgID, id)
	goal, err := scanGoal(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewGoalNotFound(id)
		}
		r.logger.WithError(err).WithField("goal_id", id).Error("Failed to get goal")
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}

	return goal, nil
}

// ListGoals returns the tenant's goals, newest first
func (r *Repository) ListGoals(ctx context.Context, orgID string, opts ListOptions) ([]*RecoveryGoal, error) {
	defer metrics.ObserveDBQuery("list_goals")()
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	opts = opts.normalized()
	rows, err := r.db.query(ctx,
		`SELECT `+goalColumns+` FROM recovery_goals WHERE org_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		orgID, opts.Limit, opts.Offset,
	)
	if err != nil {
		r.logger.WithError(err).Error("Failed to list goals")
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()

	goals := []*RecoveryGoal{}
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal row: %w", err)
		}
		goals = append(goals, goal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}

	return goals, nil
}

// SavePlan replaces a goal's plan together with the milestones derived from it
func (r *Repository) SavePlan(ctx context.Context, orgID, id string, plan *milestones.PhasedPlan, ms []milestones.Milestone) error {
	defer metrics.ObserveDBQuery("save_plan")()

	planJSON, err := marshalJSON(plan)
	if err != nil {
		return err
	}
	msJSON, err := marshalJSON(nonNilMilestones(ms))
	if err != nil {
		return err
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	result, err := r.db.exec(ctx, `
		UPDATE recovery_goals SET plan = ?, milestones = ?, progress = ?, updated_at = ?
		WHERE org_id = ? AND id = ?`,
		planJSON, msJSON, milestones.CalculateProgress(ms), formatTime(time.Now().UTC()), orgID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return requireRow(result, errors.NewGoalNotFound(id))
}

// SaveMilestones replaces a goal's milestones and recomputes its progress
func (r *Repository) SaveMilestones(ctx context.Context, orgID, id string, ms []milestones.Milestone) error {
	defer metrics.ObserveDBQuery("save_milestones")()

	msJSON, err := marshalJSON(nonNilMilestones(ms))
	if err != nil {
		return err
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	result, err := r.db.exec(ctx, `
		UPDATE recovery_goals SET milestones = ?, progress = ?, updated_at = ?
		WHERE org_id = ? AND id = ?`,
		msJSON, milestones.CalculateProgress(ms), formatTime(time.Now().UTC()), orgID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to save milestones: %w", err)
	}
	return requireRow(result, errors.NewGoalNotFound(id))
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*PeerSession, error) {
	var (
		session              PeerSession
		utterances, dj       []byte
		suggested, confirmed []byte
		createdAt, updatedAt string
	)

	err := row.Scan(
		&session.ID, &session.OrgID, &session.CreatedBy, &session.Title, &session.ParticipantName,
		&session.Status, &session.RecordingKey, &session.AudioDuration, &session.Transcript,
		&session.FormattedTranscript, &utterances, &dj, &suggested, &confirmed,
		&session.RolesConfirmed, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(utterances, &session.Utterances); err != nil {
		return nil, err
	}
	if len(dj) > 0 {
		session.Diarization = &diarization.Result{}
		if err := unmarshalJSON(dj, session.Diarization); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON(suggested, &session.SuggestedRoles); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(confirmed, &session.ConfirmedRoles); err != nil {
		return nil, err
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &session, nil
}

func scanGoal(row scanner) (*RecoveryGoal, error) {
	var (
		goal                 RecoveryGoal
		plan, ms             []byte
		createdAt, updatedAt string
	)

	err := row.Scan(
		&goal.ID, &goal.OrgID, &goal.CreatedBy, &goal.SessionID, &goal.Title, &goal.Description,
		&goal.Category, &plan, &ms, &goal.Progress, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(plan) > 0 && string(plan) != "null" {
		goal.Plan = &milestones.PhasedPlan{}
		if err := unmarshalJSON(plan, goal.Plan); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON(ms, &goal.Milestones); err != nil {
		return nil, err
	}
	goal.Milestones = nonNilMilestones(goal.Milestones)
	if goal.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if goal.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &goal, nil
}

// marshalJSON encodes a document column. Nil documents are stored as NULL.
func marshalJSON(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	if string(data) == "null" {
		return nil, nil
	}
	return string(data), nil
}

func unmarshalJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

func nonNilMilestones(ms []milestones.Milestone) []milestones.Milestone {
	if ms == nil {
		return []milestones.Milestone{}
	}
	return ms
}

func requireRow(result interface{ RowsAffected() (int64, error) }, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t, nil
}
