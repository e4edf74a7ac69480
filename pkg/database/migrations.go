package database

import "fmt"

// Timestamps are stored as RFC 3339 text so both drivers scan them the same way.
const createPeerSessionsTable = `
CREATE TABLE IF NOT EXISTS peer_sessions (
    id VARCHAR(36) PRIMARY KEY,
    org_id VARCHAR(64) NOT NULL,
    created_by VARCHAR(128) NOT NULL,
    title VARCHAR(255) NOT NULL,
    participant_name VARCHAR(255) NOT NULL DEFAULT '',
    status VARCHAR(32) NOT NULL DEFAULT 'created',
    recording_key VARCHAR(512) NOT NULL DEFAULT '',
    audio_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
    transcript TEXT NOT NULL DEFAULT '',
    formatted_transcript TEXT NOT NULL DEFAULT '',
    utterances %[1]s,
    diarization %[1]s,
    suggested_roles %[1]s,
    confirmed_roles %[1]s,
    roles_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
    created_at VARCHAR(40) NOT NULL,
    updated_at VARCHAR(40) NOT NULL
)`

const createRecoveryGoalsTable = `
CREATE TABLE IF NOT EXISTS recovery_goals (
    id VARCHAR(36) PRIMARY KEY,
    org_id VARCHAR(64) NOT NULL,
    created_by VARCHAR(128) NOT NULL,
    session_id VARCHAR(36) NOT NULL DEFAULT '',
    title VARCHAR(255) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category VARCHAR(64) NOT NULL DEFAULT '',
    plan %[1]s,
    milestones %[1]s,
    progress INTEGER NOT NULL DEFAULT 0,
    created_at VARCHAR(40) NOT NULL,
    updated_at VARCHAR(40) NOT NULL
)`

var createIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_peer_sessions_org ON peer_sessions (org_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_recovery_goals_org ON recovery_goals (org_id, created_at)`,
}

// migrationsFor returns the schema for a driver. Postgres stores documents as
// JSONB, SQLite as plain text.
func migrationsFor(driver string) []string {
	jsonType := "TEXT"
	if driver == DriverPostgres {
		jsonType = "JSONB"
	}

	migrations := []string{
		fmt.Sprintf(createPeerSessionsTable, jsonType),
		fmt.Sprintf(createRecoveryGoalsTable, jsonType),
	}
	return append(migrations, createIndexes...)
}
