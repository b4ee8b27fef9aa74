package ledger

import (
	"context"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		status_message TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sip_configs (
		client_id TEXT PRIMARY KEY REFERENCES clients(id),
		sip_server TEXT NOT NULL,
		sip_domain TEXT NOT NULL,
		sip_username TEXT NOT NULL,
		sip_password TEXT NOT NULL,
		reg_interval INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ai_configs (
		client_id TEXT PRIMARY KEY REFERENCES clients(id),
		system_prompt TEXT NOT NULL DEFAULT '',
		transcription_model TEXT NOT NULL DEFAULT '',
		llm_model TEXT NOT NULL DEFAULT '',
		voice_id TEXT NOT NULL DEFAULT '',
		greeting_file TEXT NOT NULL DEFAULT '',
		goodbye_file TEXT NOT NULL DEFAULT '',
		max_turns INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS calls (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		call_id TEXT NOT NULL,
		caller_number TEXT NOT NULL,
		called_number TEXT NOT NULL,
		start_time BIGINT NOT NULL,
		end_time BIGINT,
		duration INTEGER,
		status TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS calls_start_time_idx ON calls (start_time)`,
	`CREATE TABLE IF NOT EXISTS call_interactions (
		id TEXT PRIMARY KEY,
		call_id TEXT NOT NULL REFERENCES calls(id),
		seq INTEGER NOT NULL,
		speaker TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS call_interactions_call_idx ON call_interactions (call_id, created_at, seq)`,
	`CREATE TABLE IF NOT EXISTS error_logs (
		id TEXT PRIMARY KEY,
		error_type TEXT NOT NULL,
		details TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		actor_user_id TEXT NOT NULL DEFAULT '',
		actor_role TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		client_id TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL
	)`,
}

// Migrate creates missing tables. It is safe to run on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return dbErr("migrate", err)
		}
	}
	return nil
}
