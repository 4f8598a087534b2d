package sqlite

// Timestamps use the TIMESTAMP declared type so the driver hands them back as time.Time.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL CHECK (status IN ('draft', 'active', 'inactive')),
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE TABLE workflow_steps (
				workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				step_order INTEGER NOT NULL CHECK (step_order > 0),
				id TEXT NOT NULL,
				kind TEXT NOT NULL CHECK (kind IN ('email', 'condition', 'action', 'delay')),
				delay_value INTEGER NOT NULL DEFAULT 0,
				delay_unit TEXT NOT NULL DEFAULT '',
				config TEXT NOT NULL DEFAULT '{}',
				PRIMARY KEY (workflow_id, step_order)
			);

			CREATE TABLE subscribers (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL DEFAULT '',
				first_name TEXT NOT NULL DEFAULT '',
				last_name TEXT NOT NULL DEFAULT '',
				subscribed BOOLEAN NOT NULL DEFAULT 1,
				lead_score INTEGER NOT NULL DEFAULT 0,
				engagement_level TEXT NOT NULL DEFAULT '',
				total_opens INTEGER NOT NULL DEFAULT 0,
				total_clicks INTEGER NOT NULL DEFAULT 0,
				total_purchases INTEGER NOT NULL DEFAULT 0,
				total_spent REAL NOT NULL DEFAULT 0,
				attributes TEXT,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE TABLE subscriber_tags (
				subscriber_id TEXT NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE,
				tag TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				PRIMARY KEY (subscriber_id, tag)
			);
		`,
		2: `
			CREATE TABLE executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				subscriber_id TEXT NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE,
				current_step INTEGER NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('active', 'paused', 'completed', 'cancelled', 'failed')),
				next_step_at TIMESTAMP NOT NULL,
				started_at TIMESTAMP NOT NULL,
				completed_at TIMESTAMP,
				metadata TEXT,
				version INTEGER NOT NULL DEFAULT 1,
				claimed_until TIMESTAMP,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMP NOT NULL,
				UNIQUE (workflow_id, subscriber_id)
			);

			CREATE INDEX idx_executions_due ON executions(status, next_step_at);

			CREATE TABLE step_logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				step_id TEXT,
				step_order INTEGER,
				status TEXT NOT NULL CHECK (status IN ('sent', 'failed')),
				error_message TEXT,
				created_at TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_step_logs_execution ON step_logs(execution_id);
		`,
	}
}
