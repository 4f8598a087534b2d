package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'inactive')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE workflow_steps (
				workflow_id VARCHAR(64) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				step_order INTEGER NOT NULL CHECK (step_order > 0),
				id VARCHAR(64) NOT NULL,
				kind VARCHAR(50) NOT NULL CHECK (kind IN ('email', 'condition', 'action', 'delay')),
				delay_value INTEGER NOT NULL DEFAULT 0,
				delay_unit VARCHAR(20) NOT NULL DEFAULT '',
				config JSONB NOT NULL DEFAULT '{}',
				PRIMARY KEY (workflow_id, step_order)
			);

			CREATE TABLE subscribers (
				id VARCHAR(64) PRIMARY KEY,
				email VARCHAR(320) NOT NULL UNIQUE,
				name VARCHAR(255) NOT NULL DEFAULT '',
				first_name VARCHAR(255) NOT NULL DEFAULT '',
				last_name VARCHAR(255) NOT NULL DEFAULT '',
				subscribed BOOLEAN NOT NULL DEFAULT TRUE,
				lead_score INTEGER NOT NULL DEFAULT 0,
				engagement_level VARCHAR(50) NOT NULL DEFAULT '',
				total_opens INTEGER NOT NULL DEFAULT 0,
				total_clicks INTEGER NOT NULL DEFAULT 0,
				total_purchases INTEGER NOT NULL DEFAULT 0,
				total_spent DOUBLE PRECISION NOT NULL DEFAULT 0,
				attributes JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE subscriber_tags (
				subscriber_id VARCHAR(64) NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE,
				tag VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (subscriber_id, tag)
			);
		`,
		2: `
			CREATE TABLE executions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				subscriber_id VARCHAR(64) NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE,
				current_step INTEGER NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'paused', 'completed', 'cancelled', 'failed')),
				next_step_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				metadata JSONB,
				version BIGINT NOT NULL DEFAULT 1,
				claimed_until TIMESTAMP WITH TIME ZONE,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (workflow_id, subscriber_id)
			);

			CREATE INDEX idx_executions_due ON executions(status, next_step_at);

			CREATE TABLE step_logs (
				id BIGSERIAL PRIMARY KEY,
				execution_id VARCHAR(64) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				step_id VARCHAR(64),
				step_order INTEGER,
				status VARCHAR(20) NOT NULL CHECK (status IN ('sent', 'failed')),
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_step_logs_execution ON step_logs(execution_id);
		`,
	}
}
