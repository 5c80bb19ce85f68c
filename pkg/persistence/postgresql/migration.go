package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Flow definitions: one row per immutable version.
			CREATE TABLE flows (
				id UUID PRIMARY KEY,
				flow_group_id UUID NOT NULL,
				name VARCHAR(255) NOT NULL,
				channel_type VARCHAR(50) NOT NULL CHECK (channel_type IN ('whatsapp', 'sms', 'email')),
				version INT NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'published')),
				steps JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				published_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_flows_group ON flows(flow_group_id);
			CREATE UNIQUE INDEX idx_flows_group_version ON flows(flow_group_id, version) WHERE status = 'published';

			-- Run instances: one per contact traversal of a flow version.
			CREATE TABLE runs (
				id VARCHAR(255) PRIMARY KEY,
				flow_id UUID NOT NULL REFERENCES flows(id),
				flow_group_id UUID NOT NULL,
				contact_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'waiting', 'completed', 'failed', 'cancelled')),
				current_step_id VARCHAR(255) NOT NULL,
				context JSONB NOT NULL DEFAULT '{}',
				history JSONB NOT NULL DEFAULT '[]',
				version BIGINT NOT NULL DEFAULT 1,
				failed_step_id VARCHAR(255),
				error TEXT,
				lease_owner VARCHAR(255),
				lease_until TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				waiting_since TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_runs_status ON runs(status);
			CREATE INDEX idx_runs_contact ON runs(contact_id);

			-- One active run per contact and flow group.
			CREATE UNIQUE INDEX idx_runs_one_active
				ON runs(contact_id, flow_group_id)
				WHERE status IN ('pending', 'running', 'waiting');

			-- Durable one-shot timers.
			CREATE TABLE wakes (
				id UUID PRIMARY KEY,
				run_id VARCHAR(255) NOT NULL REFERENCES runs(id),
				step_id VARCHAR(255) NOT NULL,
				due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				reason VARCHAR(50) NOT NULL CHECK (reason IN ('delay', 'wait_timeout')),
				claimed_by VARCHAR(255),
				claimed_until TIMESTAMP WITH TIME ZONE,
				consumed BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_wakes_due ON wakes(due_at) WHERE NOT consumed;
			CREATE INDEX idx_wakes_run ON wakes(run_id) WHERE NOT consumed;
		`,
	}
}
