package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Executions: the JSONB document is authoritative; the other columns index it.
			CREATE TABLE executions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_name VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL CHECK (status IN ('running', 'succeeded', 'failed', 'timed_out')),
				version BIGINT NOT NULL,
				wake_at BIGINT,
				deadline BIGINT NOT NULL,
				started_at BIGINT NOT NULL,
				data JSONB NOT NULL
			);

			CREATE INDEX idx_executions_workflow_name ON executions(workflow_name);
			CREATE INDEX idx_executions_status_wake_at ON executions(status, wake_at);
			CREATE INDEX idx_executions_status_deadline ON executions(status, deadline);

			CREATE TABLE callback_tickets (
				token VARCHAR(64) PRIMARY KEY,
				execution_id VARCHAR(64) NOT NULL,
				state VARCHAR(255) NOT NULL,
				issued_at BIGINT NOT NULL,
				resolved_at BIGINT
			);

			CREATE INDEX idx_callback_tickets_execution_id ON callback_tickets(execution_id);
		`,
	}
}
