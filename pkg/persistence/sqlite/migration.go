package sqlite

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE executions (
				id TEXT PRIMARY KEY,
				workflow_name TEXT NOT NULL,
				status TEXT NOT NULL,
				version INTEGER NOT NULL,
				wake_at INTEGER,
				deadline INTEGER NOT NULL,
				started_at INTEGER NOT NULL,
				data TEXT NOT NULL
			);

			CREATE INDEX idx_executions_workflow_name ON executions(workflow_name);
			CREATE INDEX idx_executions_status_wake_at ON executions(status, wake_at);
			CREATE INDEX idx_executions_status_deadline ON executions(status, deadline);

			CREATE TABLE callback_tickets (
				token TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL,
				state TEXT NOT NULL,
				issued_at INTEGER NOT NULL,
				resolved_at INTEGER
			);

			CREATE INDEX idx_callback_tickets_execution_id ON callback_tickets(execution_id);
		`,
	}
}
