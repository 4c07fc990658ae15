package sqlite

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE automations (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger_type TEXT NOT NULL,
				trigger_conditions TEXT,
				actions TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('active', 'paused', 'disabled')),
				mode TEXT NOT NULL DEFAULT '',
				schedule TEXT,
				next_run TIMESTAMP,
				last_run_at TIMESTAMP,
				running_until TIMESTAMP,
				run_count INTEGER NOT NULL DEFAULT 0,
				created_by TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_automations_trigger_status ON automations(trigger_type, status);
			CREATE INDEX idx_automations_next_run ON automations(next_run);

			CREATE TABLE automation_logs (
				id TEXT PRIMARY KEY,
				automation_id TEXT,
				automation_name TEXT NOT NULL,
				trigger_type TEXT NOT NULL,
				member_id TEXT,
				success BOOLEAN NOT NULL,
				suspended BOOLEAN NOT NULL DEFAULT 0,
				error TEXT,
				actions_executed INTEGER NOT NULL DEFAULT 0,
				outcomes TEXT,
				continuation_of TEXT,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_automation_logs_automation ON automation_logs(automation_id, created_at);
			CREATE INDEX idx_automation_logs_member ON automation_logs(member_id);

			CREATE TABLE onboarding_progress (
				id TEXT PRIMARY KEY,
				member_id TEXT NOT NULL,
				status TEXT NOT NULL,
				steps TEXT NOT NULL,
				started_at TIMESTAMP NOT NULL,
				completed_at TIMESTAMP,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_onboarding_progress_member ON onboarding_progress(member_id, started_at);
			CREATE UNIQUE INDEX idx_onboarding_progress_active
				ON onboarding_progress(member_id) WHERE status = 'in_progress';
		`,
	}
}
