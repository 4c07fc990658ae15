package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE automations (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger_type VARCHAR(50) NOT NULL,
				trigger_conditions JSONB,
				actions JSONB NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('active', 'paused', 'disabled')),
				mode VARCHAR(30) NOT NULL DEFAULT '',
				schedule JSONB,
				next_run TIMESTAMP WITH TIME ZONE,
				last_run_at TIMESTAMP WITH TIME ZONE,
				running_until TIMESTAMP WITH TIME ZONE,
				run_count BIGINT NOT NULL DEFAULT 0,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automations_trigger_status ON automations(trigger_type, status);
			CREATE INDEX idx_automations_next_run ON automations(next_run) WHERE trigger_type = 'scheduled';

			CREATE TABLE automation_logs (
				id VARCHAR(64) PRIMARY KEY,
				automation_id VARCHAR(64),
				automation_name VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				member_id VARCHAR(255),
				success BOOLEAN NOT NULL,
				suspended BOOLEAN NOT NULL DEFAULT false,
				error TEXT,
				actions_executed INTEGER NOT NULL DEFAULT 0,
				outcomes JSONB,
				continuation_of VARCHAR(64),
				duration_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automation_logs_automation ON automation_logs(automation_id, created_at DESC);
			CREATE INDEX idx_automation_logs_member ON automation_logs(member_id);

			CREATE TABLE onboarding_progress (
				id VARCHAR(64) PRIMARY KEY,
				member_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL,
				steps JSONB NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_onboarding_progress_member ON onboarding_progress(member_id, started_at DESC);
			CREATE UNIQUE INDEX idx_onboarding_progress_active
				ON onboarding_progress(member_id) WHERE status = 'in_progress';
		`,
	}
}
