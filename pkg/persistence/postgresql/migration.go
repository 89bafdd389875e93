package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Journeys: stable identity and the published version pointer
			CREATE TABLE journeys (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'published', 'archived')),
				current_published_version INTEGER NOT NULL DEFAULT 0 CHECK (current_published_version >= 0),
				inconsistent BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_journeys_status ON journeys(status);

			-- At most one open draft per journey
			CREATE TABLE journey_drafts (
				draft_id UUID PRIMARY KEY,
				journey_id VARCHAR(255) NOT NULL UNIQUE REFERENCES journeys(id) ON DELETE CASCADE,
				definition JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_by VARCHAR(255) NOT NULL
			);

			-- Immutable published snapshots, gap-free per journey
			CREATE TABLE journey_versions (
				journey_id VARCHAR(255) NOT NULL REFERENCES journeys(id) ON DELETE CASCADE,
				version INTEGER NOT NULL CHECK (version > 0),
				definition JSONB NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_by VARCHAR(255) NOT NULL,
				release_notes TEXT NOT NULL DEFAULT '',
				CONSTRAINT journey_versions_journey_version_key UNIQUE (journey_id, version)
			);

			-- Append-only audit log
			CREATE TABLE journey_audit_log (
				id UUID PRIMARY KEY,
				journey_id VARCHAR(255) NOT NULL REFERENCES journeys(id) ON DELETE CASCADE,
				draft_id UUID,
				action VARCHAR(50) NOT NULL CHECK (action IN ('create', 'edit', 'validate', 'publish', 'rollback', 'status', 'reconcile')),
				details JSONB NOT NULL DEFAULT '{}',
				created_by VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_journey_audit_log_journey_created ON journey_audit_log(journey_id, created_at DESC, id DESC);

			-- Runs bind either to a published version or, for previews, to the draft
			CREATE TABLE journey_runs (
				id UUID PRIMARY KEY,
				journey_id VARCHAR(255) NOT NULL REFERENCES journeys(id) ON DELETE CASCADE,
				version INTEGER,
				draft_id UUID,
				participant_id VARCHAR(255) NOT NULL,
				current_step_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'completed', 'failed', 'abandoned')),
				context JSONB NOT NULL DEFAULT '{}',
				participant JSONB NOT NULL DEFAULT '{}',
				failure_reason TEXT NOT NULL DEFAULT '',
				step_count INTEGER NOT NULL DEFAULT 0,
				event_count INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				FOREIGN KEY (journey_id, version) REFERENCES journey_versions(journey_id, version),
				CHECK ((version IS NULL) <> (draft_id IS NULL))
			);

			CREATE INDEX idx_journey_runs_journey ON journey_runs(journey_id);
			CREATE INDEX idx_journey_runs_participant ON journey_runs(participant_id);
			CREATE INDEX idx_journey_runs_status_updated ON journey_runs(status, updated_at);

			CREATE TABLE journey_step_results (
				run_id UUID NOT NULL REFERENCES journey_runs(id) ON DELETE CASCADE,
				step_index INTEGER NOT NULL CHECK (step_index >= 0),
				step_id VARCHAR(255) NOT NULL,
				input JSONB NOT NULL DEFAULT '{}',
				output JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(50) NOT NULL CHECK (status IN ('completed', 'failed')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT journey_step_results_run_index_key UNIQUE (run_id, step_index)
			);

			CREATE TABLE journey_events (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES journey_runs(id) ON DELETE CASCADE,
				journey_id VARCHAR(255) NOT NULL,
				seq INTEGER NOT NULL CHECK (seq >= 0),
				step_id VARCHAR(255) NOT NULL DEFAULT '',
				type VARCHAR(255) NOT NULL,
				payload JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT journey_events_run_seq_key UNIQUE (run_id, seq)
			);

			CREATE INDEX idx_journey_events_journey_created ON journey_events(journey_id, created_at);
			CREATE INDEX idx_journey_events_created ON journey_events(created_at);
		`,
	}
}
