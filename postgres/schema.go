package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS flows (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL DEFAULT '',
    draft             JSONB NOT NULL DEFAULT '{}',
    active_version_id TEXT NOT NULL DEFAULT '',
    last_version      INTEGER NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS flow_versions (
    id         TEXT PRIMARY KEY,
    flow_id    TEXT NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
    version    INTEGER NOT NULL,
    graph      JSONB NOT NULL,
    checksum   TEXT NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    changelog  TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (flow_id, version)
);

CREATE TABLE IF NOT EXISTS flow_sessions (
    id           TEXT PRIMARY KEY,
    flow_id      TEXT NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
    version_id   TEXT NOT NULL REFERENCES flow_versions(id),
    revision     INTEGER NOT NULL DEFAULT 0,
    data         JSONB NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_flow_versions_flow_id ON flow_versions(flow_id);
CREATE INDEX IF NOT EXISTS idx_flow_sessions_flow_id ON flow_sessions(flow_id);
`

// CreateSchema creates the flows, flow_versions and flow_sessions tables if
// they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops all flow tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS flow_sessions, flow_versions, flows CASCADE;`)
	return err
}
