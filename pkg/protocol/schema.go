package protocol

// SchemaDDL defines the SQLite schema of the history database.
// Tables: jobs, job_logs, events.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Terminal jobs, one row per job id
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    opponent TEXT NOT NULL DEFAULT '',
    fen TEXT NOT NULL DEFAULT '',
    limit_type INTEGER NOT NULL DEFAULT 0,
    limit_value INTEGER NOT NULL DEFAULT 0,
    multipv INTEGER NOT NULL DEFAULT 1,
    server_id TEXT NOT NULL DEFAULT '',
    preferred_server TEXT NOT NULL DEFAULT '',
    status INTEGER NOT NULL,
    created_at INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL DEFAULT 0,
    finished_at INTEGER NOT NULL DEFAULT 0,
    last_update INTEGER NOT NULL DEFAULT 0,
    result_json TEXT NOT NULL DEFAULT '{}'
);

-- Log lines of persisted jobs, in insertion order
CREATE TABLE IF NOT EXISTS job_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    ts INTEGER NOT NULL,
    line TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id);

-- Lifecycle event log: job and server transitions
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    job_id TEXT NOT NULL DEFAULT '',
    server_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_job ON events(job_id);
`
