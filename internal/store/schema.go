package store

const schema = `
CREATE TABLE IF NOT EXISTS snapshot_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot TEXT NOT NULL,
    action TEXT NOT NULL,
    detail TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS restore_runs (
    id TEXT PRIMARY KEY,
    snapshot TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    windows INTEGER NOT NULL,
    tabs INTEGER NOT NULL,
    restored INTEGER NOT NULL,
    degraded INTEGER NOT NULL,
    failed INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS restore_issues (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    kind TEXT NOT NULL,
    message TEXT NOT NULL,
    PRIMARY KEY (run_id, seq),
    FOREIGN KEY (run_id) REFERENCES restore_runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_snapshot ON snapshot_events(snapshot);
CREATE INDEX IF NOT EXISTS idx_runs_snapshot ON restore_runs(snapshot);
CREATE INDEX IF NOT EXISTS idx_runs_started ON restore_runs(started_at);
`
