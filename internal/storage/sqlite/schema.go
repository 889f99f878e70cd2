package sqlite

// Schema defines the sqlite tables for budget counters and the durable
// response cache. Counter tables are keyed so that every write is an
// upsert-increment; the cache table stores absolute expiry and is pruned
// at read time.
const Schema = `
CREATE TABLE IF NOT EXISTS budget_days (
    date             TEXT PRIMARY KEY,
    total_cost       REAL    NOT NULL DEFAULT 0,
    total_requests   INTEGER NOT NULL DEFAULT 0,
    total_tokens     INTEGER NOT NULL DEFAULT 0,
    total_latency_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS budget_backend_counts (
    date       TEXT    NOT NULL,
    backend_id TEXT    NOT NULL,
    requests   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (date, backend_id)
);

CREATE TABLE IF NOT EXISTS budget_hour_counts (
    date     TEXT    NOT NULL,
    hour     INTEGER NOT NULL,
    requests INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (date, hour)
);

CREATE TABLE IF NOT EXISTS response_cache (
    fingerprint TEXT PRIMARY KEY,
    payload     BLOB    NOT NULL,
    expires_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_response_cache_expires
    ON response_cache(expires_at);
`
