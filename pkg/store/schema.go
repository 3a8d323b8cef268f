package store

// Schema, sqlite dialect. The postgres dialect swaps TEXT timestamps for
// the same TEXT representation (RFC3339Nano, UTC) to keep scanning uniform.
// uow_history is insert-only: triggers abort UPDATE and DELETE so not even
// a privileged connection can rewrite the audit chain.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS templates (
    template_id TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    version     TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    ai_context  TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS roles (
    role_id       TEXT PRIMARY KEY,
    template_id   TEXT,
    instance_id   TEXT,
    name          TEXT NOT NULL,
    kind          TEXT NOT NULL,
    strategy      TEXT NOT NULL DEFAULT '',
    actor_classes TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS interactions (
    interaction_id TEXT PRIMARY KEY,
    template_id    TEXT,
    instance_id    TEXT,
    name           TEXT NOT NULL,
    description    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS components (
    component_id   TEXT PRIMARY KEY,
    template_id    TEXT,
    instance_id    TEXT,
    name           TEXT NOT NULL,
    role_id        TEXT NOT NULL,
    interaction_id TEXT NOT NULL,
    direction      TEXT NOT NULL,
    guard_id       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS guards (
    guard_id     TEXT PRIMARY KEY,
    template_id  TEXT,
    instance_id  TEXT,
    component_id TEXT NOT NULL,
    type         TEXT NOT NULL,
    policy       TEXT,
    children     TEXT NOT NULL DEFAULT '[]',
    reducer      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS instances (
    instance_id TEXT PRIMARY KEY,
    template_id TEXT NOT NULL,
    name        TEXT NOT NULL,
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS actors (
    actor_id   TEXT PRIMARY KEY,
    class      TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS uows (
    uow_id                 TEXT PRIMARY KEY,
    instance_id            TEXT NOT NULL,
    parent_id              TEXT NOT NULL DEFAULT '',
    status                 TEXT NOT NULL,
    interaction_count      INTEGER NOT NULL DEFAULT 0,
    max_interactions       INTEGER NOT NULL DEFAULT 100,
    priority               INTEGER NOT NULL DEFAULT 0,
    current_interaction_id TEXT NOT NULL DEFAULT '',
    lease_actor_id         TEXT NOT NULL DEFAULT '',
    last_heartbeat         TEXT,
    content_hash           TEXT NOT NULL DEFAULT '',
    child_count            INTEGER NOT NULL DEFAULT 0,
    finished_child_count   INTEGER NOT NULL DEFAULT 0,
    created_at             TEXT NOT NULL,
    updated_at             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_uows_checkout
    ON uows (status, current_interaction_id, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_uows_parent ON uows (parent_id);

CREATE TABLE IF NOT EXISTS uow_attributes (
    uow_id          TEXT NOT NULL,
    key             TEXT NOT NULL,
    version         INTEGER NOT NULL,
    value           TEXT NOT NULL,
    owner_actor_id  TEXT NOT NULL DEFAULT '',
    author_actor_id TEXT NOT NULL,
    reasoning       TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL,
    PRIMARY KEY (uow_id, key, version)
);

CREATE TABLE IF NOT EXISTS uow_history (
    uow_id            TEXT NOT NULL,
    seq               INTEGER NOT NULL,
    from_status       TEXT NOT NULL,
    to_status         TEXT NOT NULL,
    actor_id          TEXT NOT NULL,
    event_type        TEXT NOT NULL,
    reason            TEXT NOT NULL DEFAULT '',
    prev_content_hash TEXT NOT NULL,
    new_content_hash  TEXT NOT NULL,
    attrs_digest      TEXT NOT NULL,
    timestamp_utc     TEXT NOT NULL,
    metadata          TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (uow_id, seq)
);
`

// sqlite trigger syntax; the postgres dialect installs equivalent rules.
const historyTriggersSQLite = `
CREATE TRIGGER IF NOT EXISTS uow_history_no_update
BEFORE UPDATE ON uow_history
BEGIN
    SELECT RAISE(ABORT, 'uow_history is append-only');
END;

CREATE TRIGGER IF NOT EXISTS uow_history_no_delete
BEFORE DELETE ON uow_history
BEGIN
    SELECT RAISE(ABORT, 'uow_history is append-only');
END;
`

const historyTriggersPostgres = `
CREATE OR REPLACE FUNCTION uow_history_immutable() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'uow_history is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS uow_history_no_update ON uow_history;
CREATE TRIGGER uow_history_no_update
    BEFORE UPDATE OR DELETE ON uow_history
    FOR EACH ROW EXECUTE FUNCTION uow_history_immutable();
`
