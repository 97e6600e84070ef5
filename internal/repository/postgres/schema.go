package postgres

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id          TEXT PRIMARY KEY,
    owner_id    TEXT NOT NULL UNIQUE,
    owner_name  TEXT NOT NULL DEFAULT '',
    balance     NUMERIC(18,2) NOT NULL CHECK (balance >= 0),
    currency    TEXT NOT NULL,
    status      TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transfer_keys (
    id                TEXT PRIMARY KEY,
    owner_id          TEXT NOT NULL,
    owner_account_id  TEXT NOT NULL REFERENCES accounts(id),
    type              TEXT NOT NULL,
    value             TEXT NOT NULL UNIQUE,
    is_primary        BOOLEAN NOT NULL DEFAULT FALSE,
    state             TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    deactivated_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS transfer_keys_owner_idx ON transfer_keys (owner_id, created_at);

CREATE TABLE IF NOT EXISTS transfers (
    id                     TEXT PRIMARY KEY,
    sender_account_id      TEXT NOT NULL REFERENCES accounts(id),
    sender_user_id         TEXT NOT NULL,
    sender_key_id          TEXT NOT NULL DEFAULT '',
    receiver_key_id        TEXT NOT NULL DEFAULT '',
    receiver_account_id    TEXT NOT NULL DEFAULT '',
    external_receiver_key  TEXT NOT NULL DEFAULT '',
    amount                 NUMERIC(18,2) NOT NULL CHECK (amount > 0),
    description            TEXT NOT NULL DEFAULT '',
    status                 TEXT NOT NULL,
    external_reference_id  TEXT NOT NULL DEFAULT '',
    scheduled_for          TIMESTAMPTZ,
    failure_reason         TEXT NOT NULL DEFAULT '',
    risk_score             INTEGER NOT NULL DEFAULT 0,
    triggered_rules        TEXT[] NOT NULL DEFAULT '{}',
    device_fingerprint     TEXT NOT NULL DEFAULT '',
    sender_debited         BOOLEAN NOT NULL DEFAULT FALSE,
    receiver_credited      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at             TIMESTAMPTZ NOT NULL,
    updated_at             TIMESTAMPTZ NOT NULL,
    completed_at           TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS transfers_external_ref_idx ON transfers (external_reference_id)
    WHERE external_reference_id <> '';
CREATE INDEX IF NOT EXISTS transfers_sender_idx ON transfers (sender_account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS transfers_receiver_idx ON transfers (receiver_account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS transfers_scheduled_idx ON transfers (scheduled_for) WHERE status = 'PENDING';

CREATE TABLE IF NOT EXISTS limit_windows (
    user_id                TEXT PRIMARY KEY,
    daily_limit            NUMERIC(18,2) NOT NULL,
    nightly_limit          NUMERIC(18,2) NOT NULL,
    per_transaction_limit  NUMERIC(18,2) NOT NULL,
    monthly_limit          NUMERIC(18,2) NOT NULL,
    used_today             NUMERIC(18,2) NOT NULL DEFAULT 0,
    used_this_month        NUMERIC(18,2) NOT NULL DEFAULT 0,
    last_reset_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_profiles (
    user_id         TEXT PRIMARY KEY,
    score           INTEGER NOT NULL DEFAULT 0,
    average_amount  NUMERIC NOT NULL DEFAULT 0,
    transfer_count  INTEGER NOT NULL DEFAULT 0,
    typical_hours   INTEGER[] NOT NULL,
    flag_count      INTEGER NOT NULL DEFAULT 0,
    is_blocked      BOOLEAN NOT NULL DEFAULT FALSE,
    blocked_reason  TEXT NOT NULL DEFAULT '',
    known_devices   TEXT[] NOT NULL DEFAULT '{}',
    updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS fraud_alerts (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    transfer_id      TEXT NOT NULL DEFAULT '',
    severity         TEXT NOT NULL,
    score            INTEGER NOT NULL,
    triggered_rules  TEXT[] NOT NULL DEFAULT '{}',
    status           TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS fraud_alerts_user_idx ON fraud_alerts (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS fraud_rules (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    type         TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    conditions   JSONB NOT NULL,
    score        INTEGER NOT NULL,
    priority     INTEGER NOT NULL,
    is_active    BOOLEAN NOT NULL,
    version      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_generation (
    id          BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
    generation  INTEGER NOT NULL
);
INSERT INTO rule_generation (id, generation) VALUES (TRUE, 0) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS audit_entries (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    sequence        BIGINT NOT NULL,
    event_type      TEXT NOT NULL,
    payload         TEXT NOT NULL,
    amount          NUMERIC(18,2),
    balance_before  NUMERIC(18,2),
    balance_after   NUMERIC(18,2),
    hash            TEXT NOT NULL,
    previous_hash   TEXT,
    signature       TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, sequence)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id             TEXT PRIMARY KEY,
    transfer_id    TEXT NOT NULL,
    account_id     TEXT NOT NULL REFERENCES accounts(id),
    kind           TEXT NOT NULL,
    amount         NUMERIC(18,2) NOT NULL,
    balance_after  NUMERIC(18,2) NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_transfer_idx ON ledger_entries (transfer_id);

CREATE TABLE IF NOT EXISTS webhook_events (
    id                     TEXT PRIMARY KEY,
    event_type             TEXT NOT NULL,
    external_reference_id  TEXT NOT NULL,
    raw_payload            TEXT NOT NULL,
    outcome                TEXT NOT NULL,
    attempts               INTEGER NOT NULL DEFAULT 0,
    last_error             TEXT NOT NULL DEFAULT '',
    received_at            TIMESTAMPTZ NOT NULL,
    processed_at           TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS webhook_events_retry_idx ON webhook_events (received_at) WHERE outcome = 'failed';
`
