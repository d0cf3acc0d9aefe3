package database

const postgresSchema = `
CREATE TABLE IF NOT EXISTS factor_rules (
    id              UUID PRIMARY KEY,
    name            TEXT NOT NULL UNIQUE,
    description     TEXT NOT NULL DEFAULT '',
    expression      TEXT NOT NULL,
    category        TEXT NOT NULL DEFAULT '',
    weight          DOUBLE PRECISION NOT NULL,
    status          TEXT NOT NULL,
    min_sample_size INTEGER NOT NULL DEFAULT 0,
    training_from   TIMESTAMPTZ,
    training_to     TIMESTAMPTZ,
    stats           JSONB NOT NULL DEFAULT '{}',
    created_by      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_factor_rules_status ON factor_rules(status);

CREATE TABLE IF NOT EXISTS factor_changes (
    id          UUID PRIMARY KEY,
    factor_id   UUID NOT NULL REFERENCES factor_rules(id),
    action      TEXT NOT NULL,
    from_status TEXT NOT NULL DEFAULT '',
    to_status   TEXT NOT NULL DEFAULT '',
    old_weight  DOUBLE PRECISION,
    new_weight  DOUBLE PRECISION,
    reason      TEXT NOT NULL DEFAULT '',
    changed_by  TEXT NOT NULL,
    changed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_factor_changes_factor ON factor_changes(factor_id, changed_at);

CREATE TABLE IF NOT EXISTS calibration_models (
    id           UUID PRIMARY KEY,
    version      INTEGER NOT NULL UNIQUE,
    method       TEXT NOT NULL,
    params       JSONB NOT NULL,
    trained_from TIMESTAMPTZ NOT NULL,
    trained_to   TIMESTAMPTZ NOT NULL,
    sample_size  INTEGER NOT NULL,
    brier_score  DOUBLE PRECISION NOT NULL,
    ece          DOUBLE PRECISION NOT NULL,
    active       BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_calibration_single_active ON calibration_models(active) WHERE active;

CREATE TABLE IF NOT EXISTS runner_scores (
    id            UUID PRIMARY KEY,
    race_id       UUID NOT NULL,
    runner_id     UUID NOT NULL,
    raw_score     DOUBLE PRECISION NOT NULL,
    probability   DOUBLE PRECISION NOT NULL,
    odds          DOUBLE PRECISION NOT NULL,
    ev            DOUBLE PRECISION NOT NULL,
    model_id      UUID NOT NULL,
    model_version INTEGER NOT NULL,
    contributions JSONB NOT NULL DEFAULT '{}',
    failures      JSONB NOT NULL DEFAULT '{}',
    scored_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runner_scores_race ON runner_scores(race_id, scored_at);

CREATE TABLE IF NOT EXISTS bets (
    id          UUID PRIMARY KEY,
    race_id     UUID NOT NULL,
    runner_id   UUID NOT NULL,
    bet_type    TEXT NOT NULL,
    trading_day TEXT NOT NULL,
    stake       DOUBLE PRECISION NOT NULL,
    odds        DOUBLE PRECISION NOT NULL,
    probability DOUBLE PRECISION NOT NULL,
    ev          DOUBLE PRECISION NOT NULL,
    strategy    TEXT NOT NULL,
    status      TEXT NOT NULL,
    void_reason TEXT NOT NULL DEFAULT '',
    payout      DOUBLE PRECISION,
    profit_loss DOUBLE PRECISION,
    placed_at   TIMESTAMPTZ NOT NULL,
    settled_at  TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_bets_live_key ON bets(race_id, runner_id, bet_type, trading_day) WHERE status <> 'VOID';
CREATE INDEX IF NOT EXISTS idx_bets_status ON bets(status);
CREATE INDEX IF NOT EXISTS idx_bets_settled_at ON bets(settled_at);

CREATE TABLE IF NOT EXISTS bankroll_state (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    balance            DOUBLE PRECISION NOT NULL,
    peak               DOUBLE PRECISION NOT NULL,
    staked_today       DOUBLE PRECISION NOT NULL,
    loss_today         DOUBLE PRECISION NOT NULL,
    consecutive_losses INTEGER NOT NULL,
    last_reset         TEXT NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS races (
    id              UUID PRIMARY KEY,
    track           TEXT NOT NULL,
    race_number     INTEGER NOT NULL,
    scheduled_start TIMESTAMPTZ NOT NULL,
    distance        INTEGER NOT NULL,
    surface         TEXT NOT NULL DEFAULT '',
    going           TEXT NOT NULL DEFAULT '',
    runners         JSONB NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_races_start ON races(scheduled_start);

CREATE TABLE IF NOT EXISTS race_results (
    race_id    UUID PRIMARY KEY REFERENCES races(id),
    positions  JSONB NOT NULL,
    scratched  JSONB NOT NULL DEFAULT '[]',
    official   BOOLEAN NOT NULL,
    settled_at TIMESTAMPTZ NOT NULL
);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS factor_rules (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL UNIQUE,
    description     TEXT NOT NULL DEFAULT '',
    expression      TEXT NOT NULL,
    category        TEXT NOT NULL DEFAULT '',
    weight          REAL NOT NULL,
    status          TEXT NOT NULL,
    min_sample_size INTEGER NOT NULL DEFAULT 0,
    training_from   DATETIME,
    training_to     DATETIME,
    stats           TEXT NOT NULL DEFAULT '{}',
    created_by      TEXT NOT NULL DEFAULT '',
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_factor_rules_status ON factor_rules(status);

CREATE TABLE IF NOT EXISTS factor_changes (
    id          TEXT PRIMARY KEY,
    factor_id   TEXT NOT NULL REFERENCES factor_rules(id),
    action      TEXT NOT NULL,
    from_status TEXT NOT NULL DEFAULT '',
    to_status   TEXT NOT NULL DEFAULT '',
    old_weight  REAL,
    new_weight  REAL,
    reason      TEXT NOT NULL DEFAULT '',
    changed_by  TEXT NOT NULL,
    changed_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_factor_changes_factor ON factor_changes(factor_id, changed_at);

CREATE TABLE IF NOT EXISTS calibration_models (
    id           TEXT PRIMARY KEY,
    version      INTEGER NOT NULL UNIQUE,
    method       TEXT NOT NULL,
    params       TEXT NOT NULL,
    trained_from DATETIME NOT NULL,
    trained_to   DATETIME NOT NULL,
    sample_size  INTEGER NOT NULL,
    brier_score  REAL NOT NULL,
    ece          REAL NOT NULL,
    active       BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_calibration_single_active ON calibration_models(active) WHERE active;

CREATE TABLE IF NOT EXISTS runner_scores (
    id            TEXT PRIMARY KEY,
    race_id       TEXT NOT NULL,
    runner_id     TEXT NOT NULL,
    raw_score     REAL NOT NULL,
    probability   REAL NOT NULL,
    odds          REAL NOT NULL,
    ev            REAL NOT NULL,
    model_id      TEXT NOT NULL,
    model_version INTEGER NOT NULL,
    contributions TEXT NOT NULL DEFAULT '{}',
    failures      TEXT NOT NULL DEFAULT '{}',
    scored_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runner_scores_race ON runner_scores(race_id, scored_at);

CREATE TABLE IF NOT EXISTS bets (
    id          TEXT PRIMARY KEY,
    race_id     TEXT NOT NULL,
    runner_id   TEXT NOT NULL,
    bet_type    TEXT NOT NULL,
    trading_day TEXT NOT NULL,
    stake       REAL NOT NULL,
    odds        REAL NOT NULL,
    probability REAL NOT NULL,
    ev          REAL NOT NULL,
    strategy    TEXT NOT NULL,
    status      TEXT NOT NULL,
    void_reason TEXT NOT NULL DEFAULT '',
    payout      REAL,
    profit_loss REAL,
    placed_at   DATETIME NOT NULL,
    settled_at  DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_bets_live_key ON bets(race_id, runner_id, bet_type, trading_day) WHERE status <> 'VOID';
CREATE INDEX IF NOT EXISTS idx_bets_status ON bets(status);
CREATE INDEX IF NOT EXISTS idx_bets_settled_at ON bets(settled_at);

CREATE TABLE IF NOT EXISTS bankroll_state (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    balance            REAL NOT NULL,
    peak               REAL NOT NULL,
    staked_today       REAL NOT NULL,
    loss_today         REAL NOT NULL,
    consecutive_losses INTEGER NOT NULL,
    last_reset         TEXT NOT NULL,
    updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS races (
    id              TEXT PRIMARY KEY,
    track           TEXT NOT NULL,
    race_number     INTEGER NOT NULL,
    scheduled_start DATETIME NOT NULL,
    distance        INTEGER NOT NULL,
    surface         TEXT NOT NULL DEFAULT '',
    going           TEXT NOT NULL DEFAULT '',
    runners         TEXT NOT NULL,
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_races_start ON races(scheduled_start);

CREATE TABLE IF NOT EXISTS race_results (
    race_id    TEXT PRIMARY KEY REFERENCES races(id),
    positions  TEXT NOT NULL,
    scratched  TEXT NOT NULL DEFAULT '[]',
    official   BOOLEAN NOT NULL,
    settled_at DATETIME NOT NULL
);
`
