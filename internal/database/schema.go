package database

// SQLite stores timestamps as unix nanoseconds and dates as YYYY-MM-DD text.

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS races (
		race_key    VARCHAR(32) PRIMARY KEY,
		held_on     DATE NOT NULL,
		venue       VARCHAR(64) NOT NULL,
		race_number INTEGER NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_races_held_on ON races(held_on)`,

	`CREATE TABLE IF NOT EXISTS runners (
		race_key     VARCHAR(32) NOT NULL REFERENCES races(race_key) ON DELETE CASCADE,
		horse_number INTEGER NOT NULL,
		horse_name   TEXT NOT NULL,
		jockey       TEXT NOT NULL DEFAULT '',
		weight       NUMERIC(5,1),
		PRIMARY KEY (race_key, horse_number)
	)`,

	`CREATE TABLE IF NOT EXISTS odds_snapshots (
		snapshot_id UUID NOT NULL,
		race_key    VARCHAR(32) NOT NULL,
		market      VARCHAR(16) NOT NULL,
		horse       CHAR(2) NOT NULL,
		odds        DOUBLE PRECISION NOT NULL,
		mass        DOUBLE PRECISION NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (snapshot_id, horse)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_odds_snapshots_market ON odds_snapshots(race_key, market, captured_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_odds_snapshots_horse ON odds_snapshots(race_key, horse, captured_at)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS races (
		race_key    TEXT PRIMARY KEY,
		held_on     TEXT NOT NULL,
		venue       TEXT NOT NULL,
		race_number INTEGER NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_races_held_on ON races(held_on)`,

	`CREATE TABLE IF NOT EXISTS runners (
		race_key     TEXT NOT NULL REFERENCES races(race_key) ON DELETE CASCADE,
		horse_number INTEGER NOT NULL,
		horse_name   TEXT NOT NULL,
		jockey       TEXT NOT NULL DEFAULT '',
		weight       TEXT,
		PRIMARY KEY (race_key, horse_number)
	)`,

	`CREATE TABLE IF NOT EXISTS odds_snapshots (
		snapshot_id TEXT NOT NULL,
		race_key    TEXT NOT NULL,
		market      TEXT NOT NULL,
		horse       TEXT NOT NULL,
		odds        REAL NOT NULL,
		mass        REAL NOT NULL,
		captured_at INTEGER NOT NULL,
		PRIMARY KEY (snapshot_id, horse)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_odds_snapshots_market ON odds_snapshots(race_key, market, captured_at)`,
	`CREATE INDEX IF NOT EXISTS idx_odds_snapshots_horse ON odds_snapshots(race_key, horse, captured_at)`,
}
