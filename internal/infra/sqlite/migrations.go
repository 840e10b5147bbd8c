package sqlite

// Migrations returns the full schema as single-statement strings.
func Migrations() []string {
	return []string{
		// Committed ledger rows. Immutable once written; corrections are
		// new rows. (user_id, version) is the chain address; the unique
		// idempotency key backs the at-most-once guarantee at the storage
		// layer as well.
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			type             TEXT NOT NULL,
			amount           INTEGER NOT NULL,
			balance_before   INTEGER NOT NULL,
			balance_after    INTEGER NOT NULL,
			status           TEXT NOT NULL,
			event_id         TEXT NOT NULL,
			version          INTEGER NOT NULL,
			block_index      INTEGER NOT NULL,
			tx_hash          TEXT NOT NULL,
			prev_tx_hash     TEXT NOT NULL,
			signature        TEXT NOT NULL,
			correlation_id   TEXT NOT NULL DEFAULT '',
			idempotency_key  TEXT NOT NULL,
			saga_id          TEXT NOT NULL DEFAULT '',
			processing_ns    INTEGER NOT NULL DEFAULT 0,
			retry_count      INTEGER NOT NULL DEFAULT 0,
			last_retry_at_ns INTEGER,
			metadata_json    TEXT NOT NULL DEFAULT '{}',
			created_at_ns    INTEGER NOT NULL,
			UNIQUE(user_id, version)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tx_idempotency ON credit_transactions(idempotency_key)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_user_created ON credit_transactions(user_id, created_at_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_saga ON credit_transactions(saga_id) WHERE saga_id != ''`,

		// Materialized per-user balance cache. Rebuildable by chain replay.
		`CREATE TABLE IF NOT EXISTS balance_projections (
			user_id       TEXT PRIMARY KEY,
			balance       INTEGER NOT NULL DEFAULT 0,
			reserved      INTEGER NOT NULL DEFAULT 0,
			last_version  INTEGER NOT NULL DEFAULT 0,
			last_tx_hash  TEXT NOT NULL,
			updated_at_ns INTEGER NOT NULL
		)`,

		// Idempotency key → committed transaction id, retained for a
		// bounded window.
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key           TEXT PRIMARY KEY,
			tx_id         TEXT NOT NULL,
			recorded_at_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_idem_recorded ON idempotency_keys(recorded_at_ns)`,

		// Saga reservations (provisional holds).
		`CREATE TABLE IF NOT EXISTS reservations (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			amount        INTEGER NOT NULL,
			status        TEXT NOT NULL,
			saga_id       TEXT NOT NULL,
			tx_id         TEXT NOT NULL,
			created_at_ns INTEGER NOT NULL,
			expires_at_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_res_expiry ON reservations(status, expires_at_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_res_user ON reservations(user_id)`,

		// Saga state machines.
		`CREATE TABLE IF NOT EXISTS sagas (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			status          TEXT NOT NULL,
			step_tx_ids     TEXT NOT NULL DEFAULT '[]',
			reservation_ids TEXT NOT NULL DEFAULT '[]',
			created_at_ns   INTEGER NOT NULL,
			updated_at_ns   INTEGER NOT NULL
		)`,

		// Audit findings from the anomaly detector.
		`CREATE TABLE IF NOT EXISTS audit_anomalies (
			id             TEXT PRIMARY KEY,
			type           TEXT NOT NULL,
			severity       INTEGER NOT NULL,
			user_id        TEXT NOT NULL,
			tx_ids         TEXT NOT NULL DEFAULT '[]',
			detail         TEXT NOT NULL DEFAULT '',
			detected_at_ns INTEGER NOT NULL,
			resolved       INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomaly_detected ON audit_anomalies(detected_at_ns)`,
	}
}
