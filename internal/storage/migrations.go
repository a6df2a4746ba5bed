package storage

// migrations はスキーマを作成する SQL です。すべて冪等に書くこと。
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		filename      TEXT    NOT NULL,
		original_name TEXT    NOT NULL,
		file_size     INTEGER NOT NULL DEFAULT 0,
		mime_type     TEXT    NOT NULL DEFAULT '',
		operation     TEXT    NOT NULL,
		status        TEXT    NOT NULL DEFAULT 'processing'
		              CHECK (status IN ('processing', 'completed', 'failed')),
		input_path    TEXT    NOT NULL DEFAULT '',
		output_path   TEXT,
		metadata_path TEXT,
		details       TEXT,
		error_message TEXT,
		created_at    INTEGER NOT NULL,
		completed_at  INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id     INTEGER NOT NULL REFERENCES jobs (id),
		path       TEXT    NOT NULL,
		ordinal    INTEGER NOT NULL CHECK (ordinal >= 1),
		timestamp  REAL,
		created_at INTEGER NOT NULL,
		UNIQUE (job_id, ordinal)
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		key        TEXT    NOT NULL UNIQUE,
		value      TEXT    NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}
