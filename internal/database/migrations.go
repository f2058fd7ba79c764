package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS subjects (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    variant TEXT,
    url TEXT,
    selected_artifact_id TEXT REFERENCES audio_artifacts(id),
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS raw_snapshots (
    subject_id INTEGER PRIMARY KEY REFERENCES subjects(id),
    content TEXT NOT NULL DEFAULT '',
    media_urls TEXT,
    structured_payload TEXT,
    fingerprint TEXT,
    fetched_at TEXT DEFAULT (datetime('now')),
    success INTEGER NOT NULL DEFAULT 0,
    error TEXT
);

CREATE TABLE IF NOT EXISTS derived_profiles (
    subject_id INTEGER PRIMARY KEY REFERENCES subjects(id),
    profile TEXT NOT NULL,
    text_analysis TEXT,
    visual_analysis TEXT,
    pipeline_version TEXT NOT NULL,
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audio_artifacts (
    id TEXT PRIMARY KEY,
    subject_id INTEGER NOT NULL REFERENCES subjects(id),
    prompt TEXT NOT NULL,
    sample_text TEXT NOT NULL,
    provider TEXT NOT NULL,
    model TEXT,
    metadata TEXT,
    audio BLOB,
    audio_path TEXT,
    selected INTEGER NOT NULL DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    subject_id INTEGER NOT NULL REFERENCES subjects(id),
    artifact_id TEXT NOT NULL REFERENCES audio_artifacts(id),
    provider TEXT NOT NULL,
    text TEXT NOT NULL,
    metadata TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_artifacts_subject ON audio_artifacts(subject_id);
CREATE INDEX IF NOT EXISTS idx_transcripts_subject ON transcripts(subject_id);
CREATE INDEX IF NOT EXISTS idx_transcripts_artifact ON transcripts(artifact_id);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
