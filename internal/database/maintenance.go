package database

// ClearCache deletes every row across all tables in one transaction.
func (db *DB) ClearCache() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Selected pointers reference artifacts, so break them first.
	statements := []string{
		"UPDATE subjects SET selected_artifact_id = NULL",
		"DELETE FROM transcripts",
		"DELETE FROM audio_artifacts",
		"DELETE FROM derived_profiles",
		"DELETE FROM raw_snapshots",
		"DELETE FROM subjects",
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetStats returns aggregate row counts for the status display.
func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM subjects", &stats.Subjects},
		{"SELECT COUNT(*) FROM raw_snapshots", &stats.RawSnapshots},
		{"SELECT COUNT(*) FROM derived_profiles", &stats.Profiles},
		{"SELECT COUNT(*) FROM audio_artifacts", &stats.AudioArtifacts},
		{"SELECT COUNT(*) FROM transcripts", &stats.Transcripts},
		{"SELECT COUNT(*) FROM subjects WHERE selected_artifact_id IS NOT NULL", &stats.Selected},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
