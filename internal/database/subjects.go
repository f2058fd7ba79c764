package database

import "database/sql"

// EnsureSubject creates the subject row if absent, or refreshes name,
// variant, and url in place. It never touches the selected-artifact
// pointer of an existing subject.
func (db *DB) EnsureSubject(id int64, name string, variant, url *string) error {
	_, err := db.conn.Exec(
		`INSERT INTO subjects (id, name, variant, url) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			variant = COALESCE(excluded.variant, subjects.variant),
			url = COALESCE(excluded.url, subjects.url),
			updated_at = datetime('now')`,
		id, name, variant, url,
	)
	return err
}

// GetSubject returns a subject by id, or nil if unknown.
func (db *DB) GetSubject(id int64) (*Subject, error) {
	row := db.conn.QueryRow(
		`SELECT id, name, variant, url, selected_artifact_id, created_at, updated_at
		FROM subjects WHERE id = ?`, id,
	)
	var s Subject
	err := row.Scan(&s.ID, &s.Name, &s.Variant, &s.URL, &s.SelectedArtifactID, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetAllSubjects returns every subject, newest first.
func (db *DB) GetAllSubjects() ([]Subject, error) {
	rows, err := db.conn.Query(
		`SELECT id, name, variant, url, selected_artifact_id, created_at, updated_at
		FROM subjects ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []Subject
	for rows.Next() {
		var s Subject
		if err := rows.Scan(&s.ID, &s.Name, &s.Variant, &s.URL, &s.SelectedArtifactID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}
