package database

import (
	"encoding/json"
)

// SaveTranscript appends a transcript for one artifact.
func (db *DB) SaveTranscript(subjectID int64, artifactID, provider, text string, metadata json.RawMessage) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO transcripts (subject_id, artifact_id, provider, text, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		subjectID, artifactID, provider, text, payloadText(metadata),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetTranscriptsForSubject returns a subject's transcripts, newest first.
func (db *DB) GetTranscriptsForSubject(subjectID int64) ([]Transcript, error) {
	rows, err := db.conn.Query(
		`SELECT id, subject_id, artifact_id, provider, text, metadata, created_at
		FROM transcripts WHERE subject_id = ? ORDER BY created_at DESC, id DESC`, subjectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transcripts []Transcript
	for rows.Next() {
		var t Transcript
		var metadata *string
		if err := rows.Scan(&t.ID, &t.SubjectID, &t.ArtifactID, &t.Provider, &t.Text, &metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		if metadata != nil {
			t.Metadata = json.RawMessage(*metadata)
		}
		transcripts = append(transcripts, t)
	}
	return transcripts, rows.Err()
}
