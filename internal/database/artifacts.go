package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CreateArtifactParams holds the fields for a new audio artifact.
type CreateArtifactParams struct {
	SubjectID  int64
	Prompt     string
	SampleText string
	Provider   string
	Model      *string
	Metadata   json.RawMessage
	Audio      []byte
	AudioPath  *string
	Selected   bool
}

// CreateAudioArtifact appends a generated clip for a subject. When the
// clip is created as representative, any previously selected artifact is
// demoted in the same transaction so at most one stays selected.
func (db *DB) CreateAudioArtifact(p CreateArtifactParams) (*AudioArtifact, error) {
	id := uuid.NewString()

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if p.Selected {
		if _, err := tx.Exec(
			"UPDATE audio_artifacts SET selected = 0 WHERE subject_id = ?", p.SubjectID,
		); err != nil {
			return nil, fmt.Errorf("demoting previous selection: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO audio_artifacts (id, subject_id, prompt, sample_text, provider, model, metadata, audio, audio_path, selected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.SubjectID, p.Prompt, p.SampleText, p.Provider, p.Model, payloadText(p.Metadata), p.Audio, p.AudioPath, boolInt(p.Selected),
	); err != nil {
		return nil, err
	}

	if p.Selected {
		if _, err := tx.Exec(
			"UPDATE subjects SET selected_artifact_id = ?, updated_at = datetime('now') WHERE id = ?",
			id, p.SubjectID,
		); err != nil {
			return nil, fmt.Errorf("updating subject pointer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetArtifact(id)
}

// SetSelectedArtifact flips selection to the given artifact and updates
// the subject pointer atomically. Returns nil if the artifact does not
// belong to the subject.
func (db *DB) SetSelectedArtifact(subjectID int64, artifactID string) (*AudioArtifact, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var owner int64
	err = tx.QueryRow(
		"SELECT subject_id FROM audio_artifacts WHERE id = ?", artifactID,
	).Scan(&owner)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if owner != subjectID {
		return nil, nil
	}

	if _, err := tx.Exec(
		`UPDATE audio_artifacts SET selected = CASE WHEN id = ? THEN 1 ELSE 0 END
		WHERE subject_id = ?`, artifactID, subjectID,
	); err != nil {
		return nil, fmt.Errorf("flipping selection: %w", err)
	}
	if _, err := tx.Exec(
		"UPDATE subjects SET selected_artifact_id = ?, updated_at = datetime('now') WHERE id = ?",
		artifactID, subjectID,
	); err != nil {
		return nil, fmt.Errorf("updating subject pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return db.GetArtifact(artifactID)
}

// GetArtifact returns one artifact by id, or nil if unknown.
func (db *DB) GetArtifact(id string) (*AudioArtifact, error) {
	row := db.conn.QueryRow(
		`SELECT id, subject_id, prompt, sample_text, provider, model, metadata, audio, audio_path, selected, created_at
		FROM audio_artifacts WHERE id = ?`, id,
	)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetArtifactsForSubject returns a subject's artifacts, newest first.
func (db *DB) GetArtifactsForSubject(subjectID int64) ([]AudioArtifact, error) {
	rows, err := db.conn.Query(
		`SELECT id, subject_id, prompt, sample_text, provider, model, metadata, audio, audio_path, selected, created_at
		FROM audio_artifacts WHERE subject_id = ? ORDER BY created_at DESC, id`, subjectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []AudioArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, rows.Err()
}

// GetSelectedArtifact returns the subject's selected artifact, or nil.
func (db *DB) GetSelectedArtifact(subjectID int64) (*AudioArtifact, error) {
	subject, err := db.GetSubject(subjectID)
	if err != nil {
		return nil, err
	}
	if subject == nil || subject.SelectedArtifactID == nil {
		return nil, nil
	}
	return db.GetArtifact(*subject.SelectedArtifactID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*AudioArtifact, error) {
	var a AudioArtifact
	var metadata *string
	var selected int
	if err := row.Scan(&a.ID, &a.SubjectID, &a.Prompt, &a.SampleText, &a.Provider,
		&a.Model, &metadata, &a.Audio, &a.AudioPath, &selected, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Selected = selected != 0
	if metadata != nil {
		a.Metadata = json.RawMessage(*metadata)
	}
	return &a, nil
}
