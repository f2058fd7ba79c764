package database

import "database/sql"

// ComputeStageMap derives pipeline progress for a subject purely from
// the tables. An unknown subject yields an all-false map. The
// transcription flag only counts transcripts of the currently selected
// artifact, so transcription readiness tracks operator-approved audio.
func (db *DB) ComputeStageMap(subjectID int64) (StageMap, error) {
	var m StageMap

	var success int
	err := db.conn.QueryRow(
		"SELECT success FROM raw_snapshots WHERE subject_id = ?", subjectID,
	).Scan(&success)
	if err != nil && err != sql.ErrNoRows {
		return m, err
	}
	m.WikiData = err == nil && success != 0

	var one int
	err = db.conn.QueryRow(
		"SELECT 1 FROM derived_profiles WHERE subject_id = ?", subjectID,
	).Scan(&one)
	if err != nil && err != sql.ErrNoRows {
		return m, err
	}
	m.CharacterProfile = err == nil

	var artifactCount int
	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM audio_artifacts WHERE subject_id = ?", subjectID,
	).Scan(&artifactCount); err != nil {
		return m, err
	}
	m.VoiceGeneration = artifactCount > 0

	var selectedID *string
	err = db.conn.QueryRow(
		"SELECT selected_artifact_id FROM subjects WHERE id = ?", subjectID,
	).Scan(&selectedID)
	if err != nil && err != sql.ErrNoRows {
		return m, err
	}
	m.VoiceSelection = err == nil && selectedID != nil

	if selectedID != nil {
		var transcriptCount int
		if err := db.conn.QueryRow(
			"SELECT COUNT(*) FROM transcripts WHERE subject_id = ? AND artifact_id = ?",
			subjectID, *selectedID,
		).Scan(&transcriptCount); err != nil {
			return m, err
		}
		m.Transcription = transcriptCount > 0
	}

	// Complete means the subject has an operator-approved voice.
	// Transcription is post-approval verification and tracked separately.
	m.Complete = m.WikiData && m.CharacterProfile && m.VoiceGeneration && m.VoiceSelection
	return m, nil
}
