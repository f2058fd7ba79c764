package database

import (
	"database/sql"
	"encoding/json"
)

// UpsertDerivedProfile stores the synthesized profile and intermediate
// analyses for a subject. Full overwrite on each analysis completion.
func (db *DB) UpsertDerivedProfile(subjectID int64, profile, textAnalysis, visualAnalysis json.RawMessage, pipelineVersion string) error {
	_, err := db.conn.Exec(
		`INSERT INTO derived_profiles (subject_id, profile, text_analysis, visual_analysis, pipeline_version, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(subject_id) DO UPDATE SET
			profile = excluded.profile,
			text_analysis = excluded.text_analysis,
			visual_analysis = excluded.visual_analysis,
			pipeline_version = excluded.pipeline_version,
			updated_at = excluded.updated_at`,
		subjectID, string(profile), payloadText(textAnalysis), payloadText(visualAnalysis), pipelineVersion,
	)
	return err
}

// GetDerivedProfile returns the profile for a subject, or nil if absent.
func (db *DB) GetDerivedProfile(subjectID int64) (*DerivedProfile, error) {
	row := db.conn.QueryRow(
		`SELECT subject_id, profile, text_analysis, visual_analysis, pipeline_version, updated_at
		FROM derived_profiles WHERE subject_id = ?`, subjectID,
	)

	var p DerivedProfile
	var profile string
	var textAnalysis, visualAnalysis *string
	err := row.Scan(&p.SubjectID, &profile, &textAnalysis, &visualAnalysis, &p.PipelineVersion, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Profile = json.RawMessage(profile)
	if textAnalysis != nil {
		p.TextAnalysis = json.RawMessage(*textAnalysis)
	}
	if visualAnalysis != nil {
		p.VisualAnalysis = json.RawMessage(*visualAnalysis)
	}
	return &p, nil
}
