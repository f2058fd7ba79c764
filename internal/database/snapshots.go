package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// UpsertRawSnapshot stores the raw-source snapshot for a subject.
// Last write wins: the whole row is overwritten, never merged.
func (db *DB) UpsertRawSnapshot(subjectID int64, content string, mediaURLs []string, structured json.RawMessage, fingerprint *string, success bool, fetchErr *string) error {
	urls, err := encodeStringList(mediaURLs)
	if err != nil {
		return fmt.Errorf("encoding media urls: %w", err)
	}

	_, err = db.conn.Exec(
		`INSERT INTO raw_snapshots (subject_id, content, media_urls, structured_payload, fingerprint, fetched_at, success, error)
		VALUES (?, ?, ?, ?, ?, datetime('now'), ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			content = excluded.content,
			media_urls = excluded.media_urls,
			structured_payload = excluded.structured_payload,
			fingerprint = excluded.fingerprint,
			fetched_at = excluded.fetched_at,
			success = excluded.success,
			error = excluded.error`,
		subjectID, content, urls, payloadText(structured), fingerprint, boolInt(success), fetchErr,
	)
	return err
}

// GetRawSnapshot returns the snapshot for a subject, or nil if absent.
func (db *DB) GetRawSnapshot(subjectID int64) (*RawSnapshot, error) {
	row := db.conn.QueryRow(
		`SELECT subject_id, content, media_urls, structured_payload, fingerprint, fetched_at, success, error
		FROM raw_snapshots WHERE subject_id = ?`, subjectID,
	)

	var s RawSnapshot
	var urls, structured *string
	var success int
	err := row.Scan(&s.SubjectID, &s.Content, &urls, &structured, &s.Fingerprint, &s.FetchedAt, &success, &s.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Success = success != 0
	if urls != nil {
		if err := json.Unmarshal([]byte(*urls), &s.MediaURLs); err != nil {
			return nil, fmt.Errorf("decoding media urls: %w", err)
		}
	}
	if structured != nil {
		s.StructuredPayload = json.RawMessage(*structured)
	}
	return &s, nil
}

func encodeStringList(values []string) (*string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func payloadText(payload json.RawMessage) *string {
	if len(payload) == 0 {
		return nil
	}
	s := string(payload)
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
