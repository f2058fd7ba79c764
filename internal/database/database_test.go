package database

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func seedSubject(t *testing.T, db *DB, id int64, name string) {
	t.Helper()
	if err := db.EnsureSubject(id, name, nil, ptr("https://wiki.example/wiki/"+name)); err != nil {
		t.Fatalf("seeding subject: %v", err)
	}
}

func TestEnsureSubjectCreates(t *testing.T) {
	db := openTestDB(t)
	seedSubject(t, db, 42, "Jin Harlow")

	s, err := db.GetSubject(42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected subject")
	}
	if s.Name != "Jin Harlow" {
		t.Errorf("expected name Jin Harlow, got %q", s.Name)
	}
}

func TestEnsureSubjectUpdatesIdentity(t *testing.T) {
	db := openTestDB(t)
	seedSubject(t, db, 42, "Jin Harlow")
	if err := db.EnsureSubject(42, "Jin 'Grey' Harlow", ptr("grey"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, _ := db.GetSubject(42)
	if s.Name != "Jin 'Grey' Harlow" {
		t.Errorf("expected updated name, got %q", s.Name)
	}
	if s.Variant == nil || *s.Variant != "grey" {
		t.Error("expected variant to be set")
	}
	if s.URL == nil {
		t.Error("expected nil url to leave existing url untouched")
	}
}

func TestEnsureSubjectPreservesSelection(t *testing.T) {
	db := openTestDB(t)
	seedSubject(t, db, 42, "Jin Harlow")
	artifact, err := db.CreateAudioArtifact(CreateArtifactParams{
		SubjectID: 42, Prompt: "p", SampleText: "s", Provider: "test", Selected: true,
	})
	if err != nil {
		t.Fatalf("creating artifact: %v", err)
	}

	if err := db.EnsureSubject(42, "Jin Harlow", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, _ := db.GetSubject(42)
	if s.SelectedArtifactID == nil || *s.SelectedArtifactID != artifact.ID {
		t.Error("EnsureSubject must never clear the selected-artifact pointer")
	}
}

func TestGetSubjectUnknown(t *testing.T) {
	db := openTestDB(t)
	s, err := db.GetSubject(999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Error("expected nil for unknown subject")
	}
}

func TestUpsertRawSnapshotOverwrites(t *testing.T) {
	db := openTestDB(t)
	seedSubject(t, db, 42, "Jin Harlow")

	err := db.UpsertRawSnapshot(42, "first text", []string{"https://img.example/a.png"},
		json.RawMessage(`{"source":"api"}`), ptr("aaa"), true, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Second write replaces every field, including clearing some.
	err = db.UpsertRawSnapshot(42, "second text", nil, nil, ptr("bbb"), false, ptr("fetch timed out"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, err := db.GetRawSnapshot(42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Content != "second text" {
		t.Errorf("expected overwritten content, got %q", snap.Content)
	}
	if snap.MediaURLs != nil {
		t.Error("expected media urls cleared by overwrite")
	}
	if snap.StructuredPayload != nil {
		t.Error("expected structured payload cleared by overwrite")
	}
	if snap.Fingerprint == nil || *snap.Fingerprint != "bbb" {
		t.Error("expected new fingerprint")
	}
	if snap.Success {
		t.Error("expected success=false after overwrite")
	}
	if snap.Error == nil || *snap.Error != "fetch timed out" {
		t.Error("expected stored error")
	}
}

func TestGetRawSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)
	seedSubject(t, db, 7, "Mara Vex")

	urls := []string{"https://img.example/1.png", "https://img.example/2.png"}
	if err := db.UpsertRawSnapshot(7, "article text", urls, json.RawMessage(`{"dialogue":["hey"]}`), ptr("fp"), true, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, _ := db.GetRawSnapshot(7)
	if len(snap.MediaURLs) != 2 {
		t.Errorf("expected 2 media urls, got %d", len(snap.MediaURLs))
	}
	var payload struct {
		Dialogue []string `json:"dialogue"`
	}
	if err := json.Unmarshal(snap.StructuredPayload, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if len(payload.Dialogue) != 1 {
		t.Error("expected dialogue round-trip")
	}
}

func TestUpsertDerivedProfileOverwrites(t *testing.T) {
	db := openTestDB(t)
	seedSubject(t, db, 42, "Jin Harlow")

	if err := db.UpsertDerivedProfile(42, json.RawMessage(`{"v":1}`), json.RawMessage(`{"t":1}`), nil, "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := db.UpsertDerivedProfile(42, json.RawMessage(`{"v":2}`), nil, json.RawMessage(`{"vis":1}`), "v2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := db.GetDerivedProfile(42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(p.Profile) != `{"v":2}` {
		t.Errorf("expected overwritten profile, got %s", p.Profile)
	}
	if p.TextAnalysis != nil {
		t.Error("expected text analysis cleared by overwrite")
	}
	if p.VisualAnalysis == nil {
		t.Error("expected visual analysis present")
	}
	if p.PipelineVersion != "v2" {
		t.Errorf("expected version v2, got %q", p.PipelineVersion)
	}
}

func TestSaveTranscript(t *testing.T) {
	db := openTestDB(t)
	seedSubject(t, db, 42, "Jin Harlow")
	artifact, _ := db.CreateAudioArtifact(CreateArtifactParams{
		SubjectID: 42, Prompt: "p", SampleText: "s", Provider: "test",
	})

	id, err := db.SaveTranscript(42, artifact.ID, "whisper", "hello there", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Error("expected non-zero transcript id")
	}

	transcripts, err := db.GetTranscriptsForSubject(42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transcripts) != 1 || transcripts[0].Text != "hello there" {
		t.Error("expected saved transcript round-trip")
	}
}

func TestClearCache(t *testing.T) {
	db := openTestDB(t)
	seedSubject(t, db, 42, "Jin Harlow")
	db.UpsertRawSnapshot(42, "text", nil, nil, nil, true, nil)
	db.UpsertDerivedProfile(42, json.RawMessage(`{}`), nil, nil, "v1")
	artifact, _ := db.CreateAudioArtifact(CreateArtifactParams{
		SubjectID: 42, Prompt: "p", SampleText: "s", Provider: "test", Selected: true,
	})
	db.SaveTranscript(42, artifact.ID, "whisper", "text", nil)

	if err := db.ClearCache(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Subjects != 0 || stats.RawSnapshots != 0 || stats.Profiles != 0 ||
		stats.AudioArtifacts != 0 || stats.Transcripts != 0 {
		t.Errorf("expected empty database after clear, got %+v", stats)
	}
}
