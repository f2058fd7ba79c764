package database

import "encoding/json"

// Subject is the durable identity of one character processed by the
// pipeline. SelectedArtifactID points at the operator-approved voice.
type Subject struct {
	ID                 int64
	Name               string
	Variant            *string
	URL                *string
	SelectedArtifactID *string
	CreatedAt          *string
	UpdatedAt          *string
}

// RawSnapshot is the single raw-source snapshot per subject, fully
// overwritten on each fresh fetch.
type RawSnapshot struct {
	SubjectID         int64
	Content           string
	MediaURLs         []string
	StructuredPayload json.RawMessage
	Fingerprint       *string
	FetchedAt         *string
	Success           bool
	Error             *string
}

// DerivedProfile is the synthesized character profile, at most one per
// subject, fully overwritten on each analysis completion.
type DerivedProfile struct {
	SubjectID       int64
	Profile         json.RawMessage
	TextAnalysis    json.RawMessage
	VisualAnalysis  json.RawMessage
	PipelineVersion string
	UpdatedAt       *string
}

// AudioArtifact is one generated voice clip. At most one artifact per
// subject carries Selected = true.
type AudioArtifact struct {
	ID         string
	SubjectID  int64
	Prompt     string
	SampleText string
	Provider   string
	Model      *string
	Metadata   json.RawMessage
	Audio      []byte
	AudioPath  *string
	Selected   bool
	CreatedAt  *string
}

// Transcript is a transcription of one audio artifact.
type Transcript struct {
	ID         int64
	SubjectID  int64
	ArtifactID string
	Provider   string
	Text       string
	Metadata   json.RawMessage
	CreatedAt  *string
}

// StageMap is the derived pipeline progress for one subject. It is
// always computed from the tables and never stored.
type StageMap struct {
	WikiData         bool `json:"wiki_data"`
	CharacterProfile bool `json:"character_profile"`
	VoiceGeneration  bool `json:"voice_generation"`
	VoiceSelection   bool `json:"voice_selection"`
	Transcription    bool `json:"transcription"`
	Complete         bool `json:"complete"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	Subjects       int
	RawSnapshots   int
	Profiles       int
	AudioArtifacts int
	Transcripts    int
	Selected       int
}
