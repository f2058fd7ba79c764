package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"charvox/internal/analyze"
	"charvox/internal/database"
)

// Status is the externally visible state of one subject.
type Status struct {
	SubjectID  int64             `json:"subject_id"`
	Exists     bool              `json:"exists"`
	Name       string            `json:"name,omitempty"`
	Variant    *string           `json:"variant,omitempty"`
	URL        *string           `json:"url,omitempty"`
	Stages     database.StageMap `json:"stages"`
	Confidence *float64          `json:"confidence,omitempty"`
	Degraded   bool              `json:"degraded,omitempty"`
	Artifacts  int               `json:"artifacts"`
	SelectedID *string           `json:"selected_artifact_id,omitempty"`
	LastError  *string           `json:"last_error,omitempty"`
}

// Status reports a subject's stage map and summary fields. Unknown
// subjects yield Exists false with an all-false stage map.
func (o *Orchestrator) Status(subjectID int64) (*Status, error) {
	status := &Status{SubjectID: subjectID}

	subject, err := o.db.GetSubject(subjectID)
	if err != nil {
		return nil, fmt.Errorf("loading subject: %w", err)
	}
	if subject == nil {
		return status, nil
	}
	status.Exists = true
	status.Name = subject.Name
	status.Variant = subject.Variant
	status.URL = subject.URL
	status.SelectedID = subject.SelectedArtifactID

	status.Stages, err = o.db.ComputeStageMap(subjectID)
	if err != nil {
		return nil, fmt.Errorf("computing stages: %w", err)
	}

	if snapshot, err := o.db.GetRawSnapshot(subjectID); err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	} else if snapshot != nil && snapshot.Error != nil {
		status.LastError = snapshot.Error
	}

	if derived, err := o.db.GetDerivedProfile(subjectID); err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	} else if derived != nil {
		var profile analyze.Profile
		if err := json.Unmarshal(derived.Profile, &profile); err == nil {
			confidence := profile.Confidence
			status.Confidence = &confidence
			status.Degraded = profile.Degraded
		}
	}

	artifacts, err := o.db.GetArtifactsForSubject(subjectID)
	if err != nil {
		return nil, fmt.Errorf("loading artifacts: %w", err)
	}
	status.Artifacts = len(artifacts)

	return status, nil
}

func (o *Orchestrator) statusWithError(subjectID int64, stageErr error) (*Status, error) {
	status, err := o.Status(subjectID)
	if err != nil {
		return nil, err
	}
	if status.LastError == nil {
		msg := stageErr.Error()
		status.LastError = &msg
	}
	return status, nil
}

// BatchResult is the outcome for one subject in a batch run.
type BatchResult struct {
	SubjectID int64
	Status    *Status
	Err       error
}

// ProcessAll runs the pipeline for each subject in order. Per-subject
// failures are recorded and the batch continues; only context
// cancellation stops it early.
func (o *Orchestrator) ProcessAll(ctx context.Context, subjectIDs []int64, opts Options) []BatchResult {
	results := make([]BatchResult, 0, len(subjectIDs))
	for _, id := range subjectIDs {
		if ctx.Err() != nil {
			results = append(results, BatchResult{SubjectID: id, Err: ctx.Err()})
			continue
		}
		status, err := o.Process(ctx, id, opts)
		results = append(results, BatchResult{SubjectID: id, Status: status, Err: err})
	}
	return results
}

// SelectArtifact marks an artifact as the subject's representative
// voice. Returns an error when the artifact does not belong to the
// subject.
func (o *Orchestrator) SelectArtifact(subjectID int64, artifactID string) (*database.AudioArtifact, error) {
	artifact, err := o.db.SetSelectedArtifact(subjectID, artifactID)
	if err != nil {
		return nil, fmt.Errorf("selecting artifact: %w", err)
	}
	if artifact == nil {
		return nil, fmt.Errorf("artifact %s does not belong to subject %d", artifactID, subjectID)
	}
	return artifact, nil
}

// TranscribeSelected transcribes the subject's selected artifact and
// stores the transcript.
func (o *Orchestrator) TranscribeSelected(ctx context.Context, subjectID int64) (*database.Transcript, error) {
	if o.transcribe == nil || !o.transcribe.IsConfigured() {
		return nil, fmt.Errorf("transcription not configured")
	}

	artifact, err := o.db.GetSelectedArtifact(subjectID)
	if err != nil {
		return nil, fmt.Errorf("loading selection: %w", err)
	}
	if artifact == nil {
		return nil, fmt.Errorf("subject %d has no selected artifact", subjectID)
	}
	if len(artifact.Audio) == 0 {
		return nil, fmt.Errorf("selected artifact %s has no stored audio", artifact.ID)
	}

	var result *transcribeResult
	err = o.genGuard.Execute(ctx, "transcription", func(ctx context.Context) error {
		r, err := o.transcribe.Transcribe(ctx, artifact.Audio, artifact.ID+".mp3")
		if err != nil {
			return err
		}
		result = &transcribeResult{text: r.Text, provider: r.Provider, metadata: r.Metadata}
		return nil
	})
	if err != nil {
		return nil, err
	}

	id, err := o.db.SaveTranscript(subjectID, artifact.ID, result.provider, result.text, result.metadata)
	if err != nil {
		return nil, fmt.Errorf("saving transcript: %w", err)
	}
	return &database.Transcript{
		ID:         id,
		SubjectID:  subjectID,
		ArtifactID: artifact.ID,
		Provider:   result.provider,
		Text:       result.text,
		Metadata:   result.metadata,
	}, nil
}

type transcribeResult struct {
	text     string
	provider string
	metadata json.RawMessage
}
