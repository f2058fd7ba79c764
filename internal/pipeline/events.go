package pipeline

import "log"

// Stage names, in execution order. Selection and transcription are
// operator-driven and happen outside Process.
const (
	StageWikiData         = "wiki_data"
	StageEnrichment       = "enrichment"
	StageCharacterProfile = "character_profile"
	StageVoiceGeneration  = "voice_generation"
)

// Listener receives lifecycle events during a pipeline run. Per stage
// and run, a listener sees at most one StageStarted and exactly one
// terminal event (Completed, Skipped, or Errored).
type Listener interface {
	StageStarted(subjectID int64, stage string)
	StageCompleted(subjectID int64, stage, summary string)
	StageSkipped(subjectID int64, stage, reason string)
	StageErrored(subjectID int64, stage string, err error)
}

// NopListener discards all events.
type NopListener struct{}

func (NopListener) StageStarted(int64, string)           {}
func (NopListener) StageCompleted(int64, string, string) {}
func (NopListener) StageSkipped(int64, string, string)   {}
func (NopListener) StageErrored(int64, string, error)    {}

// ConsoleListener logs events for CLI runs.
type ConsoleListener struct{}

func (ConsoleListener) StageStarted(subjectID int64, stage string) {
	log.Printf("[%d] %s: started", subjectID, stage)
}

func (ConsoleListener) StageCompleted(subjectID int64, stage, summary string) {
	log.Printf("[%d] %s: %s", subjectID, stage, summary)
}

func (ConsoleListener) StageSkipped(subjectID int64, stage, reason string) {
	log.Printf("[%d] %s: skipped (%s)", subjectID, stage, reason)
}

func (ConsoleListener) StageErrored(subjectID int64, stage string, err error) {
	log.Printf("[%d] %s: failed: %v", subjectID, stage, err)
}
