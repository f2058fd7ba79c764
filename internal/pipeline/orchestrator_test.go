package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"charvox/internal/analyze"
	"charvox/internal/database"
	"charvox/internal/gate"
	"charvox/internal/resilience"
	"charvox/internal/scrape"
	"charvox/internal/transcribe"
	"charvox/internal/voice"
)

const articleText = `Jin Harlow is a bounty hunter.
Personality
Laconic, dry-witted, strict personal code.
Appearance
Tall, grey duster, scar over the left eyebrow.`

type fakeScraper struct {
	mu     sync.Mutex
	result *scrape.Result
	err    error
	calls  int
}

func (f *fakeScraper) FetchRaw(_ context.Context, pageID int64) (*scrape.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeScraper) PageURL(pageID int64) string {
	return fmt.Sprintf("https://heroes.example.org/?curid=%d", pageID)
}

type fakeEnricher struct {
	configured bool
	payload    json.RawMessage
	err        error
	calls      int
}

func (f *fakeEnricher) IsConfigured() bool { return f.configured }

func (f *fakeEnricher) FetchEnrichment(context.Context, int64) (json.RawMessage, error) {
	f.calls++
	return f.payload, f.err
}

type fakeAnalyzer struct {
	mu        sync.Mutex
	text      *analyze.TextAnalysis
	visual    *analyze.VisualAnalysis
	profile   *analyze.Profile
	textErr   error
	visErr    error
	synthErr  error
	textCalls int
}

func (f *fakeAnalyzer) AnalyzeText(context.Context, string, string, json.RawMessage) (*analyze.TextAnalysis, error) {
	f.mu.Lock()
	f.textCalls++
	f.mu.Unlock()
	if f.textErr != nil {
		return nil, f.textErr
	}
	return f.text, nil
}

func (f *fakeAnalyzer) AnalyzeVisual(context.Context, string, []string) (*analyze.VisualAnalysis, error) {
	if f.visErr != nil {
		return nil, f.visErr
	}
	return f.visual, nil
}

func (f *fakeAnalyzer) Synthesize(_ context.Context, _ string, text *analyze.TextAnalysis, visual *analyze.VisualAnalysis) (*analyze.Profile, error) {
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	p := *f.profile
	if text == nil || visual == nil {
		p.Degraded = true
		p.DegradedReason = "partial analysis"
		p.Confidence /= 2
	}
	return &p, nil
}

type fakeVoices struct {
	configured bool
	count      int
	err        error
	calls      int
}

func (f *fakeVoices) IsConfigured() bool { return f.configured }

func (f *fakeVoices) GenerateClips(_ context.Context, _, _ string, count int) ([]voice.Clip, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	n := f.count
	if n == 0 {
		n = count
	}
	clips := make([]voice.Clip, n)
	for i := range clips {
		clips[i] = voice.Clip{Audio: []byte("audio"), Metadata: json.RawMessage(`{"i":1}`)}
	}
	return clips, nil
}

type fakeTranscriber struct {
	configured bool
	text       string
	err        error
}

func (f *fakeTranscriber) IsConfigured() bool { return f.configured }

func (f *fakeTranscriber) Transcribe(context.Context, []byte, string) (*transcribe.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &transcribe.Result{Text: f.text, Provider: "whisper"}, nil
}

// recorder asserts the per-stage event discipline: at most one started
// and exactly one terminal event per stage per run.
type recorder struct {
	started   map[string]int
	terminals map[string]int
	events    []string
}

func newRecorder() *recorder {
	return &recorder{started: map[string]int{}, terminals: map[string]int{}}
}

func (r *recorder) StageStarted(_ int64, stage string) {
	r.started[stage]++
	r.events = append(r.events, stage+":started")
}

func (r *recorder) StageCompleted(_ int64, stage, _ string) {
	r.terminals[stage]++
	r.events = append(r.events, stage+":completed")
}

func (r *recorder) StageSkipped(_ int64, stage, reason string) {
	r.terminals[stage]++
	r.events = append(r.events, stage+":skipped:"+reason)
}

func (r *recorder) StageErrored(_ int64, stage string, _ error) {
	r.terminals[stage]++
	r.events = append(r.events, stage+":errored")
}

func variantPtr(s string) *string { return &s }

func goodScrapeResult() *scrape.Result {
	return &scrape.Result{
		Name:      "Jin Harlow",
		Variant:   variantPtr("Earth-616"),
		FinalURL:  "https://heroes.example.org/?curid=42",
		Text:      articleText,
		MediaURLs: []string{"https://static.example.org/jin.png"},
	}
}

func fastGuard() *resilience.Controller {
	return resilience.NewController(resilience.Config{
		MinInterval:      0,
		MaxRetries:       0,
		BreakerThreshold: 100,
	}, resilience.NewState())
}

type testRig struct {
	orch     *Orchestrator
	db       *database.DB
	scraper  *fakeScraper
	enricher *fakeEnricher
	analyzer *fakeAnalyzer
	voices   *fakeVoices
	trans    *fakeTranscriber
	events   *recorder
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rig := &testRig{
		db:      db,
		scraper: &fakeScraper{result: goodScrapeResult()},
		enricher: &fakeEnricher{
			configured: true,
			payload:    json.RawMessage(`{"dialogue":["The contract is the contract."]}`),
		},
		analyzer: &fakeAnalyzer{
			text:    &analyze.TextAnalysis{SpeechStyle: "clipped", Confidence: 0.8},
			visual:  &analyze.VisualAnalysis{Build: "tall", Confidence: 0.7},
			profile: &analyze.Profile{VoiceDescription: "low and even", SampleText: "The contract is the contract.", Confidence: 0.82},
		},
		voices: &fakeVoices{configured: true},
		trans:  &fakeTranscriber{configured: true, text: "the contract is the contract"},
		events: newRecorder(),
	}
	rig.orch = &Orchestrator{
		db:         db,
		scraper:    rig.scraper,
		enricher:   rig.enricher,
		analyzer:   rig.analyzer,
		voices:     rig.voices,
		transcribe: rig.trans,
		fetchGuard: fastGuard(),
		genGuard:   fastGuard(),
		thresholds: gate.DefaultThresholds(),
		wikiRoot:   "https://heroes.example.org",
		variants:   3,
		listener:   rig.events,
	}
	return rig
}

func TestProcessColdCacheToSelection(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	status, err := rig.orch.Process(ctx, 42, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !status.Exists || status.Name != "Jin Harlow" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if !status.Stages.WikiData || !status.Stages.CharacterProfile || !status.Stages.VoiceGeneration {
		t.Errorf("expected first three stages done: %+v", status.Stages)
	}
	if status.Stages.VoiceSelection || status.Stages.Complete {
		t.Error("selection is operator-driven; must not be set by Process")
	}
	if status.Artifacts != 3 {
		t.Errorf("expected 3 artifacts, got %d", status.Artifacts)
	}
	if status.Confidence == nil || *status.Confidence != 0.82 {
		t.Errorf("expected confidence 0.82, got %v", status.Confidence)
	}

	artifacts, _ := rig.db.GetArtifactsForSubject(42)
	for _, a := range artifacts {
		if a.Selected {
			t.Error("generated clips must start unselected")
		}
	}

	if _, err := rig.orch.SelectArtifact(42, artifacts[0].ID); err != nil {
		t.Fatalf("selecting artifact: %v", err)
	}
	status, _ = rig.orch.Status(42)
	if !status.Stages.VoiceSelection || !status.Stages.Complete {
		t.Errorf("expected complete after selection: %+v", status.Stages)
	}

	if _, err := rig.orch.TranscribeSelected(ctx, 42); err != nil {
		t.Fatalf("transcribing: %v", err)
	}
	status, _ = rig.orch.Status(42)
	if !status.Stages.Transcription {
		t.Errorf("expected transcription recorded: %+v", status.Stages)
	}
}

func TestProcessSecondRunUsesCache(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if _, err := rig.orch.Process(ctx, 42, Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	textCallsAfterFirst := rig.analyzer.textCalls

	if _, err := rig.orch.Process(ctx, 42, Options{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if rig.scraper.calls != 1 {
		t.Errorf("expected cached fetch, got %d scraper calls", rig.scraper.calls)
	}
	if rig.analyzer.textCalls != textCallsAfterFirst {
		t.Error("expected cached profile, analysis re-ran")
	}
	if rig.voices.calls != 1 {
		t.Errorf("expected cached voice generation, got %d calls", rig.voices.calls)
	}
}

func TestProcessForceRefresh(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.orch.Process(ctx, 42, Options{})
	rig.orch.Process(ctx, 42, Options{ForceRefresh: true})

	if rig.scraper.calls != 2 {
		t.Errorf("expected refetch under force, got %d calls", rig.scraper.calls)
	}
	if rig.voices.calls != 2 {
		t.Errorf("expected regeneration under force, got %d calls", rig.voices.calls)
	}
}

func TestProcessFetchFailureUnknownSubject(t *testing.T) {
	rig := newTestRig(t)
	rig.scraper.err = fmt.Errorf("connection refused")

	status, err := rig.orch.Process(context.Background(), 42, Options{})
	if err != nil {
		t.Fatalf("stage failures must not surface as errors: %v", err)
	}
	if status.Exists {
		t.Error("failed first fetch must not create the subject")
	}
	if status.LastError == nil {
		t.Error("expected failure reported in status")
	}
	if snap, _ := rig.db.GetRawSnapshot(42); snap != nil {
		t.Error("failed first fetch must not leave a snapshot row")
	}
}

func TestProcessFetchFailureKnownSubject(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.orch.Process(ctx, 42, Options{})

	rig.scraper.err = fmt.Errorf("connection refused")
	status, err := rig.orch.Process(ctx, 42, Options{ForceRefresh: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Exists {
		t.Error("known subject must survive a failed refresh")
	}
	snap, _ := rig.db.GetRawSnapshot(42)
	if snap == nil || snap.Success {
		t.Error("expected failure snapshot recorded for known subject")
	}
	if status.LastError == nil || !strings.Contains(*status.LastError, "connection refused") {
		t.Errorf("expected fetch error in status, got %v", status.LastError)
	}
}

func TestProcessGateRejectsGarbage(t *testing.T) {
	rig := newTestRig(t)
	rig.scraper.result.Text = "Jin Harlow may refer to:\nJin Harlow (Earth-616)\nJin Harlow (young)"

	status, err := rig.orch.Process(context.Background(), 42, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Stages.WikiData {
		t.Error("rejected content must not count as wiki data")
	}
	if status.LastError == nil || !strings.Contains(*status.LastError, "rejected") {
		t.Errorf("expected rejection reason in status, got %v", status.LastError)
	}
	if rig.analyzer.textCalls != 0 {
		t.Error("rejected content must stop the run before analysis")
	}
}

func TestProcessDegradedOnVisualFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.analyzer.visErr = fmt.Errorf("vision model unavailable")
	rig.analyzer.profile.Confidence = 1.4 // halves to 0.7 when degraded
	rig.orch.thresholds.Confidence = 0.6

	status, err := rig.orch.Process(context.Background(), 42, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Stages.CharacterProfile {
		t.Fatalf("expected degraded profile stored: %+v", status)
	}
	if !status.Degraded {
		t.Error("expected degraded flag on status")
	}
}

func TestProcessBothAnalysesFail(t *testing.T) {
	rig := newTestRig(t)
	rig.analyzer.textErr = fmt.Errorf("llm down")
	rig.analyzer.visErr = fmt.Errorf("llm down")

	status, err := rig.orch.Process(context.Background(), 42, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Stages.CharacterProfile {
		t.Error("expected no profile when both analyses fail")
	}
	if status.Artifacts != 0 {
		t.Error("voice generation must not run without a profile")
	}
}

func TestProcessConfidenceGate(t *testing.T) {
	rig := newTestRig(t)
	rig.analyzer.profile.Confidence = 0.4

	status, err := rig.orch.Process(context.Background(), 42, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Stages.CharacterProfile {
		t.Error("low-confidence profile must not be stored")
	}
	if p, _ := rig.db.GetDerivedProfile(42); p != nil {
		t.Error("expected no profile row below the confidence threshold")
	}
	if status.Artifacts != 0 {
		t.Error("no artifacts expected after a rejected profile")
	}
}

func TestProcessVoiceNotConfigured(t *testing.T) {
	rig := newTestRig(t)
	rig.voices.configured = false

	status, err := rig.orch.Process(context.Background(), 42, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Stages.CharacterProfile {
		t.Error("profile stage must still run")
	}
	if status.Stages.VoiceGeneration || status.Artifacts != 0 {
		t.Error("expected voice generation skipped without credentials")
	}
}

func TestProcessEnrichmentAdvisory(t *testing.T) {
	rig := newTestRig(t)
	rig.enricher.err = fmt.Errorf("enrichment api down")

	status, err := rig.orch.Process(context.Background(), 42, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Stages.CharacterProfile || !status.Stages.VoiceGeneration {
		t.Errorf("enrichment failure must not block the run: %+v", status.Stages)
	}
}

func TestProcessEnrichmentStored(t *testing.T) {
	rig := newTestRig(t)

	if _, err := rig.orch.Process(context.Background(), 42, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, _ := rig.db.GetRawSnapshot(42)
	if len(snap.StructuredPayload) == 0 {
		t.Error("expected enrichment payload stored with the snapshot")
	}
}

func TestEventDiscipline(t *testing.T) {
	rig := newTestRig(t)

	if _, err := rig.orch.Process(context.Background(), 42, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stages := []string{StageWikiData, StageEnrichment, StageCharacterProfile, StageVoiceGeneration}
	for _, stage := range stages {
		if rig.events.started[stage] > 1 {
			t.Errorf("%s: expected at most one started, got %d", stage, rig.events.started[stage])
		}
		if rig.events.terminals[stage] != 1 {
			t.Errorf("%s: expected exactly one terminal event, got %d (events: %v)",
				stage, rig.events.terminals[stage], rig.events.events)
		}
	}
}

func TestProcessCircuitOpenFailFast(t *testing.T) {
	rig := newTestRig(t)
	rig.orch.fetchGuard = resilience.NewController(resilience.Config{
		MaxRetries:       0,
		BreakerThreshold: 1,
		OpenDuration:     time.Hour,
	}, resilience.NewState())
	rig.scraper.err = fmt.Errorf("connection refused")

	ctx := context.Background()
	rig.orch.Process(ctx, 42, Options{})
	callsAfterFirst := rig.scraper.calls

	status, err := rig.orch.Process(ctx, 43, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rig.scraper.calls != callsAfterFirst {
		t.Error("open breaker must fail fast without calling the scraper")
	}
	if status.LastError == nil || !strings.Contains(*status.LastError, "circuit breaker open") {
		t.Errorf("expected circuit-open error in status, got %v", status.LastError)
	}
}

func TestProcessAllContinuesPastFailures(t *testing.T) {
	rig := newTestRig(t)
	failFirst := true
	base := rig.scraper
	rig.orch.scraper = scraperFunc(func(ctx context.Context, pageID int64) (*scrape.Result, error) {
		if pageID == 1 && failFirst {
			return nil, fmt.Errorf("boom")
		}
		return base.FetchRaw(ctx, pageID)
	})

	results := rig.orch.ProcessAll(context.Background(), []int64{1, 42}, Options{})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status == nil || results[0].Status.LastError == nil {
		t.Error("expected recorded failure for first subject")
	}
	if results[1].Status == nil || !results[1].Status.Stages.VoiceGeneration {
		t.Error("expected second subject fully processed")
	}
}

type scraperFunc func(ctx context.Context, pageID int64) (*scrape.Result, error)

func (f scraperFunc) FetchRaw(ctx context.Context, pageID int64) (*scrape.Result, error) {
	return f(ctx, pageID)
}

func (f scraperFunc) PageURL(pageID int64) string {
	return fmt.Sprintf("https://heroes.example.org/?curid=%d", pageID)
}

func TestSelectArtifactWrongSubject(t *testing.T) {
	rig := newTestRig(t)
	rig.orch.Process(context.Background(), 42, Options{})
	artifacts, _ := rig.db.GetArtifactsForSubject(42)

	if _, err := rig.orch.SelectArtifact(999, artifacts[0].ID); err == nil {
		t.Error("expected error selecting an artifact for the wrong subject")
	}
}

func TestTranscribeSelectedRequiresSelection(t *testing.T) {
	rig := newTestRig(t)
	rig.orch.Process(context.Background(), 42, Options{})

	if _, err := rig.orch.TranscribeSelected(context.Background(), 42); err == nil {
		t.Error("expected error without a selected artifact")
	}
}
