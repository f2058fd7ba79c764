// Package pipeline orchestrates the staged character voice pipeline:
// wiki fetch, quality gate, enrichment, LLM analysis, voice generation.
// Completed stages are cache-first; ForceRefresh re-runs them.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"charvox/internal/analyze"
	"charvox/internal/checksum"
	"charvox/internal/config"
	"charvox/internal/database"
	"charvox/internal/enrich"
	"charvox/internal/gate"
	"charvox/internal/llm"
	"charvox/internal/resilience"
	"charvox/internal/scrape"
	"charvox/internal/transcribe"
	"charvox/internal/voice"
)

// pipelineVersion tags derived profiles so a prompt change can
// invalidate old derivations.
const pipelineVersion = "v1"

// Scraper fetches raw wiki pages.
type Scraper interface {
	FetchRaw(ctx context.Context, pageID int64) (*scrape.Result, error)
	PageURL(pageID int64) string
}

// Enricher fetches optional structured character payloads.
type Enricher interface {
	IsConfigured() bool
	FetchEnrichment(ctx context.Context, subjectID int64) (json.RawMessage, error)
}

// Analyzer runs the LLM analysis stages.
type Analyzer interface {
	AnalyzeText(ctx context.Context, name, text string, enrichment json.RawMessage) (*analyze.TextAnalysis, error)
	AnalyzeVisual(ctx context.Context, name string, mediaURLs []string) (*analyze.VisualAnalysis, error)
	Synthesize(ctx context.Context, name string, text *analyze.TextAnalysis, visual *analyze.VisualAnalysis) (*analyze.Profile, error)
}

// VoiceGenerator produces candidate voice clips.
type VoiceGenerator interface {
	IsConfigured() bool
	GenerateClips(ctx context.Context, description, sampleText string, count int) ([]voice.Clip, error)
}

// Transcriber converts audio back to text.
type Transcriber interface {
	IsConfigured() bool
	Transcribe(ctx context.Context, audio []byte, filename string) (*transcribe.Result, error)
}

// Options tunes a single Process run.
type Options struct {
	ForceRefresh bool
}

// Orchestrator drives the pipeline for one or many subjects.
type Orchestrator struct {
	db         *database.DB
	scraper    Scraper
	enricher   Enricher
	analyzer   Analyzer
	voices     VoiceGenerator
	transcribe Transcriber

	fetchGuard *resilience.Controller
	genGuard   *resilience.Controller

	thresholds gate.Thresholds
	wikiRoot   string
	variants   int
	listener   Listener
}

// New creates an orchestrator with real collaborators from config.
// Fetches (wiki, enrichment) and generative calls (LLM, voice,
// transcription) run under separate guards so an analysis outage never
// trips the fetch breaker.
func New(cfg *config.Config, db *database.DB) *Orchestrator {
	provider := llm.CreateProvider(
		cfg.Analysis.Provider,
		cfg.Analysis.Model,
		cfg.Analysis.OllamaURL,
		cfg.Analysis.OpenAIModel,
		cfg.Analysis.APIKeyEnv,
	)

	var analyzer Analyzer
	if provider != nil {
		analyzer = analyze.NewAnalyzer(provider, cfg.Analysis.MaxTokens)
	}

	thresholds := gate.Thresholds{
		Diversity:       cfg.Gates.DiversityThreshold,
		MinGrowthRatio:  cfg.Gates.MinGrowthRatio,
		MinPayloadBytes: cfg.Gates.MinPayloadBytes,
		Confidence:      cfg.Analysis.ConfidenceThreshold,
	}

	return &Orchestrator{
		db:         db,
		scraper:    scrape.NewWikiScraper(cfg.Wiki.BaseURL, cfg.Wiki.UserAgent, 0),
		enricher:   enrich.NewClient(cfg.Enrichment.BaseURL, cfg.Enrichment.APIKeyEnv),
		analyzer:   analyzer,
		voices:     voice.NewClient(cfg.Voice.BaseURL, cfg.Voice.APIKeyEnv, cfg.Voice.Model),
		transcribe: transcribe.NewClient(transcriptionBaseURL(cfg), cfg.Transcription.APIKeyEnv, cfg.Transcription.Model),
		fetchGuard: resilience.NewController(guardConfig(cfg.Resilience.Fetch), resilience.NewState()),
		genGuard:   resilience.NewController(guardConfig(cfg.Resilience.Generative), resilience.NewState()),
		thresholds: thresholds,
		wikiRoot:   cfg.Wiki.BaseURL,
		variants:   cfg.Voice.Variants,
		listener:   NopListener{},
	}
}

// SetListener installs a lifecycle listener. Nil restores the no-op.
func (o *Orchestrator) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	o.listener = l
}

func guardConfig(g config.Guard) resilience.Config {
	cfg := resilience.DefaultConfig()
	if g.CallsPerSecond > 0 {
		cfg.MinInterval = time.Duration(float64(time.Second) / g.CallsPerSecond)
	}
	if g.MaxRetries >= 0 {
		cfg.MaxRetries = g.MaxRetries
	}
	if g.BreakerThreshold > 0 {
		cfg.BreakerThreshold = g.BreakerThreshold
	}
	if g.OpenSeconds > 0 {
		cfg.OpenDuration = time.Duration(g.OpenSeconds) * time.Second
	}
	return cfg
}

func transcriptionBaseURL(cfg *config.Config) string {
	if cfg.Transcription.BaseURL != "" {
		return cfg.Transcription.BaseURL
	}
	return "https://api.openai.com"
}

// Process runs the pipeline for one subject. Stage failures stop the
// run and are reported through the returned status, not as an error;
// only store failures propagate.
func (o *Orchestrator) Process(ctx context.Context, subjectID int64, opts Options) (*Status, error) {
	snapshot, stageErr, err := o.runWikiData(ctx, subjectID, opts)
	if err != nil {
		return nil, err
	}
	if stageErr != nil {
		return o.statusWithError(subjectID, stageErr)
	}

	snapshot, err = o.runEnrichment(ctx, subjectID, snapshot, opts)
	if err != nil {
		return nil, err
	}

	profile, stageErr, err := o.runProfile(ctx, subjectID, snapshot, opts)
	if err != nil {
		return nil, err
	}
	if stageErr != nil {
		return o.statusWithError(subjectID, stageErr)
	}

	if err := o.runVoiceGeneration(ctx, subjectID, snapshot, profile, opts); err != nil {
		return nil, err
	}

	return o.Status(subjectID)
}

// runWikiData fetches and validates the raw article. The returned
// stageErr is a pipeline-level failure; error is a store failure.
func (o *Orchestrator) runWikiData(ctx context.Context, subjectID int64, opts Options) (*database.RawSnapshot, error, error) {
	snapshot, err := o.db.GetRawSnapshot(subjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if snapshot != nil && snapshot.Success && !opts.ForceRefresh {
		o.listener.StageSkipped(subjectID, StageWikiData, "cached")
		return snapshot, nil, nil
	}

	o.listener.StageStarted(subjectID, StageWikiData)

	var result *scrape.Result
	fetchErr := o.fetchGuard.Execute(ctx, "wiki fetch", func(ctx context.Context) error {
		var err error
		result, err = o.scraper.FetchRaw(ctx, subjectID)
		return err
	})
	if fetchErr != nil {
		o.listener.StageErrored(subjectID, StageWikiData, fetchErr)
		// A subject is only created on first successful fetch; until
		// then the failure lives in the status alone.
		known, err := o.db.GetSubject(subjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("loading subject: %w", err)
		}
		if known != nil {
			msg := fetchErr.Error()
			if err := o.db.UpsertRawSnapshot(subjectID, "", nil, nil, nil, false, &msg); err != nil {
				return nil, nil, fmt.Errorf("recording failed fetch: %w", err)
			}
		}
		return nil, fetchErr, nil
	}

	verdict := gate.ValidateRaw(result.Text, result.FinalURL, o.wikiRoot, o.thresholds)
	if !verdict.OK {
		gateErr := fmt.Errorf("content rejected: %s", verdict.Reason)
		o.listener.StageErrored(subjectID, StageWikiData, gateErr)
		if err := o.db.EnsureSubject(subjectID, result.Name, result.Variant, &result.FinalURL); err != nil {
			return nil, nil, fmt.Errorf("saving subject: %w", err)
		}
		msg := gateErr.Error()
		if err := o.db.UpsertRawSnapshot(subjectID, "", nil, nil, nil, false, &msg); err != nil {
			return nil, nil, fmt.Errorf("recording rejected fetch: %w", err)
		}
		return nil, gateErr, nil
	}

	if err := o.db.EnsureSubject(subjectID, result.Name, result.Variant, &result.FinalURL); err != nil {
		return nil, nil, fmt.Errorf("saving subject: %w", err)
	}
	fingerprint := checksum.Sum(result.Text)
	if err := o.db.UpsertRawSnapshot(subjectID, result.Text, result.MediaURLs, nil, fingerprint, true, nil); err != nil {
		return nil, nil, fmt.Errorf("saving snapshot: %w", err)
	}

	o.listener.StageCompleted(subjectID, StageWikiData,
		fmt.Sprintf("%d chars, %d media refs (%s)", len(result.Text), len(result.MediaURLs), verdict.Reason))

	snapshot, err = o.db.GetRawSnapshot(subjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("reloading snapshot: %w", err)
	}
	return snapshot, nil, nil
}

// runEnrichment is advisory: failures are reported and the run
// continues. Payloads that don't improve on the stored one are dropped.
func (o *Orchestrator) runEnrichment(ctx context.Context, subjectID int64, snapshot *database.RawSnapshot, opts Options) (*database.RawSnapshot, error) {
	if o.enricher == nil || !o.enricher.IsConfigured() {
		o.listener.StageSkipped(subjectID, StageEnrichment, "not configured")
		return snapshot, nil
	}
	if len(snapshot.StructuredPayload) > 0 && !opts.ForceRefresh {
		o.listener.StageSkipped(subjectID, StageEnrichment, "cached")
		return snapshot, nil
	}

	o.listener.StageStarted(subjectID, StageEnrichment)

	var payload json.RawMessage
	err := o.fetchGuard.Execute(ctx, "enrichment fetch", func(ctx context.Context) error {
		var err error
		payload, err = o.enricher.FetchEnrichment(ctx, subjectID)
		return err
	})
	if err != nil {
		o.listener.StageErrored(subjectID, StageEnrichment, err)
		return snapshot, nil
	}

	verdict := gate.EnhancementSignificant(len(snapshot.StructuredPayload), len(payload), enrich.HasDialogue(payload), o.thresholds)
	if !verdict.OK {
		o.listener.StageSkipped(subjectID, StageEnrichment, verdict.Reason)
		return snapshot, nil
	}

	if err := o.db.UpsertRawSnapshot(subjectID, snapshot.Content, snapshot.MediaURLs, payload, snapshot.Fingerprint, true, nil); err != nil {
		return nil, fmt.Errorf("saving enrichment: %w", err)
	}
	o.listener.StageCompleted(subjectID, StageEnrichment,
		fmt.Sprintf("%d byte payload (%s)", len(payload), verdict.Reason))

	snapshot, err = o.db.GetRawSnapshot(subjectID)
	if err != nil {
		return nil, fmt.Errorf("reloading snapshot: %w", err)
	}
	return snapshot, nil
}

// runProfile runs text and visual analysis in parallel, joins them, and
// gates the result on confidence. One failed branch degrades the
// profile; both failing fails the stage.
func (o *Orchestrator) runProfile(ctx context.Context, subjectID int64, snapshot *database.RawSnapshot, opts Options) (*analyze.Profile, error, error) {
	existing, err := o.db.GetDerivedProfile(subjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading profile: %w", err)
	}
	if existing != nil && existing.PipelineVersion == pipelineVersion && !opts.ForceRefresh {
		o.listener.StageSkipped(subjectID, StageCharacterProfile, "cached")
		var profile analyze.Profile
		if err := json.Unmarshal(existing.Profile, &profile); err != nil {
			return nil, nil, fmt.Errorf("decoding stored profile: %w", err)
		}
		return &profile, nil, nil
	}

	if o.analyzer == nil {
		noLLM := fmt.Errorf("no LLM provider available")
		o.listener.StageErrored(subjectID, StageCharacterProfile, noLLM)
		return nil, noLLM, nil
	}

	o.listener.StageStarted(subjectID, StageCharacterProfile)

	subject, err := o.db.GetSubject(subjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading subject: %w", err)
	}
	name := subject.Name

	var (
		wg      sync.WaitGroup
		text    *analyze.TextAnalysis
		visual  *analyze.VisualAnalysis
		textErr error
		visErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		textErr = o.genGuard.Execute(ctx, "text analysis", func(ctx context.Context) error {
			var err error
			text, err = o.analyzer.AnalyzeText(ctx, name, snapshot.Content, snapshot.StructuredPayload)
			return err
		})
	}()
	go func() {
		defer wg.Done()
		if len(snapshot.MediaURLs) == 0 {
			visErr = fmt.Errorf("no media references")
			return
		}
		visErr = o.genGuard.Execute(ctx, "visual analysis", func(ctx context.Context) error {
			var err error
			visual, err = o.analyzer.AnalyzeVisual(ctx, name, snapshot.MediaURLs)
			return err
		})
	}()
	wg.Wait()

	if textErr != nil && visErr != nil {
		bothErr := fmt.Errorf("analysis failed: text: %v; visual: %v", textErr, visErr)
		o.listener.StageErrored(subjectID, StageCharacterProfile, bothErr)
		return nil, bothErr, nil
	}

	var profile *analyze.Profile
	synthErr := o.genGuard.Execute(ctx, "synthesis", func(ctx context.Context) error {
		var err error
		profile, err = o.analyzer.Synthesize(ctx, name, text, visual)
		return err
	})
	if synthErr != nil {
		o.listener.StageErrored(subjectID, StageCharacterProfile, synthErr)
		return nil, synthErr, nil
	}

	verdict := gate.AcceptConfidence(profile.Confidence, o.thresholds.Confidence)
	if !verdict.OK {
		gateErr := fmt.Errorf("profile rejected: %s", verdict.Reason)
		o.listener.StageErrored(subjectID, StageCharacterProfile, gateErr)
		return nil, gateErr, nil
	}

	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding profile: %w", err)
	}
	if err := o.db.UpsertDerivedProfile(subjectID, profileJSON, marshalOrNil(text), marshalOrNil(visual), pipelineVersion); err != nil {
		return nil, nil, fmt.Errorf("saving profile: %w", err)
	}

	summary := fmt.Sprintf("confidence %.2f", profile.Confidence)
	if profile.Degraded {
		summary += " (degraded: " + profile.DegradedReason + ")"
	}
	o.listener.StageCompleted(subjectID, StageCharacterProfile, summary)
	return profile, nil, nil
}

func (o *Orchestrator) runVoiceGeneration(ctx context.Context, subjectID int64, snapshot *database.RawSnapshot, profile *analyze.Profile, opts Options) error {
	artifacts, err := o.db.GetArtifactsForSubject(subjectID)
	if err != nil {
		return fmt.Errorf("loading artifacts: %w", err)
	}
	if len(artifacts) > 0 && !opts.ForceRefresh {
		o.listener.StageSkipped(subjectID, StageVoiceGeneration, "cached")
		return nil
	}
	if o.voices == nil || !o.voices.IsConfigured() {
		o.listener.StageSkipped(subjectID, StageVoiceGeneration, "not configured")
		return nil
	}

	verdict := gate.SufficientForVoice(profile != nil, profile.Confidence, o.thresholds.Confidence,
		len(snapshot.Content), len(snapshot.StructuredPayload) > 0)
	if !verdict.OK {
		o.listener.StageSkipped(subjectID, StageVoiceGeneration, verdict.Reason)
		return nil
	}

	o.listener.StageStarted(subjectID, StageVoiceGeneration)

	var clips []voice.Clip
	genErr := o.genGuard.Execute(ctx, "voice generation", func(ctx context.Context) error {
		var err error
		clips, err = o.voices.GenerateClips(ctx, profile.VoiceDescription, profile.SampleText, o.variants)
		return err
	})
	if genErr != nil {
		o.listener.StageErrored(subjectID, StageVoiceGeneration, genErr)
		return nil
	}

	for _, clip := range clips {
		// Clips are appended unselected; picking the representative one
		// is the operator's call.
		if _, err := o.db.CreateAudioArtifact(database.CreateArtifactParams{
			SubjectID:  subjectID,
			Prompt:     profile.VoiceDescription,
			SampleText: profile.SampleText,
			Provider:   "elevenlabs",
			Metadata:   clip.Metadata,
			Audio:      clip.Audio,
		}); err != nil {
			return fmt.Errorf("saving artifact: %w", err)
		}
	}

	o.listener.StageCompleted(subjectID, StageVoiceGeneration, fmt.Sprintf("%d clips", len(clips)))
	return nil
}

func marshalOrNil(v any) json.RawMessage {
	switch t := v.(type) {
	case *analyze.TextAnalysis:
		if t == nil {
			return nil
		}
	case *analyze.VisualAnalysis:
		if t == nil {
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
