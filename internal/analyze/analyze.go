// Package analyze derives a character voice profile from raw wiki text
// and media references using an LLM provider. Text and visual analysis
// run independently; Synthesize joins them into the final profile.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"charvox/internal/llm"
)

// maxSourceChars caps how much article text is embedded in a prompt.
const maxSourceChars = 12000

// TextAnalysis is the structured result of the textual pass.
type TextAnalysis struct {
	Personality []string `json:"personality"`
	SpeechStyle string   `json:"speech_style"`
	Age         string   `json:"age"`
	Gender      string   `json:"gender"`
	Accent      string   `json:"accent"`
	Quotes      []string `json:"quotes"`
	Confidence  float64  `json:"confidence"`
}

// VisualAnalysis is the structured result of the visual pass.
type VisualAnalysis struct {
	Build           string   `json:"build"`
	ApparentAge     string   `json:"apparent_age"`
	Demeanor        string   `json:"demeanor"`
	NotableFeatures []string `json:"notable_features"`
	Confidence      float64  `json:"confidence"`
}

// Profile is the synthesized voice profile stored as the subject's
// derived profile.
type Profile struct {
	VoiceDescription string   `json:"voice_description"`
	SampleText       string   `json:"sample_text"`
	Summary          string   `json:"summary"`
	Traits           []string `json:"traits"`
	Confidence       float64  `json:"confidence"`
	Degraded         bool     `json:"degraded,omitempty"`
	DegradedReason   string   `json:"degraded_reason,omitempty"`
}

const textAnalysisPrompt = `You are analyzing a fictional character's wiki article to
describe how the character would sound when speaking.

Article about %s:
---
%s
---
%s
Respond with ONLY a JSON object, no other text:
{
  "personality": ["3-6 short personality traits"],
  "speech_style": "how the character talks: pace, register, verbal tics",
  "age": "apparent or stated age, or 'unknown'",
  "gender": "stated or implied gender, or 'unknown'",
  "accent": "accent or dialect if any, or 'neutral'",
  "quotes": ["up to 3 short representative quotes from the article, or []"],
  "confidence": 0.0-1.0 how well the article supports these conclusions
}`

const visualAnalysisPrompt = `You are inferring physical presence from a fictional
character's portrait and infobox imagery. The images are referenced by URL;
reason from the article context and typical depictions.

Character: %s
Image references:
%s

Respond with ONLY a JSON object, no other text:
{
  "build": "physical build",
  "apparent_age": "apparent age range",
  "demeanor": "visual demeanor and bearing",
  "notable_features": ["up to 4 notable visual features"],
  "confidence": 0.0-1.0
}`

const synthesisPrompt = `Combine the two analyses below into one voice profile for
casting a synthetic voice of the fictional character %s.

Text analysis:
%s

Visual analysis:
%s

Respond with ONLY a JSON object, no other text:
{
  "voice_description": "2-3 sentences describing the target voice: age, tone, pace, accent, texture",
  "sample_text": "2-3 sentences of in-character dialogue suitable for a voice test",
  "summary": "one-paragraph character summary in markdown",
  "traits": ["3-6 defining traits"],
  "confidence": 0.0-1.0 combined confidence
}`

// Analyzer runs the LLM analysis stages.
type Analyzer struct {
	provider  llm.Provider
	maxTokens int
}

// NewAnalyzer creates an analyzer on top of an LLM provider.
func NewAnalyzer(provider llm.Provider, maxTokens int) *Analyzer {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Analyzer{provider: provider, maxTokens: maxTokens}
}

// AnalyzeText runs the textual pass over the article text. The optional
// enrichment payload is appended as supplementary context.
func (a *Analyzer) AnalyzeText(ctx context.Context, name, text string, enrichment json.RawMessage) (*TextAnalysis, error) {
	extra := ""
	if len(enrichment) > 0 {
		extra = fmt.Sprintf("Supplementary structured data:\n%s\n\n", truncate(string(enrichment), 4000))
	}
	prompt := fmt.Sprintf(textAnalysisPrompt, name, truncate(text, maxSourceChars), extra)

	response, err := a.provider.Generate(ctx, prompt, a.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("text analysis: %w", err)
	}

	var result TextAnalysis
	if err := llm.DecodeJSON(response, &result); err != nil {
		return nil, fmt.Errorf("parsing text analysis: %w", err)
	}
	result.Confidence = clamp01(result.Confidence)
	return &result, nil
}

// AnalyzeVisual runs the visual pass over the page's media references.
func (a *Analyzer) AnalyzeVisual(ctx context.Context, name string, mediaURLs []string) (*VisualAnalysis, error) {
	if len(mediaURLs) == 0 {
		return nil, fmt.Errorf("no media references for %s", name)
	}
	prompt := fmt.Sprintf(visualAnalysisPrompt, name, "- "+strings.Join(mediaURLs, "\n- "))

	response, err := a.provider.Generate(ctx, prompt, a.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("visual analysis: %w", err)
	}

	var result VisualAnalysis
	if err := llm.DecodeJSON(response, &result); err != nil {
		return nil, fmt.Errorf("parsing visual analysis: %w", err)
	}
	result.Confidence = clamp01(result.Confidence)
	return &result, nil
}

// Synthesize joins the two analyses into the final profile. Either
// analysis may be nil; the profile is then marked degraded and its
// confidence halved. At least one analysis must be present.
func (a *Analyzer) Synthesize(ctx context.Context, name string, text *TextAnalysis, visual *VisualAnalysis) (*Profile, error) {
	if text == nil && visual == nil {
		return nil, fmt.Errorf("nothing to synthesize for %s", name)
	}

	prompt := fmt.Sprintf(synthesisPrompt, name, analysisJSON(text), analysisJSON(visual))
	response, err := a.provider.Generate(ctx, prompt, a.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}

	var profile Profile
	if err := llm.DecodeJSON(response, &profile); err != nil {
		return nil, fmt.Errorf("parsing synthesis: %w", err)
	}
	profile.Confidence = clamp01(profile.Confidence)

	switch {
	case text == nil:
		profile.Degraded = true
		profile.DegradedReason = "text analysis unavailable"
		profile.Confidence = profile.Confidence / 2
	case visual == nil:
		profile.Degraded = true
		profile.DegradedReason = "visual analysis unavailable"
		profile.Confidence = profile.Confidence / 2
	}
	return &profile, nil
}

func analysisJSON(v any) string {
	switch t := v.(type) {
	case *TextAnalysis:
		if t == nil {
			return "(unavailable)"
		}
	case *VisualAnalysis:
		if t == nil {
			return "(unavailable)"
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "(unavailable)"
	}
	return string(data)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
