package config

import (
	"testing"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := parse([]byte(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Analysis.Provider != "ollama" {
		t.Errorf("expected default provider ollama, got %q", cfg.Analysis.Provider)
	}
	if cfg.Analysis.ConfidenceThreshold != 0.6 {
		t.Errorf("expected default confidence threshold 0.6, got %v", cfg.Analysis.ConfidenceThreshold)
	}
	if cfg.Voice.Variants != 3 {
		t.Errorf("expected 3 voice variants, got %d", cfg.Voice.Variants)
	}
	if cfg.Resilience.Generative.BreakerThreshold != 5 {
		t.Errorf("expected breaker threshold 5, got %d", cfg.Resilience.Generative.BreakerThreshold)
	}
	if cfg.Gates.DiversityThreshold != 0.3 {
		t.Errorf("expected diversity threshold 0.3, got %v", cfg.Gates.DiversityThreshold)
	}
}

func TestParseOverrides(t *testing.T) {
	yaml := `
wiki:
  base_url: https://heroes.example.org
analysis:
  provider: openai
  confidence_threshold: 0.7
voice:
  variants: 5
resilience:
  generative:
    breaker_threshold: 2
    open_seconds: 10
`
	cfg, err := parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Wiki.BaseURL != "https://heroes.example.org" {
		t.Errorf("unexpected base_url: %q", cfg.Wiki.BaseURL)
	}
	if cfg.Analysis.Provider != "openai" {
		t.Errorf("expected openai, got %q", cfg.Analysis.Provider)
	}
	if cfg.Analysis.ConfidenceThreshold != 0.7 {
		t.Errorf("expected 0.7, got %v", cfg.Analysis.ConfidenceThreshold)
	}
	if cfg.Voice.Variants != 5 {
		t.Errorf("expected 5 variants, got %d", cfg.Voice.Variants)
	}
	if cfg.Resilience.Generative.BreakerThreshold != 2 {
		t.Errorf("expected breaker threshold 2, got %d", cfg.Resilience.Generative.BreakerThreshold)
	}
	// Untouched sections keep defaults.
	if cfg.Analysis.Model != "qwen2.5:7b" {
		t.Errorf("expected default model to survive, got %q", cfg.Analysis.Model)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := parse([]byte("wiki: [not a map")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestDefaultConfigYAMLParses(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("embedded default config should parse: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
}
