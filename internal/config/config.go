package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Wiki          Wiki          `yaml:"wiki"`
	Enrichment    Enrichment    `yaml:"enrichment"`
	Analysis      Analysis      `yaml:"analysis"`
	Voice         Voice         `yaml:"voice"`
	Transcription Transcription `yaml:"transcription"`
	Resilience    Resilience    `yaml:"resilience"`
	Gates         Gates         `yaml:"gates"`
	Output        Output        `yaml:"output"`
	Server        Server        `yaml:"server"`
	Logging       Logging       `yaml:"logging"`
}

type Wiki struct {
	BaseURL   string `yaml:"base_url"`
	FeedURL   string `yaml:"feed_url"`
	UserAgent string `yaml:"user_agent"`
}

type Enrichment struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type Analysis struct {
	Provider            string  `yaml:"provider"`
	Model               string  `yaml:"model"`
	OllamaURL           string  `yaml:"ollama_url"`
	OpenAIModel         string  `yaml:"openai_model"`
	APIKeyEnv           string  `yaml:"api_key_env"`
	MaxTokens           int     `yaml:"max_tokens"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

type Voice struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	Variants  int    `yaml:"variants"`
}

type Transcription struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// Resilience tunes the guards for the two collaborator classes: wiki/API
// fetches and generative calls.
type Resilience struct {
	Fetch      Guard `yaml:"fetch"`
	Generative Guard `yaml:"generative"`
}

type Guard struct {
	CallsPerSecond   float64 `yaml:"calls_per_second"`
	MaxRetries       int     `yaml:"max_retries"`
	BreakerThreshold int     `yaml:"breaker_threshold"`
	OpenSeconds      int     `yaml:"open_seconds"`
}

type Gates struct {
	DiversityThreshold float64 `yaml:"diversity_threshold"`
	MinGrowthRatio     float64 `yaml:"min_growth_ratio"`
	MinPayloadBytes    int     `yaml:"min_payload_bytes"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for charvox.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "charvox")
}

// DataDir returns the XDG data directory for charvox.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "charvox")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/charvox/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'charvox init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Wiki: Wiki{
			BaseURL:   "https://characters.fandom.com",
			UserAgent: "charvox/1.0 (character pipeline)",
		},
		Enrichment: Enrichment{
			APIKeyEnv: "CHARVOX_ENRICHMENT_KEY",
		},
		Analysis: Analysis{
			Provider:            "ollama",
			Model:               "qwen2.5:7b",
			OllamaURL:           "http://localhost:11434",
			OpenAIModel:         "gpt-4o-mini",
			APIKeyEnv:           "OPENAI_API_KEY",
			MaxTokens:           1024,
			ConfidenceThreshold: 0.6,
		},
		Voice: Voice{
			BaseURL:   "https://api.elevenlabs.io",
			APIKeyEnv: "ELEVENLABS_API_KEY",
			Model:     "eleven_multilingual_v2",
			Variants:  3,
		},
		Transcription: Transcription{
			APIKeyEnv: "OPENAI_API_KEY",
			Model:     "whisper-1",
		},
		Resilience: Resilience{
			Fetch: Guard{
				CallsPerSecond:   2,
				MaxRetries:       3,
				BreakerThreshold: 5,
				OpenSeconds:      60,
			},
			Generative: Guard{
				CallsPerSecond:   1,
				MaxRetries:       3,
				BreakerThreshold: 5,
				OpenSeconds:      60,
			},
		},
		Gates: Gates{
			DiversityThreshold: 0.3,
			MinGrowthRatio:     1.2,
			MinPayloadBytes:    2048,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
