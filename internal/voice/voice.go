// Package voice generates candidate voice clips for a character profile
// via an ElevenLabs-style voice-design API.
package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"charvox/internal/resilience"
)

// Clip is one generated voice candidate.
type Clip struct {
	Audio    []byte
	Metadata json.RawMessage
}

// Client talks to the voice-design API.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewClient creates a voice client reading its key from the given
// environment variable.
func NewClient(baseURL, apiKeyEnv, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  os.Getenv(apiKeyEnv),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured reports whether the API credential is present.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

type previewResponse struct {
	Previews []struct {
		AudioBase64      string `json:"audio_base_64"`
		GeneratedVoiceID string `json:"generated_voice_id"`
		MediaType        string `json:"media_type"`
		DurationSecs     any    `json:"duration_secs"`
	} `json:"previews"`
}

// GenerateClips asks the API for voice previews matching the
// description, speaking the sample text. Up to count clips are
// returned; the API may produce fewer.
func (c *Client) GenerateClips(ctx context.Context, description, sampleText string, count int) ([]Clip, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("voice API key not configured")
	}
	if count <= 0 {
		count = 3
	}

	payload := map[string]any{
		"voice_description": description,
		"text":              sampleText,
	}
	if c.model != "" {
		payload["model_id"] = c.model
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling voice request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/text-to-voice/create-previews", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice generation: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading voice response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var parsed previewResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding voice response: %w", err)
	}
	if len(parsed.Previews) == 0 {
		return nil, fmt.Errorf("voice API returned no previews")
	}

	var clips []Clip
	for _, p := range parsed.Previews {
		if len(clips) >= count {
			break
		}
		audio, err := base64.StdEncoding.DecodeString(p.AudioBase64)
		if err != nil || len(audio) == 0 {
			continue
		}
		meta, _ := json.Marshal(map[string]any{
			"generated_voice_id": p.GeneratedVoiceID,
			"media_type":         p.MediaType,
			"duration_secs":      p.DurationSecs,
		})
		clips = append(clips, Clip{Audio: audio, Metadata: meta})
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("voice API previews were not decodable")
	}
	return clips, nil
}
