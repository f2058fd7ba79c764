// Package transcribe converts a selected voice clip back to text via a
// whisper-style transcription API, closing the loop on what the
// generated voice actually says.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"charvox/internal/resilience"
)

// Result is one transcription of an audio clip.
type Result struct {
	Text     string
	Provider string
	Metadata json.RawMessage
}

// Client talks to the transcription API.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewClient creates a transcription client reading its key from the
// given environment variable.
func NewClient(baseURL, apiKeyEnv, model string) *Client {
	if model == "" {
		model = "whisper-1"
	}
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

// Transcribe sends audio bytes to the API and returns the recognized
// text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (*Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("transcription API key not configured")
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio to transcribe")
	}
	if filename == "" {
		filename = "clip.mp3"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	writer.WriteField("model", c.model)
	writer.WriteField("response_format", "json")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding transcription response: %w", err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return nil, fmt.Errorf("transcription returned empty text")
	}

	meta, _ := json.Marshal(map[string]string{"model": c.model})
	return &Result{
		Text:     strings.TrimSpace(parsed.Text),
		Provider: "whisper",
		Metadata: meta,
	}, nil
}
