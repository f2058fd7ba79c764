// Package enrich fetches structured character payloads from an optional
// fan-content API. Without a credential the pipeline skips the stage.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"charvox/internal/resilience"
)

// Client talks to the structured character API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a client reading its key from the given environment
// variable.
func NewClient(baseURL, apiKeyEnv string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  os.Getenv(apiKeyEnv),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured reports whether both endpoint and credential are present.
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// FetchEnrichment returns the structured payload for a subject.
func (c *Client) FetchEnrichment(ctx context.Context, subjectID int64) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/v1/characters/%d", c.baseURL, subjectID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrichment fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading enrichment response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("enrichment response is not valid JSON")
	}
	return json.RawMessage(body), nil
}

// HasDialogue reports whether the payload carries sample dialogue lines,
// the highest-value field for voice generation.
func HasDialogue(payload json.RawMessage) bool {
	if len(payload) == 0 {
		return false
	}
	var probe struct {
		Dialogue []string `json:"dialogue"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	for _, line := range probe.Dialogue {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}
