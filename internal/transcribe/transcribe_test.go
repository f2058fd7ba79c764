package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"charvox/internal/resilience"
)

func testClient(baseURL string) *Client {
	c := NewClient(baseURL, "CHARVOX_TEST_UNSET", "whisper-1")
	c.apiKey = "test-key"
	return c
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.FormValue("model") != "whisper-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file.Close()
		fmt.Fprint(w, `{"text":" The contract is the contract. "}`)
	}))
	defer srv.Close()

	result, err := testClient(srv.URL).Transcribe(context.Background(), []byte("audio"), "clip.mp3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "The contract is the contract." {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if result.Provider != "whisper" {
		t.Errorf("unexpected provider: %q", result.Provider)
	}
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Transcribe(context.Background(), []byte("audio"), "")
	var statusErr *resilience.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if !resilience.Transient(err) {
		t.Error("503 must classify as transient")
	}
}

func TestTranscribeEmptyAudio(t *testing.T) {
	if _, err := testClient("http://localhost").Transcribe(context.Background(), nil, ""); err == nil {
		t.Error("expected error for empty audio")
	}
}
