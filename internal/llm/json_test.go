package llm

import (
	"testing"
)

func TestParseJSONResponsePlain(t *testing.T) {
	result := ParseJSONResponse(`{"key": "value", "num": 42}`)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
	if result["num"] != float64(42) {
		t.Errorf("expected num=42, got %v", result["num"])
	}
}

func TestParseJSONResponseWithCodeFence(t *testing.T) {
	text := "```json\n{\"key\": \"value\"}\n```"
	result := ParseJSONResponse(text)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONResponseWithProse(t *testing.T) {
	text := "Here is the profile you asked for:\n{\"key\": \"value\"}\nHope that helps!"
	result := ParseJSONResponse(text)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONResponseInvalid(t *testing.T) {
	if ParseJSONResponse("not json at all") != nil {
		t.Error("expected nil for invalid JSON")
	}
}

func TestParseJSONResponseEmpty(t *testing.T) {
	if ParseJSONResponse("") != nil {
		t.Error("expected nil for empty string")
	}
}

func TestDecodeJSONStruct(t *testing.T) {
	var parsed struct {
		Confidence float64 `json:"confidence"`
	}
	text := "```json\n{\"confidence\": 0.82}\n```"
	if err := DecodeJSON(text, &parsed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Confidence != 0.82 {
		t.Errorf("expected 0.82, got %v", parsed.Confidence)
	}
}
