package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestWordWrap(t *testing.T) {
	tests := []struct {
		name  string
		input string
		width int
		want  string
	}{
		{
			name:  "No wrap needed",
			input: "Hello World",
			width: 20,
			want:  "Hello World",
		},
		{
			name:  "Simple wrap",
			input: "Hello World",
			width: 5,
			want:  "Hello\nWorld",
		},
		{
			name:  "Long word preserved",
			input: "Hello Superextralongword World",
			width: 10,
			want:  "Hello\nSuperextralongword\nWorld",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WordWrap(tt.input, tt.width); got != tt.want {
				t.Errorf("WordWrap() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateParagraphs(t *testing.T) {
	input := "Write a quiz.\n" + GroundingStart + "\nA very long line of lesson text\n\nshort\n" + GroundingEnd + "\nA very long line outside"
	want := "Write a quiz.\n" + GroundingStart + "\nA very...\nshort\n" + GroundingEnd + "\nA very long line outside"
	if got := TruncateParagraphs(input, 6); got != want {
		t.Errorf("TruncateParagraphs() = %q, want %q", got, want)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		quota, unrecv bool
	}{
		{"429", &BackendError{Backend: "gemini", Status: 429, Err: errors.New("rate")}, true, false},
		{"ResourceExhausted", fmt.Errorf("wrapped: %w", errors.New("RESOURCE_EXHAUSTED")), true, false},
		{"401", &BackendError{Backend: "openai", Status: 401, Err: errors.New("nope")}, false, true},
		{"InvalidKey", errors.New("API_KEY_INVALID"), false, true},
		{"500", &BackendError{Backend: "openai", Status: 500, Err: errors.New("boom")}, false, false},
		{"Nil", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsQuotaError(tt.err); got != tt.quota {
				t.Errorf("IsQuotaError = %v, want %v", got, tt.quota)
			}
			if got := IsUnrecoverable(tt.err); got != tt.unrecv {
				t.Errorf("IsUnrecoverable = %v, want %v", got, tt.unrecv)
			}
		})
	}
}

func TestCategoryContext(t *testing.T) {
	ctx := context.Background()
	if CategoryFrom(ctx) != "" {
		t.Error("expected empty category")
	}
	ctx = WithCategory(ctx, "mathematics")
	if got := CategoryFrom(ctx); got != "mathematics" {
		t.Errorf("CategoryFrom = %q", got)
	}
}
