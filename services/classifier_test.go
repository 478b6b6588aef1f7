package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		positive   bool
		confidence int
		accepted   bool
	}{
		{"clear yes", "YES. Confidence: 85%. A red door is visible.", true, 85, true},
		{"lowercase yes", "yes, about 72% sure", true, 72, true},
		{"threshold passes", "YES 60%", true, 60, true},
		{"just below threshold", "YES 59%", true, 59, false},
		{"no percentage defaults", "YES, that is a cat", true, 50, false},
		{"negative", "NO. 90% sure this is a dog.", false, 90, false},
		{"first percentage wins", "YES 12 cats, 64% then 99%", true, 64, true},
		{"decimal is not a percentage", "YES with 0.75 confidence", true, 50, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ParseVerdict(tt.text)
			assert.Equal(t, tt.positive, v.Positive)
			assert.Equal(t, tt.confidence, v.Confidence)
			assert.Equal(t, tt.accepted, v.Accepted())
		})
	}
}

func TestVerdictReason(t *testing.T) {
	assert.NoError(t, ParseVerdict("YES 90%").Reason())
	assert.ErrorIs(t, ParseVerdict("YES 10%").Reason(), ErrLowConfidence)
	assert.ErrorIs(t, ParseVerdict("NO 90%").Reason(), ErrNegativeVerdict)
}

func TestBuildInstruction(t *testing.T) {
	got := BuildInstruction("  Is there a red door?  ")
	assert.Contains(t, got, "Is there a red door?")
	assert.Contains(t, got, "YES or NO")
	assert.Contains(t, got, "percentage")
}

func TestVisionClassifier_Classify(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"YES 88%"}}]}`))
	}))
	defer srv.Close()

	c := NewVisionClassifier(srv.URL+"/", "k", "vision-model", 0, time.Second)
	text, err := c.Classify(context.Background(), "Is it red?", "data:image/jpeg;base64,AA==")
	require.NoError(t, err)
	assert.Equal(t, "YES 88%", text)

	assert.Equal(t, "vision-model", captured["model"])
	assert.EqualValues(t, 300, captured["max_tokens"])
	msgs := captured["messages"].([]any)
	parts := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
}

func TestVisionClassifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewVisionClassifier(srv.URL, "k", "m", 300, time.Second)
	_, err := c.Classify(context.Background(), "x", "data:,")
	assert.ErrorContains(t, err, "503")
}
