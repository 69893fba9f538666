package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solvegate/internal/provider"
)

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "The answer "}, {"text": "is 4."}]}}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15},
			"modelVersion": "gemini-test-001"
		}`))
	}))
	defer srv.Close()

	p, err := New(context.Background(), Config{APIKey: "key", Model: "gemini-test", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), provider.Request{
		Subject:   "math",
		Question:  "2+2?",
		Image:     &provider.Image{MimeType: "image/jpeg", Data: []byte("img")},
		MaxTokens: 128,
	})
	require.NoError(t, err)
	assert.Equal(t, "The answer is 4.", resp.Text)
	assert.Equal(t, 15, resp.TokensUsed)
	assert.Equal(t, "gemini-test-001", resp.Model)
	assert.Equal(t, "gemini", p.Name())

	require.NotNil(t, body)
	assert.Contains(t, body, "systemInstruction")
	gen, ok := body["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 128, gen["maxOutputTokens"])
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"code": 500, "message": "boom", "status": "INTERNAL"}}`))
	}))
	defer srv.Close()

	p, err := New(context.Background(), Config{APIKey: "key", Model: "gemini-test", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), provider.Request{Question: "q"})
	assert.ErrorIs(t, err, provider.ErrUpstream)
}
