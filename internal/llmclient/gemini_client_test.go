package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applyflow/api/schemas"
	"github.com/xkilldash9x/applyflow/internal/config"
)

func geminiSuccessBody(text string) string {
	body := map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"parts": []map[string]string{{"text": text}},
					"role":  "model",
				},
				"finishReason": "STOP",
			},
		},
		"usageMetadata": map[string]int{
			"promptTokenCount":     10,
			"candidatesTokenCount": 5,
			"totalTokenCount":      15,
		},
	}
	b, _ := json.Marshal(body)
	return string(b)
}

func newTestClient(t *testing.T, endpoint string) *GeminiClient {
	t.Helper()
	client, err := NewGeminiClient(config.LLMConfig{
		Provider:   config.ProviderGemini,
		Model:      "gemini-2.5-flash",
		APIKey:     "test-key",
		Endpoint:   endpoint,
		APITimeout: 5 * time.Second,
		MaxTokens:  1024,
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(config.LLMConfig{Model: "gemini-2.5-flash"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API Key")
}

func TestGenerateResponseSuccess(t *testing.T) {
	var gotPayload geminiRequestPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(geminiSuccessBody(`{"ok": true}`)))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	out, err := client.GenerateResponse(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "you map forms",
		UserPrompt:   "map these fields",
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)

	require.NotNil(t, gotPayload.SystemInstruction)
	assert.Equal(t, "you map forms", gotPayload.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "application/json", gotPayload.GenerationConfig.ResponseMimeType)
}

func TestGenerateResponseRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(geminiSuccessBody("recovered")))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	out, err := client.GenerateResponse(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestGenerateResponsePermanentError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "bad request"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GenerateResponse(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "permanent errors must not be retried")
}

func TestGenerateResponseBlockedBySafety(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := `{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GenerateResponse(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestFactoryRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Provider: "openai"}, zap.NewNop())
	require.Error(t, err)

	c, err := NewClient(config.LLMConfig{Provider: config.ProviderGemini, APIKey: "k", Model: "m"}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, c)
}
