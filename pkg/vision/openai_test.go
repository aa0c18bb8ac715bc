package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nutri-snap-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_Infer(t *testing.T) {
	var got chatRequest
	var rawReq map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		dec := json.NewDecoder(r.Body)
		assert.NoError(t, dec.Decode(&rawReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"items\":[]}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(config.InferenceConfig{
		BaseURL:     srv.URL + "/v1/",
		APIKey:      "sk-test",
		Model:       "gpt-4o-mini",
		Temperature: 0.1,
		MaxTokens:   512,
	})
	out, err := c.Infer(context.Background(), []byte{0xff, 0xd8}, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, out)

	b, _ := json.Marshal(rawReq)
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 0.1, got.Temperature)
	assert.Equal(t, 512, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, NutritionPrompt, got.Messages[0].Content)
	assert.Contains(t, string(b), "data:image/jpeg;base64,/9g=")
	assert.Contains(t, string(b), `"json_object"`)
}

func TestOpenAIClient_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient(config.InferenceConfig{BaseURL: srv.URL})
	_, err := c.Infer(context.Background(), []byte("x"), "image/png")
	require.ErrorIs(t, err, ErrInference)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(config.InferenceConfig{BaseURL: srv.URL})
	_, err := c.Infer(context.Background(), []byte("x"), "image/png")
	require.ErrorIs(t, err, ErrInference)
}

func TestOpenAIClient_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewOpenAIClient(config.InferenceConfig{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Infer(ctx, []byte("x"), "image/png")
	require.ErrorIs(t, err, ErrInference)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline"))
}
