package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Messages, 2)

		w.WriteHeader(status)
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		_ = sonic.ConfigDefault.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAISuggester_Suggest(t *testing.T) {
	srv := newTestServer(t, http.StatusOK,
		`{"category":"Coding","productive":true,"confidence":0.92,"rationale":"IDE session"}`)
	defer srv.Close()

	s := NewOpenAISuggester("sk-test", WithEndpoint(srv.URL), WithModel("test-model"))
	got, err := s.Suggest(context.Background(), "Visual Studio Code", "main.go", "")
	require.NoError(t, err)
	assert.Equal(t, "Coding", got.Category)
	assert.True(t, got.Productive)
	assert.Equal(t, 0.92, got.Confidence)
}

func TestOpenAISuggester_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewOpenAISuggester("sk-test", WithEndpoint(srv.URL))
	_, err := s.Suggest(context.Background(), "App", "title", "")
	assert.ErrorContains(t, err, "429")
}

func TestOpenAISuggester_MalformedContent(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `not json at all`)
	defer srv.Close()

	s := NewOpenAISuggester("sk-test", WithEndpoint(srv.URL))
	_, err := s.Suggest(context.Background(), "App", "title", "")
	assert.Error(t, err)
}

func TestOpenAISuggester_MissingCategory(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{"productive":true}`)
	defer srv.Close()

	s := NewOpenAISuggester("sk-test", WithEndpoint(srv.URL))
	_, err := s.Suggest(context.Background(), "App", "title", "")
	assert.ErrorContains(t, err, "missing category")
}

func TestOpenAISuggester_ContextCanceled(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{"category":"Coding","productive":true}`)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewOpenAISuggester("sk-test", WithEndpoint(srv.URL))
	_, err := s.Suggest(ctx, "App", "title", "")
	assert.Error(t, err)
}
