package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"policyrag/internal/domain"
)

func TestChatGenerator_Generate(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Yes, with manager approval.  "}}]}`))
	}))
	defer srv.Close()

	g, err := NewChatGenerator(Options{
		APIKey:      "secret",
		BaseURL:     srv.URL,
		Model:       "gpt-4o-mini",
		Temperature: 0.1,
		MaxTokens:   500,
	})
	require.NoError(t, err)

	text, err := g.Generate(context.Background(), domain.Prompt{System: "You are an HR assistant.", User: "Can I work remotely?"})
	require.NoError(t, err)
	assert.Equal(t, "Yes, with manager approval.", text)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, 500, got.MaxTokens)
	assert.Equal(t, 0.1, got.Temperature)
	assert.Equal(t, "gpt-4o-mini", g.ModelName())
}

func TestChatGenerator_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"api error", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`},
		{"server error", http.StatusBadGateway, `upstream down`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"content":"   "}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g, err := NewChatGenerator(Options{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = g.Generate(context.Background(), domain.Prompt{User: "hi"})
			assert.ErrorIs(t, err, domain.ErrGeneration)
			assert.True(t, domain.IsRetryable(err))
		})
	}
}

func TestNewForProvider(t *testing.T) {
	t.Setenv("POLICYRAG_TEST_LLM_KEY", "from-env")

	g, err := NewForProvider("deepseek", "POLICYRAG_TEST_LLM_KEY", Options{Model: "deepseek-chat"})
	require.NoError(t, err)
	assert.Equal(t, deepSeekBaseURL, g.baseURL)
	assert.Equal(t, "from-env", g.apiKey)

	g, err = NewForProvider("ollama", "", Options{Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, ollamaBaseURL, g.baseURL)

	_, err = NewForProvider("bard", "", Options{})
	assert.ErrorIs(t, err, domain.ErrConfig)

	t.Setenv("POLICYRAG_TEST_EMPTY_KEY", "")
	_, err = NewForProvider("openai", "POLICYRAG_TEST_EMPTY_KEY", Options{})
	assert.ErrorIs(t, err, domain.ErrConfig)
}
