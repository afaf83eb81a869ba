package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptpipe/promptpipe/internal/domain"
)

func textRecord(api, model, text string) *domain.Record {
	return &domain.Record{
		API:       api,
		ModelName: model,
		Prompt:    domain.Prompt{Kind: domain.PromptPlainText, Text: text},
	}
}

func TestNewOpenAIDefaultEndpoint(t *testing.T) {
	a := NewOpenAI(Config{APIKey: "sk-test"})
	assert.Equal(t, "https://api.openai.com/v1", a.config.Endpoint)

	custom := NewOpenAI(Config{APIKey: "sk-test", Endpoint: "https://proxy.local/v1"})
	assert.Equal(t, "https://proxy.local/v1", custom.config.Endpoint)
}

func TestOpenAICheckEnvironment(t *testing.T) {
	assert.True(t, HasFatal(NewOpenAI(Config{}).CheckEnvironment()))
	assert.Empty(t, NewOpenAI(Config{APIKey: "sk-test"}).CheckEnvironment())
}

func TestOpenAICheckPromptShape(t *testing.T) {
	a := NewOpenAI(Config{APIKey: "sk-test"})

	assert.Empty(t, a.CheckPromptShape(textRecord("openai", "gpt-4o", "hi")))

	noModel := textRecord("openai", "", "hi")
	assert.True(t, HasFatal(a.CheckPromptShape(noModel)))

	multimodal := &domain.Record{
		API: "openai", ModelName: "gpt-4o",
		Prompt: domain.Prompt{Kind: domain.PromptMultimodalParts,
			Parts: []domain.Part{{Type: domain.PartText, Text: "x"}}},
	}
	assert.True(t, HasFatal(a.CheckPromptShape(multimodal)))
}

func TestOpenAIQuery(t *testing.T) {
	t.Run("success_decorates_record", func(t *testing.T) {
		var gotAuth, gotIdem string
		var gotBody map[string]any

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotIdem = r.Header.Get("Idempotency-Key")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			assert.Equal(t, "/chat/completions", r.URL.Path)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Paris"},"finish_reason":"stop"}]}`))
		}))
		defer srv.Close()

		a := NewOpenAI(Config{APIKey: "sk-test", Endpoint: srv.URL})
		rec := textRecord("openai", "gpt-4o", "capital of France?")
		rec.Parameters = map[string]any{"temperature": 0.1}

		require.NoError(t, a.Query(context.Background(), rec, 0))

		assert.Equal(t, "Paris", rec.Response)
		assert.Equal(t, "Bearer sk-test", gotAuth)
		assert.NotEmpty(t, gotIdem)
		assert.Equal(t, "gpt-4o", gotBody["model"])
		assert.Equal(t, 0.1, gotBody["temperature"])
	})

	t.Run("api_error_is_classified", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_exceeded"}}`))
		}))
		defer srv.Close()

		a := NewOpenAI(Config{APIKey: "sk-test", Endpoint: srv.URL})
		err := a.Query(context.Background(), textRecord("openai", "gpt-4o", "hi"), 0)

		var be *BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, ErrorTypeRateLimit, be.Type)
		assert.Equal(t, "rate limited", be.Message)
		assert.True(t, be.IsRetryable())
	})

	t.Run("empty_choices_is_backend_error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}))
		defer srv.Close()

		a := NewOpenAI(Config{APIKey: "sk-test", Endpoint: srv.URL})
		err := a.Query(context.Background(), textRecord("openai", "gpt-4o", "hi"), 0)

		var be *BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, ErrorTypeBackend, be.Type)
	})

	t.Run("unreachable_server_is_network_error", func(t *testing.T) {
		a := NewOpenAI(Config{APIKey: "sk-test", Endpoint: "http://127.0.0.1:1"})
		err := a.Query(context.Background(), textRecord("openai", "gpt-4o", "hi"), 0)

		var be *BackendError
		require.ErrorAs(t, err, &be)
		assert.True(t, be.IsRetryable())
	})
}
