package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openchat/backend/internal/llm"
	"openchat/backend/internal/model"
	"openchat/backend/internal/provider"
)

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var rerr *llm.RuntimeError
	require.True(t, errors.As(err, &rerr), "expected RuntimeError, got %v", err)
	assert.Equal(t, code, rerr.Code)
}

func fakeOpenAI(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/chat/completions":
			if n := calls.Add(1); n <= failures {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
				return
			}
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			var body struct {
				Model    string                 `json:"model"`
				Messages []provider.ChatMessage `json:"messages"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "gpt-4o-mini", body.Model)
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
		case "/v1/models":
			if r.Header.Get("Authorization") != "Bearer sk-test" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o-mini","object":"model"},{"id":"gpt-4o","object":"model"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestOpenAICompatible_Chat(t *testing.T) {
	ctx := context.Background()
	messages := []provider.ChatMessage{{Role: provider.RoleUser, Content: "Hello"}}

	t.Run("Success", func(t *testing.T) {
		server, _ := fakeOpenAI(t, 0)
		adapter := provider.NewOpenAICompatible("openai", server.URL+"/v1")

		resp, err := adapter.Chat(ctx, "gpt-4o-mini", "sk-test", messages, provider.ChatOptions{})
		require.NoError(t, err)
		assert.Equal(t, "Hi there", resp.Text)
		assert.Equal(t, &model.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, resp.Usage)
	})

	t.Run("Retries server errors", func(t *testing.T) {
		server, calls := fakeOpenAI(t, 2)
		adapter := provider.NewOpenAICompatible("openai", server.URL+"/v1").WithRetry(3, time.Millisecond)

		resp, err := adapter.Chat(ctx, "gpt-4o-mini", "sk-test", messages, provider.ChatOptions{})
		require.NoError(t, err)
		assert.Equal(t, "Hi there", resp.Text)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("Gives up after the last attempt", func(t *testing.T) {
		server, calls := fakeOpenAI(t, 5)
		adapter := provider.NewOpenAICompatible("openai", server.URL+"/v1").WithRetry(2, time.Millisecond)

		_, err := adapter.Chat(ctx, "gpt-4o-mini", "sk-test", messages, provider.ChatOptions{})
		requireCode(t, err, llm.CodeProviderError)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Missing key", func(t *testing.T) {
		adapter := provider.NewOpenAICompatible("groq", "http://unused")
		_, err := adapter.Chat(ctx, "llama", "", messages, provider.ChatOptions{})
		requireCode(t, err, llm.CodeMissingAPIKey)
	})
}

func TestOpenAICompatible_ModelsAndKeys(t *testing.T) {
	ctx := context.Background()
	server, _ := fakeOpenAI(t, 0)
	adapter := provider.NewOpenAICompatible("openai", server.URL+"/v1").WithRetry(1, time.Millisecond)

	names, err := adapter.ListModels(ctx, "sk-test")
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, names)

	assert.NoError(t, adapter.ValidateKey(ctx, "sk-test"))
	requireCode(t, adapter.ValidateKey(ctx, "sk-wrong"), llm.CodeProviderError)
}

func TestAnthropic_Chat(t *testing.T) {
	var gotSystem string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/messages"), r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotSystem, _ = body["system"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest",
			"content":[{"type":"text","text":"Bonjour"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":4,"output_tokens":3}}`))
	}))
	defer server.Close()

	adapter := provider.NewAnthropic(server.URL)
	resp, err := adapter.Chat(context.Background(), "claude-3-5-haiku-latest", "sk-ant", []provider.ChatMessage{
		{Role: provider.RoleSystem, Content: "Be brief"},
		{Role: provider.RoleUser, Content: "Hello"},
	}, provider.ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", resp.Text)
	assert.Equal(t, "Be brief", gotSystem)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 7, resp.Usage.TotalTokens)

	_, err = adapter.Chat(context.Background(), "claude", "", nil, provider.ChatOptions{})
	requireCode(t, err, llm.CodeMissingAPIKey)
}

func TestRegistry(t *testing.T) {
	r := provider.NewDefaultRegistry()

	for _, name := range []string{"openai", "groq", "openrouter", "deepseek", "mistral", "anthropic", "gemini"} {
		assert.True(t, r.Has(name), name)
	}
	assert.False(t, r.Has("ollama"))
	assert.Equal(t, []string{"anthropic", "deepseek", "gemini", "groq", "mistral", "openai", "openrouter"}, r.Names())

	_, ok := r.Get("acme")
	assert.False(t, ok)
}

type stubAdapter struct {
	resp *provider.ChatResponse
	err  error
	hang bool
}

func (s stubAdapter) Chat(ctx context.Context, _ string, _ string, _ []provider.ChatMessage, _ provider.ChatOptions) (*provider.ChatResponse, error) {
	if s.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.resp, s.err
}
func (s stubAdapter) ListModels(context.Context, string) ([]string, error) { return nil, nil }
func (s stubAdapter) ValidateKey(context.Context, string) error            { return nil }

func drain(ch <-chan llm.StreamEvent) []llm.StreamEvent {
	var events []llm.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStream(t *testing.T) {
	ctx := context.Background()

	t.Run("Success becomes chunk then done", func(t *testing.T) {
		ch := make(chan llm.StreamEvent)
		usage := &model.Usage{TotalTokens: 3}
		go provider.Stream(ctx, stubAdapter{resp: &provider.ChatResponse{Text: "Hi", Usage: usage}}, "openai", "m", "k", nil, provider.ChatOptions{}, ch)

		events := drain(ch)
		require.Len(t, events, 2)
		assert.Equal(t, llm.EventChunk, events[0].Type)
		assert.Equal(t, "Hi", events[0].Text)
		assert.Equal(t, llm.EventDone, events[1].Type)
		assert.Equal(t, usage, events[1].Usage)
	})

	t.Run("Failure becomes one error", func(t *testing.T) {
		ch := make(chan llm.StreamEvent)
		go provider.Stream(ctx, stubAdapter{err: errors.New("boom")}, "openai", "m", "k", nil, provider.ChatOptions{}, ch)

		events := drain(ch)
		require.Len(t, events, 1)
		assert.Equal(t, llm.EventError, events[0].Type)
		assert.Equal(t, llm.CodeProviderError, events[0].Err.Code)
	})

	t.Run("Stalled call hits the total timeout", func(t *testing.T) {
		ch := make(chan llm.StreamEvent)
		go provider.Stream(ctx, stubAdapter{hang: true}, "groq", "m", "k", nil, provider.ChatOptions{Timeout: 20 * time.Millisecond}, ch)

		events := drain(ch)
		require.Len(t, events, 1)
		assert.Equal(t, llm.EventError, events[0].Type)
		assert.Equal(t, llm.CodeTotalTimeout, events[0].Err.Code)
		assert.Equal(t, "groq did not answer within 20ms", events[0].Err.Message)
	})

	t.Run("Caller cancellation is not a timeout", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		ch := make(chan llm.StreamEvent)
		go provider.Stream(cctx, stubAdapter{hang: true}, "groq", "m", "k", nil, provider.ChatOptions{Timeout: time.Minute}, ch)
		cancel()

		for ev := range ch {
			assert.NotEqual(t, llm.CodeTotalTimeout, ev.Err.Code)
		}
	})
}
