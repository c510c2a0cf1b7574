package provider

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/sashabaranov/go-openai"

	"openchat/backend/internal/model"
)

// OpenAICompatibleBaseURLs lists vendors that speak the OpenAI chat API.
var OpenAICompatibleBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"mistral":    "https://api.mistral.ai/v1",
}

const defaultMaxRetries = 3

// OpenAICompatible talks to any OpenAI-style endpoint.
type OpenAICompatible struct {
	name       string
	baseURL    string
	maxRetries int
	backoff    time.Duration
}

func NewOpenAICompatible(name, baseURL string) *OpenAICompatible {
	return &OpenAICompatible{
		name:       name,
		baseURL:    baseURL,
		maxRetries: defaultMaxRetries,
		backoff:    time.Second,
	}
}

// WithRetry overrides the attempt count and the first backoff step.
func (p *OpenAICompatible) WithRetry(attempts int, backoff time.Duration) *OpenAICompatible {
	p.maxRetries = attempts
	p.backoff = backoff
	return p
}

func (p *OpenAICompatible) client(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (p *OpenAICompatible) Chat(ctx context.Context, modelID, apiKey string, messages []ChatMessage, opts ChatOptions) (*ChatResponse, error) {
	if apiKey == "" {
		return nil, missingKeyError(p.name)
	}

	req := openai.ChatCompletionRequest{
		Model:     modelID,
		Messages:  make([]openai.ChatCompletionMessage, len(messages)),
		MaxTokens: opts.MaxTokens,
	}
	for i, msg := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}

	client := p.client(apiKey)
	var resp openai.ChatCompletionResponse
	err := p.doWithRetry(ctx, func() error {
		var err error
		resp, err = client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty chat response")
		}
		return nil
	})
	if err != nil {
		return nil, providerError(p.name, err)
	}

	return &ChatResponse{
		Text: resp.Choices[0].Message.Content,
		Usage: &model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAICompatible) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	if apiKey == "" {
		return nil, missingKeyError(p.name)
	}
	list, err := p.client(apiKey).ListModels(ctx)
	if err != nil {
		return nil, providerError(p.name, err)
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.ID)
	}
	sort.Strings(names)
	return names, nil
}

func (p *OpenAICompatible) ValidateKey(ctx context.Context, apiKey string) error {
	_, err := p.ListModels(ctx, apiKey)
	return err
}

// doWithRetry executes fn with exponential backoff. Client errors other than
// rate limiting are returned immediately.
func (p *OpenAICompatible) doWithRetry(ctx context.Context, fn func() error) error {
	attempts := p.maxRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == attempts-1 {
			break
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * p.backoff
		slog.Debug("Provider request failed, retrying",
			"provider", p.name,
			"attempt", attempt+1,
			"wait_time", wait,
			"error", lastErr)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
