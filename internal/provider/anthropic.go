package provider

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"

	"openchat/backend/internal/model"
)

const (
	anthropicDefaultMaxTokens = 1024
	anthropicProbeModel       = "claude-3-5-haiku-latest"
)

var anthropicModels = []string{
	"claude-3-5-haiku-latest",
	"claude-3-5-sonnet-latest",
	"claude-3-7-sonnet-latest",
	"claude-3-opus-latest",
}

// Anthropic calls the Messages API through langchaingo.
type Anthropic struct {
	baseURL string
}

// NewAnthropic returns an adapter; an empty baseURL uses the public API.
func NewAnthropic(baseURL string) *Anthropic {
	return &Anthropic{baseURL: baseURL}
}

func (a *Anthropic) client(apiKey, modelID string) (*anthropic.LLM, error) {
	opts := []anthropic.Option{anthropic.WithToken(apiKey), anthropic.WithModel(modelID)}
	if a.baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(a.baseURL))
	}
	return anthropic.New(opts...)
}

func (a *Anthropic) Chat(ctx context.Context, modelID, apiKey string, messages []ChatMessage, opts ChatOptions) (*ChatResponse, error) {
	if apiKey == "" {
		return nil, missingKeyError("anthropic")
	}
	llm, err := a.client(apiKey, modelID)
	if err != nil {
		return nil, providerError("anthropic", err)
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(chatMessageType(msg.Role), msg.Content))
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	callOpts := []llms.CallOption{llms.WithModel(modelID), llms.WithMaxTokens(maxTokens)}
	if opts.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(float64(*opts.Temperature)))
	}

	resp, err := llm.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return nil, providerError("anthropic", err)
	}
	if len(resp.Choices) == 0 {
		return nil, providerError("anthropic", errors.New("empty chat response"))
	}

	out := &ChatResponse{}
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		out.Text += choice.Content
		if out.Usage == nil {
			out.Usage = usageFromInfo(choice.GenerationInfo)
		}
	}
	return out, nil
}

// ListModels returns the known model aliases; the API offers no listing
// through this client.
func (a *Anthropic) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	if apiKey == "" {
		return nil, missingKeyError("anthropic")
	}
	return append([]string(nil), anthropicModels...), nil
}

// ValidateKey spends one token on the cheapest model.
func (a *Anthropic) ValidateKey(ctx context.Context, apiKey string) error {
	_, err := a.Chat(ctx, anthropicProbeModel, apiKey,
		[]ChatMessage{{Role: RoleUser, Content: "ping"}}, ChatOptions{MaxTokens: 1})
	return err
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func usageFromInfo(info map[string]any) *model.Usage {
	in, okIn := asInt(info["InputTokens"])
	out, okOut := asInt(info["OutputTokens"])
	if !okIn && !okOut {
		return nil
	}
	return &model.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
