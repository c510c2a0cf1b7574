package provider

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"openchat/backend/internal/model"
)

// Gemini calls the Google Generative AI API. A client is created per call
// because keys are per user.
type Gemini struct{}

func NewGemini() *Gemini {
	return &Gemini{}
}

func (g *Gemini) newClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, providerError("gemini", err)
	}
	return client, nil
}

func closeClient(client *genai.Client) {
	if err := client.Close(); err != nil {
		slog.Warn("Error closing GenAI client", "error", err)
	}
}

func (g *Gemini) Chat(ctx context.Context, modelID, apiKey string, messages []ChatMessage, opts ChatOptions) (*ChatResponse, error) {
	if apiKey == "" {
		return nil, missingKeyError("gemini")
	}
	if len(messages) == 0 || messages[len(messages)-1].Role != RoleUser {
		return nil, providerError("gemini", errors.New("last message in history is not from the user"))
	}

	client, err := g.newClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	defer closeClient(client)

	m := client.GenerativeModel(modelID)
	if opts.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		m.SetTemperature(*opts.Temperature)
	}

	var system []string
	history := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages[:len(messages)-1] {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	if len(system) > 0 {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n"))}}
	}

	session := m.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, genai.Text(messages[len(messages)-1].Content))
	if err != nil {
		return nil, providerError("gemini", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, providerError("gemini", errors.New("empty chat response"))
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}

	out := &ChatResponse{Text: text.String()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &model.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func (g *Gemini) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	if apiKey == "" {
		return nil, missingKeyError("gemini")
	}
	client, err := g.newClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	defer closeClient(client)

	var names []string
	it := client.ListModels(ctx)
	for {
		info, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, providerError("gemini", err)
		}
		names = append(names, strings.TrimPrefix(info.Name, "models/"))
	}
	sort.Strings(names)
	return names, nil
}

func (g *Gemini) ValidateKey(ctx context.Context, apiKey string) error {
	_, err := g.ListModels(ctx, apiKey)
	return err
}
