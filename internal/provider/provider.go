// Package provider adapts third-party LLM vendors to one chat contract and
// keeps them in a registry keyed by provider name.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"openchat/backend/internal/llm"
	"openchat/backend/internal/model"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatOptions struct {
	MaxTokens   int
	Temperature *float32
	// Timeout bounds the whole call when run through Stream. Zero means no limit.
	Timeout time.Duration
}

var errTotalTimeout = errors.New("provider call exceeded the total timeout")

type ChatResponse struct {
	Text  string
	Usage *model.Usage
}

// Adapter is implemented once per vendor.
type Adapter interface {
	Chat(ctx context.Context, modelID, apiKey string, messages []ChatMessage, opts ChatOptions) (*ChatResponse, error)
	ListModels(ctx context.Context, apiKey string) ([]string, error)
	ValidateKey(ctx context.Context, apiKey string) error
}

// Registry maps provider names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// NewDefaultRegistry registers every supported vendor.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for name, baseURL := range OpenAICompatibleBaseURLs {
		r.Register(name, NewOpenAICompatible(name, baseURL))
	}
	r.Register("anthropic", NewAnthropic(""))
	r.Register("gemini", NewGemini())
	return r
}

func (r *Registry) Register(name string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func missingKeyError(provider string) *llm.RuntimeError {
	return llm.NewRuntimeError(llm.CodeMissingAPIKey, "No API key configured for "+provider, nil)
}

func providerError(provider string, err error) *llm.RuntimeError {
	var rerr *llm.RuntimeError
	if errors.As(err, &rerr) {
		return rerr
	}
	if errors.Is(err, context.Canceled) {
		return llm.NewRuntimeError(llm.CodeClientDisconnected, "Client disconnected", err)
	}
	return llm.NewRuntimeError(llm.CodeProviderError, provider+" request failed", err)
}

// Stream runs one adapter call and delivers its result on ch as a single
// chunk followed by done, or as one error. ch is closed on return.
func Stream(ctx context.Context, a Adapter, name, modelID, apiKey string, messages []ChatMessage, opts ChatOptions, ch chan<- llm.StreamEvent) {
	defer close(ch)

	send := func(ev llm.StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	callCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeoutCause(ctx, opts.Timeout, errTotalTimeout)
		defer cancel()
	}

	resp, err := a.Chat(callCtx, modelID, apiKey, messages, opts)
	if err != nil {
		if ctx.Err() == nil && errors.Is(context.Cause(callCtx), errTotalTimeout) {
			send(llm.ErrorEvent(llm.NewRuntimeError(llm.CodeTotalTimeout,
				fmt.Sprintf("%s did not answer within %s", name, opts.Timeout), err)))
			return
		}
		send(llm.ErrorEvent(providerError(name, err)))
		return
	}
	if resp.Text != "" && !send(llm.ChunkEvent(resp.Text)) {
		return
	}
	send(llm.DoneEvent(resp.Text, resp.Usage))
}
