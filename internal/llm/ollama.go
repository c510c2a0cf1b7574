package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"

	"openchat/backend/internal/model"
)

const (
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultTotalTimeout = 10 * time.Minute
)

var (
	errIdleTimeout  = errors.New("no output received within the idle timeout")
	errTotalTimeout = errors.New("generation exceeded the total timeout")
)

// EventType tags a StreamEvent.
type EventType int

const (
	EventChunk EventType = iota
	EventDone
	EventError
)

// StreamEvent is one item of a generation stream. A stream carries any number
// of chunks followed by exactly one Done or Error.
type StreamEvent struct {
	Type  EventType
	Text  string
	Usage *model.Usage
	Err   *RuntimeError
}

func ChunkEvent(text string) StreamEvent { return StreamEvent{Type: EventChunk, Text: text} }

func DoneEvent(text string, usage *model.Usage) StreamEvent {
	return StreamEvent{Type: EventDone, Text: text, Usage: usage}
}

func ErrorEvent(err *RuntimeError) StreamEvent { return StreamEvent{Type: EventError, Err: err} }

// GenerateRequest is the body of a streaming generate call.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateRecord is one newline-delimited record of the generate response.
type generateRecord struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	Error           string `json:"error"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type Model struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
}

type ListModelsResponse struct {
	Models []Model `json:"models"`
}

// LLMProvider defines the interface for interacting with the local runtime.
type LLMProvider interface {
	// GenerateStream sends events to ch and closes it when the stream ends.
	GenerateStream(ctx context.Context, req *GenerateRequest, ch chan<- StreamEvent)
	ListModels(ctx context.Context) (*ListModelsResponse, error)
	Ping(ctx context.Context) error
}

type Option func(*OllamaProvider)

func WithIdleTimeout(d time.Duration) Option {
	return func(p *OllamaProvider) {
		if d > 0 {
			p.idleTimeout = d
		}
	}
}

func WithTotalTimeout(d time.Duration) Option {
	return func(p *OllamaProvider) {
		if d > 0 {
			p.totalTimeout = d
		}
	}
}

// WithPromptLimit rejects prompts longer than n characters before any network call.
func WithPromptLimit(n int) Option {
	return func(p *OllamaProvider) { p.maxPrompt = n }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *OllamaProvider) { p.client = c }
}

type OllamaProvider struct {
	client       *http.Client
	url          string
	idleTimeout  time.Duration
	totalTimeout time.Duration
	maxPrompt    int
}

func NewOllamaProvider(url string, opts ...Option) *OllamaProvider {
	p := &OllamaProvider{
		client:       &http.Client{},
		url:          strings.TrimRight(url, "/"),
		idleTimeout:  DefaultIdleTimeout,
		totalTimeout: DefaultTotalTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GenerateStream drives one generation against /api/generate. The idle timer
// is reset on every received line; the total timer is never reset. Both stop
// on every exit path.
func (p *OllamaProvider) GenerateStream(ctx context.Context, req *GenerateRequest, ch chan<- StreamEvent) {
	defer close(ch)

	if p.maxPrompt > 0 && utf8.RuneCountInString(req.Prompt) > p.maxPrompt {
		p.emit(ctx, ch, ErrorEvent(NewRuntimeError(CodePromptRejected,
			fmt.Sprintf("Prompt exceeds %d characters", p.maxPrompt), nil)))
		return
	}

	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	total := time.AfterFunc(p.totalTimeout, func() { cancel(errTotalTimeout) })
	defer total.Stop()
	idle := time.AfterFunc(p.idleTimeout, func() { cancel(errIdleTimeout) })
	defer idle.Stop()

	payload := GenerateRequest{Model: req.Model, Prompt: req.Prompt, Stream: true}
	body, err := json.Marshal(payload)
	if err != nil {
		p.emit(ctx, ch, ErrorEvent(NewRuntimeError(CodeInternalError, "Could not encode request", err)))
		return
	}

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, p.url+"/api/generate", bytes.NewReader(body))
	if err != nil {
		p.emit(ctx, ch, ErrorEvent(NewRuntimeError(CodeInternalError, "Could not create request", err)))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.emit(ctx, ch, ErrorEvent(p.classify(ctx, streamCtx, err, CodeRuntimeUnavailable)))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.emit(ctx, ch, ErrorEvent(NewRuntimeError(CodeRuntimeHTTPError,
			fmt.Sprintf("Runtime returned status %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(snippet))))))
		return
	}

	reader := bufio.NewReader(resp.Body)
	var text strings.Builder
	for {
		line, readErr := reader.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			idle.Reset(p.idleTimeout)

			var rec generateRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				slog.Warn("Skipping malformed runtime line", "model", req.Model, "error", err)
			} else {
				if rec.Error != "" {
					p.emit(ctx, ch, ErrorEvent(NewRuntimeError(CodeRuntimeHTTPError, rec.Error, nil)))
					return
				}
				if fragment := ansi.Strip(rec.Response); fragment != "" {
					text.WriteString(fragment)
					if !p.emit(ctx, ch, ChunkEvent(fragment)) {
						return
					}
				}
				if rec.Done {
					idle.Stop()
					total.Stop()
					p.emit(ctx, ch, DoneEvent(text.String(), usageOf(rec)))
					return
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) && streamCtx.Err() == nil {
				slog.Debug("Runtime closed stream without done record", "model", req.Model)
				p.emit(ctx, ch, DoneEvent(text.String(), nil))
				return
			}
			p.emit(ctx, ch, ErrorEvent(p.classify(ctx, streamCtx, readErr, CodeStreamReadError)))
			return
		}
	}
}

// emit delivers ev unless the caller has gone away.
func (p *OllamaProvider) emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *OllamaProvider) classify(parent, streamCtx context.Context, err error, fallback string) *RuntimeError {
	switch cause := context.Cause(streamCtx); {
	case errors.Is(cause, errIdleTimeout):
		return NewRuntimeError(CodeIdleTimeout, fmt.Sprintf("No output from the model for %s", p.idleTimeout), cause)
	case errors.Is(cause, errTotalTimeout):
		return NewRuntimeError(CodeTotalTimeout, fmt.Sprintf("Generation did not finish within %s", p.totalTimeout), cause)
	case parent.Err() != nil:
		return NewRuntimeError(CodeClientDisconnected, "Client disconnected", parent.Err())
	}
	if fallback == CodeRuntimeUnavailable || isUnreachable(err) {
		return NewRuntimeError(CodeRuntimeUnavailable, "Cannot connect to the model runtime", err)
	}
	return NewRuntimeError(fallback, "Failed to read from the model runtime", err)
}

func usageOf(rec generateRecord) *model.Usage {
	if rec.PromptEvalCount == 0 && rec.EvalCount == 0 {
		return nil
	}
	return &model.Usage{
		PromptTokens:     rec.PromptEvalCount,
		CompletionTokens: rec.EvalCount,
		TotalTokens:      rec.PromptEvalCount + rec.EvalCount,
	}
}

// ListModels returns the models pulled on the runtime.
func (p *OllamaProvider) ListModels(ctx context.Context) (*ListModelsResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewRuntimeError(CodeRuntimeUnavailable, "Cannot connect to the model runtime", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, NewRuntimeError(CodeRuntimeHTTPError,
			fmt.Sprintf("Runtime returned status %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(bodyBytes))))
	}

	var list ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("could not decode model list: %w", err)
	}
	return &list, nil
}

// Ping reports whether the runtime answers on its root endpoint.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runtime returned status %d", resp.StatusCode)
	}
	return nil
}
