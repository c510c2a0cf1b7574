package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	app_errors "openchat/backend/internal/errors"
	"openchat/backend/internal/llm"
	"openchat/backend/internal/model"
	"openchat/backend/internal/provider"
	"openchat/backend/internal/registry"
	"openchat/backend/internal/repository"
)

// Codes for pre-stream failures that are not model resolution errors.
const (
	CodeMissingPrompt        = "MISSING_PROMPT"
	CodePromptTooLong        = "PROMPT_TOO_LONG"
	CodeConversationNotFound = "CONVERSATION_NOT_FOUND"
)

const (
	clientDisconnectedMarker = "\n\n[Client disconnected]"
	clientDisconnectedReason = "client disconnected"
)

// ChatRequest is the body of a chat turn request. ModelID is decoded
// untyped so that wrong shapes can be reported as such. Prompt limits are
// configurable and checked by PrepareTurn.
type ChatRequest struct {
	ModelID        interface{} `json:"modelId" swaggertype:"string" example:"llama3.2"`
	Prompt         string      `json:"prompt" example:"Why is the sky blue?"`
	ConversationID string      `json:"conversationId" validate:"omitempty,max=64"`
	Provider       string      `json:"provider" validate:"omitempty,max=32" example:"ollama"`
}

// ChatLimits holds the prompt, history and time caps applied to a turn.
// ProviderTimeout bounds external provider calls the way the runtime's total
// timeout bounds local generation.
type ChatLimits struct {
	PromptMaxLength        int
	RuntimePromptMaxLength int
	HistoryLimit           int
	ProviderTimeout        time.Duration
}

// ModelResolver validates model identifiers.
type ModelResolver interface {
	Resolve(ctx context.Context, raw interface{}, provider string) (*registry.ResolvedModel, error)
}

// Generator streams a generation from the local runtime.
type Generator interface {
	GenerateStream(ctx context.Context, req *llm.GenerateRequest, ch chan<- llm.StreamEvent)
}

// AdapterLookup finds the adapter for an external provider.
type AdapterLookup interface {
	Get(name string) (provider.Adapter, bool)
}

// KeyResolver finds the API key to use for a caller and provider.
type KeyResolver interface {
	ResolveKey(ctx context.Context, ownerID, providerName string) (string, error)
}

// TurnError is a failure detected before streaming starts. Nothing has been
// persisted when it is returned.
type TurnError struct {
	Kind    error
	Payload model.ErrorPayload
}

func (e *TurnError) Error() string { return e.Payload.Message }
func (e *TurnError) Unwrap() error { return e.Kind }

// Turn is one prepared chat turn: the conversation, the user message and the
// placeholder model message exist.
type Turn struct {
	OwnerID        string
	ConversationID string
	MessageID      string
	Model          *registry.ResolvedModel
	Prompt         string

	apiKey  string
	history []provider.ChatMessage

	state    atomic.Value
	terminal atomic.Bool
}

func (t *Turn) State() model.TurnState {
	if s, ok := t.state.Load().(model.TurnState); ok {
		return s
	}
	return model.TurnInit
}

func (t *Turn) setState(s model.TurnState) { t.state.Store(s) }

// claimTerminal returns true for exactly one caller per turn.
func (t *Turn) claimTerminal() bool { return t.terminal.CompareAndSwap(false, true) }

type ChatService struct {
	repo      repository.ConversationStore
	models    ModelResolver
	runtime   Generator
	providers AdapterLookup
	keys      KeyResolver
	limits    ChatLimits

	background sync.WaitGroup
}

func NewChatService(
	repo repository.ConversationStore,
	models ModelResolver,
	runtime Generator,
	providers AdapterLookup,
	keys KeyResolver,
	limits ChatLimits,
) *ChatService {
	if limits.HistoryLimit <= 0 {
		limits.HistoryLimit = repository.DefaultMessageLimit
	}
	if limits.ProviderTimeout <= 0 {
		limits.ProviderTimeout = llm.DefaultTotalTimeout
	}
	return &ChatService{
		repo:      repo,
		models:    models,
		runtime:   runtime,
		providers: providers,
		keys:      keys,
		limits:    limits,
	}
}

// PrepareTurn validates the request, resolves or creates the conversation,
// persists the user message and creates the placeholder model message.
func (s *ChatService) PrepareTurn(ctx context.Context, ownerID string, req *ChatRequest) (*Turn, error) {
	turn := &Turn{OwnerID: ownerID}
	turn.setState(model.TurnInit)

	if strings.TrimSpace(req.Prompt) == "" {
		return nil, validationError(CodeMissingPrompt, "Prompt is required")
	}
	promptLen := utf8.RuneCountInString(req.Prompt)
	if s.limits.PromptMaxLength > 0 && promptLen > s.limits.PromptMaxLength {
		return nil, validationError(CodePromptTooLong,
			fmt.Sprintf("Prompt exceeds %d characters", s.limits.PromptMaxLength))
	}

	resolved, err := s.models.Resolve(ctx, req.ModelID, req.Provider)
	if err != nil {
		return nil, modelTurnError(err)
	}
	turn.Model = resolved
	turn.Prompt = req.Prompt

	if resolved.IsLocal() && s.limits.RuntimePromptMaxLength > 0 && promptLen > s.limits.RuntimePromptMaxLength {
		return nil, validationError(CodePromptTooLong,
			fmt.Sprintf("Prompt exceeds %d characters for local models", s.limits.RuntimePromptMaxLength))
	}

	if !resolved.IsLocal() {
		key, err := s.keys.ResolveKey(ctx, ownerID, resolved.Provider)
		if err != nil {
			return nil, runtimeTurnError(err)
		}
		turn.apiKey = key
	}

	turn.setState(model.TurnResolvingConversation)

	created := false
	if id := strings.TrimSpace(req.ConversationID); id != "" {
		conv, err := s.repo.GetConversation(ctx, id, ownerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, &TurnError{
					Kind:    app_errors.ErrNotFound,
					Payload: model.ErrorPayload{Code: CodeConversationNotFound, Message: "Conversation not found"},
				}
			}
			return nil, fmt.Errorf("%w: could not load conversation: %v", app_errors.ErrInternal, err)
		}
		turn.ConversationID = conv.ID
		if !resolved.IsLocal() {
			turn.history, err = s.loadHistory(ctx, conv.ID, ownerID)
			if err != nil {
				return nil, fmt.Errorf("%w: could not load history: %v", app_errors.ErrInternal, err)
			}
		}
	} else {
		conv, err := s.repo.CreateConversation(ctx, ownerID, "")
		if err != nil {
			return nil, fmt.Errorf("%w: could not create conversation: %v", app_errors.ErrInternal, err)
		}
		turn.ConversationID = conv.ID
		created = true
	}
	turn.history = append(turn.history, provider.ChatMessage{Role: provider.RoleUser, Content: req.Prompt})

	// A conversation created for this turn must not outlive a failed setup.
	discard := func() {
		if !created {
			return
		}
		if err := s.repo.DeleteConversation(context.WithoutCancel(ctx), turn.ConversationID, ownerID); err != nil {
			slog.Warn("Failed to discard conversation", "conversation_id", turn.ConversationID, "error", err)
		}
	}

	if _, err := s.repo.AddUserMessage(ctx, turn.ConversationID, req.Prompt); err != nil {
		discard()
		return nil, fmt.Errorf("%w: could not save user message: %v", app_errors.ErrInternal, err)
	}

	placeholder, err := s.repo.CreateModelMessage(ctx, model.NewModelMessage{
		ConversationID: turn.ConversationID,
		ModelID:        resolved.ID,
		DisplayName:    resolved.DisplayName,
		Prompt:         req.Prompt,
	})
	if err != nil {
		discard()
		return nil, fmt.Errorf("%w: could not create model message: %v", app_errors.ErrInternal, err)
	}
	turn.MessageID = placeholder.ID

	slog.Info("Chat turn prepared",
		"conversation_id", turn.ConversationID,
		"message_id", turn.MessageID,
		"model", resolved.ID,
		"provider", resolved.Provider)
	return turn, nil
}

func (s *ChatService) loadHistory(ctx context.Context, conversationID, ownerID string) ([]provider.ChatMessage, error) {
	messages, err := s.repo.GetMessages(ctx, conversationID, ownerID, s.limits.HistoryLimit)
	if err != nil {
		return nil, err
	}
	history := make([]provider.ChatMessage, 0, len(messages)+1)
	for _, msg := range messages {
		if msg.Status != model.StatusDone || msg.Text == "" {
			continue
		}
		role := provider.RoleUser
		if msg.Sender == model.SenderModel {
			role = provider.RoleAssistant
		}
		history = append(history, provider.ChatMessage{Role: role, Content: msg.Text})
	}
	return history, nil
}

// StreamTurn runs the generation for a prepared turn and sends SSE events to
// out until a terminal event, closing out on return. Cancelling ctx marks
// the turn cancelled; its persistence runs in the background.
func (s *ChatService) StreamTurn(ctx context.Context, turn *Turn, out chan<- model.StreamEvent) {
	defer close(out)
	turn.setState(model.TurnStreaming)

	genCtx, cancelGen := context.WithCancel(ctx)
	defer cancelGen()

	events := make(chan llm.StreamEvent)
	go s.generate(genCtx, turn, events)

	persistCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			cancelGen()
			s.cancelTurn(persistCtx, turn)
			return

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					s.cancelTurn(persistCtx, turn)
					return
				}
				s.failTurn(ctx, persistCtx, turn, out,
					llm.NewRuntimeError(llm.CodeInternalError, "Generation ended without a result", nil))
				return
			}

			switch ev.Type {
			case llm.EventChunk:
				if ctx.Err() != nil {
					cancelGen()
					s.cancelTurn(persistCtx, turn)
					return
				}
				if err := s.repo.AppendToModelMessage(persistCtx, turn.MessageID, ev.Text); err != nil {
					slog.Warn("Failed to persist chunk, continuing stream",
						"message_id", turn.MessageID, "error", err)
				}
				if !send(ctx, out, model.StreamEvent{Event: model.EventChunk, Data: model.ChunkPayload{Chunk: ev.Text}}) {
					cancelGen()
					s.cancelTurn(persistCtx, turn)
					return
				}

			case llm.EventDone:
				s.finishTurn(ctx, persistCtx, turn, out, ev)
				return

			case llm.EventError:
				if ev.Err.Code == llm.CodeClientDisconnected || ctx.Err() != nil {
					s.cancelTurn(persistCtx, turn)
					return
				}
				s.failTurn(ctx, persistCtx, turn, out, ev.Err)
				return
			}
		}
	}
}

func (s *ChatService) generate(ctx context.Context, turn *Turn, events chan<- llm.StreamEvent) {
	if turn.Model.IsLocal() {
		s.runtime.GenerateStream(ctx, &llm.GenerateRequest{Model: turn.Model.ID, Prompt: turn.Prompt}, events)
		return
	}
	adapter, ok := s.providers.Get(turn.Model.Provider)
	if !ok {
		defer close(events)
		ev := llm.ErrorEvent(llm.NewRuntimeError(llm.CodeProviderError,
			fmt.Sprintf("Provider '%s' is not available", turn.Model.Provider), nil))
		select {
		case events <- ev:
		case <-ctx.Done():
		}
		return
	}
	provider.Stream(ctx, adapter, turn.Model.Provider, turn.Model.ID, turn.apiKey, turn.history,
		provider.ChatOptions{Timeout: s.limits.ProviderTimeout}, events)
}

func (s *ChatService) finishTurn(ctx, persistCtx context.Context, turn *Turn, out chan<- model.StreamEvent, ev llm.StreamEvent) {
	if !turn.claimTerminal() {
		return
	}
	turn.setState(model.TurnFinalizing)

	msg, err := s.repo.FinalizeModelMessage(persistCtx, turn.MessageID, ev.Usage)
	if err != nil {
		turn.setState(model.TurnError)
		slog.Error("Failed to finalize model message",
			"conversation_id", turn.ConversationID, "message_id", turn.MessageID, "error", err)
		send(ctx, out, errorEvent(llm.NewRuntimeError(llm.CodeInternalError, "Failed to save the response", err)))
		return
	}
	if err := s.repo.TouchConversation(persistCtx, turn.ConversationID); err != nil {
		slog.Warn("Failed to touch conversation", "conversation_id", turn.ConversationID, "error", err)
	}

	text := ev.Text
	if text == "" {
		text = msg.Text
	}
	turn.setState(model.TurnDone)
	slog.Info("Chat turn finished",
		"conversation_id", turn.ConversationID, "message_id", turn.MessageID, "state", model.TurnDone)

	send(ctx, out, model.StreamEvent{Event: model.EventDone, Data: model.DonePayload{
		MessageID:      turn.MessageID,
		Text:           text,
		ConversationID: turn.ConversationID,
		Status:         string(model.StatusDone),
		ModelName:      turn.Model.DisplayName,
		Usage:          ev.Usage,
	}})
}

func (s *ChatService) failTurn(ctx, persistCtx context.Context, turn *Turn, out chan<- model.StreamEvent, rerr *llm.RuntimeError) {
	if !turn.claimTerminal() {
		return
	}
	turn.setState(model.TurnError)
	slog.Warn("Chat turn failed",
		"conversation_id", turn.ConversationID,
		"message_id", turn.MessageID,
		"state", model.TurnError,
		"code", rerr.Code,
		"error", rerr)

	if err := s.repo.AppendToModelMessage(persistCtx, turn.MessageID, fmt.Sprintf("\n\n[Error: %s]", rerr.Message)); err != nil {
		slog.Warn("Failed to append error marker", "message_id", turn.MessageID, "error", err)
	}
	if err := s.repo.MarkModelMessageError(persistCtx, turn.MessageID, rerr.Message); err != nil {
		slog.Error("Failed to mark model message as failed", "message_id", turn.MessageID, "error", err)
	}
	if err := s.repo.TouchConversation(persistCtx, turn.ConversationID); err != nil {
		slog.Warn("Failed to touch conversation", "conversation_id", turn.ConversationID, "error", err)
	}

	send(ctx, out, errorEvent(rerr))
}

// cancelTurn records a disconnect. Nothing is sent: the client is gone.
func (s *ChatService) cancelTurn(persistCtx context.Context, turn *Turn) {
	if !turn.claimTerminal() {
		return
	}
	turn.setState(model.TurnCancelled)
	slog.Info("Client disconnected during stream",
		"conversation_id", turn.ConversationID, "message_id", turn.MessageID, "state", model.TurnCancelled)

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.repo.AppendToModelMessage(persistCtx, turn.MessageID, clientDisconnectedMarker); err != nil {
			slog.Warn("Failed to append disconnect marker", "message_id", turn.MessageID, "error", err)
		}
		if err := s.repo.MarkModelMessageError(persistCtx, turn.MessageID, clientDisconnectedReason); err != nil {
			slog.Error("Failed to mark cancelled message", "message_id", turn.MessageID, "error", err)
		}
	}()
}

// Wait blocks until background persistence of cancelled turns is done.
func (s *ChatService) Wait() {
	s.background.Wait()
}

// --- Conversations ---

func (s *ChatService) ListConversations(ctx context.Context, ownerID string) ([]*model.Conversation, error) {
	return s.repo.ListConversations(ctx, ownerID)
}

func (s *ChatService) CreateConversation(ctx context.Context, ownerID, title string) (*model.Conversation, error) {
	return s.repo.CreateConversation(ctx, ownerID, strings.TrimSpace(title))
}

// GetConversation returns the conversation with its most recent messages.
func (s *ChatService) GetConversation(ctx context.Context, ownerID, conversationID string, limit int) (*model.FullConversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID, ownerID)
	if err != nil {
		return nil, translateRepoErr(err, "could not get conversation")
	}
	if limit <= 0 || limit > s.limits.HistoryLimit {
		limit = s.limits.HistoryLimit
	}
	messages, err := s.repo.GetMessages(ctx, conversationID, ownerID, limit)
	if err != nil {
		return nil, translateRepoErr(err, "could not get messages")
	}
	return &model.FullConversation{Conversation: *conv, Messages: messages}, nil
}

func (s *ChatService) UpdateConversationTitle(ctx context.Context, ownerID, conversationID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title cannot be empty", app_errors.ErrValidation)
	}
	slog.Info("Updating conversation title", "conversation_id", conversationID)
	return translateRepoErr(s.repo.UpdateConversationTitle(ctx, conversationID, ownerID, title), "could not update title")
}

func (s *ChatService) DeleteConversation(ctx context.Context, ownerID, conversationID string) error {
	slog.Info("Deleting conversation", "conversation_id", conversationID)
	return translateRepoErr(s.repo.DeleteConversation(ctx, conversationID, ownerID), "could not delete conversation")
}

// --- Helpers ---

func send(ctx context.Context, ch chan<- model.StreamEvent, ev model.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func errorEvent(rerr *llm.RuntimeError) model.StreamEvent {
	return model.StreamEvent{Event: model.EventError, Data: model.ErrorPayload{
		Message:     rerr.Message,
		Code:        rerr.Code,
		Suggestions: rerr.Suggestions,
	}}
}

func validationError(code, message string) *TurnError {
	return &TurnError{Kind: app_errors.ErrValidation, Payload: model.ErrorPayload{Code: code, Message: message}}
}

func modelTurnError(err error) error {
	var merr *registry.ModelError
	if !errors.As(err, &merr) {
		return fmt.Errorf("%w: %v", app_errors.ErrInternal, err)
	}
	kind := app_errors.ErrValidation
	if merr.Code == registry.CodeModelNotFound {
		kind = app_errors.ErrNotFound
	}
	return &TurnError{Kind: kind, Payload: model.ErrorPayload{
		Message:         merr.Message,
		Code:            merr.Code,
		Suggestion:      merr.Suggestion,
		AvailableModels: merr.AvailableModels,
	}}
}

func runtimeTurnError(err error) error {
	rerr := llm.AsRuntimeError(err)
	kind := app_errors.ErrValidation
	if rerr.Code == llm.CodeInternalError {
		kind = app_errors.ErrInternal
	}
	return &TurnError{Kind: kind, Payload: model.ErrorPayload{
		Message:     rerr.Message,
		Code:        rerr.Code,
		Suggestions: rerr.Suggestions,
	}}
}

func translateRepoErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", app_errors.ErrNotFound, msg)
	}
	if errors.Is(err, repository.ErrInvalidTransition) {
		return fmt.Errorf("%w: %s", app_errors.ErrConflict, msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
