package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	app_errors "openchat/backend/internal/errors"
	"openchat/backend/internal/interfaces"
	"openchat/backend/internal/model"
	"openchat/backend/internal/service"
)

// ChatHandler handles HTTP requests for conversations and chat turns.
type ChatHandler struct {
	service   interfaces.ChatService
	heartbeat time.Duration
}

// NewChatHandler creates a ChatHandler. A non-positive heartbeat disables
// keep-alive events.
func NewChatHandler(svc interfaces.ChatService, heartbeat time.Duration) *ChatHandler {
	return &ChatHandler{service: svc, heartbeat: heartbeat}
}

// ListConversations godoc
// @Summary      List conversations
// @Description  Lists the caller's conversations, most recently active first.
// @Tags         Conversations
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   model.Conversation
// @Failure      401  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/conversations [get]
func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	owner, _ := callerID(r)
	convs, err := h.service.ListConversations(r.Context(), owner)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, convs)
}

// CreateConversation godoc
// @Summary      Create a conversation
// @Tags         Conversations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      CreateConversationRequest  false  "Optional title"
// @Success      201   {object}  model.Conversation
// @Failure      400   {object}  ErrorResponse
// @Router       /v1/conversations [post]
func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	owner, _ := callerID(r)

	var req CreateConversationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, app_errors.ErrValidation)
			return
		}
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	conv, err := h.service.CreateConversation(r.Context(), owner, req.Title)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, conv)
}

// GetConversation godoc
// @Summary      Get a conversation
// @Description  Returns the conversation and its most recent messages.
// @Tags         Conversations
// @Produce      json
// @Security     BearerAuth
// @Param        conversationID  path      string  true   "Conversation ID"
// @Param        limit           query     int     false  "Maximum number of messages"
// @Success      200             {object}  model.FullConversation
// @Failure      404             {object}  ErrorResponse
// @Router       /v1/conversations/{conversationID} [get]
func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	owner, _ := callerID(r)
	conversationID := chi.URLParam(r, "conversationID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, app_errors.ErrValidation)
			return
		}
		limit = n
	}

	full, err := h.service.GetConversation(r.Context(), owner, conversationID, limit)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, full)
}

// UpdateConversationTitle godoc
// @Summary      Rename a conversation
// @Tags         Conversations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        conversationID  path      string              true  "Conversation ID"
// @Param        body            body      UpdateTitleRequest  true  "New title"
// @Success      200             {object}  StatusResponse
// @Failure      400             {object}  ErrorResponse
// @Failure      404             {object}  ErrorResponse
// @Router       /v1/conversations/{conversationID}/title [put]
func (h *ChatHandler) UpdateConversationTitle(w http.ResponseWriter, r *http.Request) {
	owner, _ := callerID(r)
	conversationID := chi.URLParam(r, "conversationID")

	var req UpdateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, app_errors.ErrValidation)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	if err := h.service.UpdateConversationTitle(r.Context(), owner, conversationID, req.Title); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// DeleteConversation godoc
// @Summary      Delete a conversation
// @Description  Deletes the conversation together with all of its messages.
// @Tags         Conversations
// @Security     BearerAuth
// @Param        conversationID  path  string  true  "Conversation ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/conversations/{conversationID} [delete]
func (h *ChatHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	owner, _ := callerID(r)
	if err := h.service.DeleteConversation(r.Context(), owner, chi.URLParam(r, "conversationID")); err != nil {
		respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStreamMessage godoc
// @Summary      Run a chat turn
// @Description  Streams the model's answer as Server-Sent Events: message_id, then chunk events, then exactly one done or error event. Requests rejected before streaming get a 4xx status with a single error event.
// @Tags         Chat
// @Accept       json
// @Produce      text/event-stream
// @Security     BearerAuth
// @Param        body  body      service.ChatRequest  true  "Chat turn"
// @Success      200   {object}  model.DonePayload    "Terminal done event"
// @Failure      400   {object}  model.ErrorPayload   "Sent as a stream error event"
// @Failure      404   {object}  model.ErrorPayload   "Sent as a stream error event"
// @Failure      429   {object}  ErrorResponse
// @Router       /v1/chat/stream [post]
func (h *ChatHandler) HandleStreamMessage(w http.ResponseWriter, r *http.Request) {
	owner, _ := callerID(r)

	var req service.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Error decoding chat request body", "error", err)
		sendStreamError(w, http.StatusBadRequest, model.ErrorPayload{Code: codeInvalidRequest, Message: "Invalid request body"})
		return
	}
	if err := validateRequest(&req); err != nil {
		sendStreamError(w, http.StatusBadRequest, model.ErrorPayload{Code: codeInvalidRequest, Message: err.Error()})
		return
	}

	turn, err := h.service.PrepareTurn(r.Context(), owner, &req)
	if err != nil {
		status, message := statusFor(err)
		var terr *service.TurnError
		if errors.As(err, &terr) {
			sendStreamError(w, status, terr.Payload)
			return
		}
		slog.Error("Failed to prepare chat turn", "error", err)
		sendStreamError(w, status, model.ErrorPayload{Code: codeInternalError, Message: message})
		return
	}

	// The turn stops as soon as a write fails, not only when the request ends.
	streamCtx, stopStream := context.WithCancel(r.Context())
	defer stopStream()
	clientGone := false
	dropClient := func(err error) {
		slog.Info("Client disconnected during stream", "message_id", turn.MessageID, "error", err)
		clientGone = true
		stopStream()
	}

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := writeStreamEvent(w, model.EventMessageID, model.MessageIDPayload{
		MessageID:      turn.MessageID,
		ConversationID: turn.ConversationID,
	}); err != nil {
		dropClient(err)
	}

	events := make(chan model.StreamEvent)
	go h.service.StreamTurn(streamCtx, turn, events)

	var heartbeat <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				slog.Debug("Finished streaming response", "message_id", turn.MessageID)
				return
			}
			if clientGone {
				continue
			}
			if err := writeStreamEvent(w, ev.Event, ev.Data); err != nil {
				dropClient(err)
			}
		case <-heartbeat:
			if clientGone {
				continue
			}
			if err := writeStreamEvent(w, "", model.HeartbeatPayload{Type: "heartbeat"}); err != nil {
				dropClient(err)
			}
		}
	}
}
