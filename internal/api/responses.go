package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	app_errors "openchat/backend/internal/errors"
	"openchat/backend/internal/model"
)

// This file contains shared DTOs (Data Transfer Objects) for API responses
// and helper functions for sending consistent HTTP and SSE responses.

// ErrorResponse defines the standard JSON structure for error messages.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse defines a generic success response, typically for operations
// like POST, PUT, DELETE that don't need to return a full resource.
type StatusResponse struct {
	Status string `json:"status"`
}

// UpdateTitleRequest is the DTO for the conversation rename endpoint.
type UpdateTitleRequest struct {
	Title string `json:"title" validate:"required,min=1,max=100" example:"Trip planning"`
}

// CreateConversationRequest is the DTO for creating an empty conversation.
type CreateConversationRequest struct {
	Title string `json:"title" validate:"max=100" example:"New Chat"`
}

// Codes for stream requests rejected by the transport layer itself.
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeInternalError  = "INTERNAL_ERROR"
)

// statusFor maps domain errors to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, app_errors.ErrNotFound):
		return http.StatusNotFound, "The requested resource was not found."
	case errors.Is(err, app_errors.ErrValidation):
		// Validation messages from the service layer are already user-facing.
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, app_errors.ErrConflict):
		return http.StatusConflict, "A conflict occurred with the current state of the resource."
	case errors.Is(err, app_errors.ErrPermission):
		return http.StatusForbidden, "You do not have permission to perform this action."
	case errors.Is(err, app_errors.ErrUnauthorized):
		return http.StatusUnauthorized, "Authentication is required."
	case errors.Is(err, app_errors.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many requests, slow down."
	default:
		return http.StatusInternalServerError, "An unexpected internal server error occurred."
	}
}

// respondWithError is the centralized error handling function for the API layer.
// It maps business-layer errors to HTTP status codes and writes a standard
// JSON error response.
func respondWithError(w http.ResponseWriter, err error) {
	statusCode, message := statusFor(err)

	// The detailed error is logged while a generic message goes to the client.
	slog.Warn("Responding with error", "status_code", statusCode, "client_message", message, "internal_error", err)

	respondWithJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondWithJSON marshals a payload to JSON and writes it with a status code.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// sendStreamError answers a stream request that failed before streaming
// started: the status line carries the error and the body holds exactly one
// SSE error event.
func sendStreamError(w http.ResponseWriter, status int, payload model.ErrorPayload) {
	slog.Warn("Rejecting stream request", "status_code", status, "code", payload.Code, "message", payload.Message)

	setStreamHeaders(w)
	w.WriteHeader(status)
	if err := writeStreamEvent(w, model.EventError, payload); err != nil {
		slog.Warn("Failed to write stream error, client might have disconnected", "error", err)
	}
}

// writeStreamEvent marshals data and writes it as one SSE event. An empty
// event name writes an unnamed event. A write error means the client is gone.
func writeStreamEvent(w http.ResponseWriter, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		// The stream itself is still usable.
		slog.Error("Failed to marshal stream data to JSON", "event", event, "error", err)
		return nil
	}

	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return fmt.Errorf("failed to write event to stream: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		return fmt.Errorf("failed to write data to stream: %w", err)
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
