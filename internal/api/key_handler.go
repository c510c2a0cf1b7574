package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	app_errors "openchat/backend/internal/errors"
	"openchat/backend/internal/interfaces"
	"openchat/backend/internal/llm"
	"openchat/backend/internal/service"
)

// KeyHandler handles the caller's provider API keys.
type KeyHandler struct {
	service interfaces.KeyService
}

func NewKeyHandler(svc interfaces.KeyService) *KeyHandler {
	return &KeyHandler{service: svc}
}

// ProviderModelsResponse lists the models offered by an external provider.
type ProviderModelsResponse struct {
	Provider string   `json:"provider"`
	Models   []string `json:"models"`
}

// HandleListKeys godoc
// @Summary      List API keys
// @Description  Reports, per provider, whether the caller stored a key and whether a server fallback exists. Keys are never returned.
// @Tags         Keys
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   service.KeyStatus
// @Router       /v1/keys [get]
func (h *KeyHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	owner, _ := callerID(r)
	keys, err := h.service.List(r.Context(), owner)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, keys)
}

// HandleSetKey godoc
// @Summary      Store an API key
// @Tags         Keys
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        provider  path      string                 true  "Provider name"
// @Param        body      body      service.SetKeyRequest  true  "Key"
// @Success      200       {object}  StatusResponse
// @Failure      400       {object}  ErrorResponse
// @Failure      404       {object}  ErrorResponse
// @Router       /v1/keys/{provider} [put]
func (h *KeyHandler) HandleSetKey(w http.ResponseWriter, r *http.Request) {
	owner, _ := callerID(r)

	var req service.SetKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, app_errors.ErrValidation)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	if err := h.service.Set(r.Context(), owner, chi.URLParam(r, "provider"), req.APIKey); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// HandleDeleteKey godoc
// @Summary      Remove an API key
// @Tags         Keys
// @Security     BearerAuth
// @Param        provider  path  string  true  "Provider name"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/keys/{provider} [delete]
func (h *KeyHandler) HandleDeleteKey(w http.ResponseWriter, r *http.Request) {
	owner, _ := callerID(r)
	if err := h.service.Delete(r.Context(), owner, chi.URLParam(r, "provider")); err != nil {
		respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleProviderModels godoc
// @Summary      List provider models
// @Description  Lists the models an external provider offers for the caller's key.
// @Tags         Keys
// @Produce      json
// @Security     BearerAuth
// @Param        provider  path      string  true  "Provider name"
// @Success      200       {object}  ProviderModelsResponse
// @Failure      400       {object}  ErrorResponse
// @Failure      502       {object}  ErrorResponse
// @Router       /v1/providers/{provider}/models [get]
func (h *KeyHandler) HandleProviderModels(w http.ResponseWriter, r *http.Request) {
	owner, _ := callerID(r)
	name := chi.URLParam(r, "provider")

	models, err := h.service.ProviderModels(r.Context(), owner, name)
	if err != nil {
		var rerr *llm.RuntimeError
		if errors.As(err, &rerr) {
			status := http.StatusBadGateway
			if rerr.Code == llm.CodeMissingAPIKey {
				status = http.StatusBadRequest
			}
			respondWithJSON(w, status, ErrorResponse{Error: rerr.Message})
			return
		}
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ProviderModelsResponse{Provider: name, Models: models})
}
