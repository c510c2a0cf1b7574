package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	app_errors "openchat/backend/internal/errors"
	"openchat/backend/internal/interfaces"
	"openchat/backend/internal/service"
)

// ModelHandler handles HTTP requests for the model catalog.
type ModelHandler struct {
	service interfaces.ModelService
}

func NewModelHandler(svc interfaces.ModelService) *ModelHandler {
	return &ModelHandler{service: svc}
}

// AllowedModelsResponse lists the local models chat requests may use.
type AllowedModelsResponse struct {
	Models []string `json:"models"`
}

// HandleListModels godoc
// @Summary      List catalog models
// @Description  Lists every catalog entry, active or not.
// @Tags         Models
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   model.CatalogModel
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/models [get]
func (h *ModelHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.service.List(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models)
}

// HandleAllowedModels godoc
// @Summary      Allowed local models
// @Description  Returns the current allow-list snapshot used to validate chat requests.
// @Tags         Models
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  AllowedModelsResponse
// @Router       /v1/models/allowed [get]
func (h *ModelHandler) HandleAllowedModels(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, AllowedModelsResponse{Models: h.service.Allowed(r.Context())})
}

// HandleRuntimeModels godoc
// @Summary      Runtime models
// @Description  Lists the models installed in the local Ollama runtime.
// @Tags         Models
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  llm.ListModelsResponse
// @Failure      502  {object}  ErrorResponse
// @Router       /v1/models/runtime [get]
func (h *ModelHandler) HandleRuntimeModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.service.RuntimeModels(r.Context())
	if err != nil {
		respondWithJSON(w, http.StatusBadGateway, ErrorResponse{Error: "Could not reach the model runtime"})
		return
	}
	respondWithJSON(w, http.StatusOK, models)
}

// HandleCreateModel godoc
// @Summary      Add a catalog model
// @Tags         Models
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      service.CreateModelRequest  true  "Model"
// @Success      201   {object}  model.CatalogModel
// @Failure      400   {object}  ErrorResponse
// @Failure      409   {object}  ErrorResponse
// @Router       /v1/models [post]
func (h *ModelHandler) HandleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req service.CreateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, app_errors.ErrValidation)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	created, err := h.service.Create(r.Context(), &req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

// HandleUpdateModel godoc
// @Summary      Update a catalog model
// @Tags         Models
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        name  path      string                      true  "Model name"
// @Param        body  body      service.UpdateModelRequest  true  "Fields to change"
// @Success      200   {object}  model.CatalogModel
// @Failure      404   {object}  ErrorResponse
// @Router       /v1/models/{name} [put]
func (h *ModelHandler) HandleUpdateModel(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, app_errors.ErrValidation)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	updated, err := h.service.Update(r.Context(), chi.URLParam(r, "name"), &req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

// HandleDeleteModel godoc
// @Summary      Remove a catalog model
// @Tags         Models
// @Security     BearerAuth
// @Param        name  path  string  true  "Model name"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/models/{name} [delete]
func (h *ModelHandler) HandleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
