package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	app_errors "openchat/backend/internal/errors"
	"openchat/backend/internal/llm"
	"openchat/backend/internal/model"
	"openchat/backend/internal/repository"
)

// CatalogCache is the part of the model registry the catalog editor needs.
type CatalogCache interface {
	AllowedModels(ctx context.Context) []string
	Invalidate()
}

// CreateModelRequest adds a model to the catalog.
type CreateModelRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	DisplayName string `json:"display_name" validate:"max=200"`
	Provider    string `json:"provider" validate:"omitempty,max=32"`
	IsActive    *bool  `json:"is_active"`
}

// UpdateModelRequest changes catalog fields; nil fields are left as they are.
type UpdateModelRequest struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=200"`
	Provider    *string `json:"provider" validate:"omitempty,max=32"`
	IsActive    *bool   `json:"is_active"`
}

// ModelService handles the business logic for model management.
type ModelService struct {
	catalog repository.CatalogStore
	cache   CatalogCache
	llm     llm.LLMProvider
}

// NewModelService creates a new ModelService.
func NewModelService(catalog repository.CatalogStore, cache CatalogCache, llmProvider llm.LLMProvider) *ModelService {
	return &ModelService{catalog: catalog, cache: cache, llm: llmProvider}
}

// List returns every catalog entry, active or not.
func (s *ModelService) List(ctx context.Context) ([]model.CatalogModel, error) {
	return s.catalog.ListCatalogModels(ctx)
}

// Allowed returns the local model names chat requests may use right now.
func (s *ModelService) Allowed(ctx context.Context) []string {
	return s.cache.AllowedModels(ctx)
}

// RuntimeModels lists the models installed in the local runtime.
func (s *ModelService) RuntimeModels(ctx context.Context) (*llm.ListModelsResponse, error) {
	return s.llm.ListModels(ctx)
}

func (s *ModelService) Create(ctx context.Context, req *CreateModelRequest) (*model.CatalogModel, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", app_errors.ErrValidation)
	}

	_, err := s.catalog.GetCatalogModel(ctx, name)
	if err == nil {
		return nil, fmt.Errorf("%w: model '%s' already exists", app_errors.ErrConflict, name)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("could not check catalog: %w", err)
	}

	entry := &model.CatalogModel{
		Name:        name,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Provider:    providerOrDefault(req.Provider),
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	if err := s.catalog.UpsertCatalogModel(ctx, entry); err != nil {
		return nil, fmt.Errorf("could not save model: %w", err)
	}
	s.cache.Invalidate()

	slog.Info("Model added to catalog", "model", entry.Name, "provider", entry.Provider, "active", entry.IsActive)
	return s.catalog.GetCatalogModel(ctx, name)
}

func (s *ModelService) Update(ctx context.Context, name string, req *UpdateModelRequest) (*model.CatalogModel, error) {
	entry, err := s.catalog.GetCatalogModel(ctx, name)
	if err != nil {
		return nil, translateRepoErr(err, "could not get model")
	}

	if req.DisplayName != nil {
		entry.DisplayName = strings.TrimSpace(*req.DisplayName)
	}
	if req.Provider != nil {
		entry.Provider = providerOrDefault(*req.Provider)
	}
	if req.IsActive != nil {
		entry.IsActive = *req.IsActive
	}

	if err := s.catalog.UpsertCatalogModel(ctx, entry); err != nil {
		return nil, fmt.Errorf("could not save model: %w", err)
	}
	s.cache.Invalidate()

	slog.Info("Model catalog entry updated", "model", entry.Name, "active", entry.IsActive)
	return s.catalog.GetCatalogModel(ctx, name)
}

// Delete removes a local model.
func (s *ModelService) Delete(ctx context.Context, name string) error {
	if err := s.catalog.DeleteCatalogModel(ctx, name); err != nil {
		return translateRepoErr(err, "could not delete model")
	}
	s.cache.Invalidate()
	slog.Info("Model removed from catalog", "model", name)
	return nil
}

func providerOrDefault(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return model.ProviderOllama
	}
	return p
}
