package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	app_errors "openchat/backend/internal/errors"
	"openchat/backend/internal/llm"
	"openchat/backend/internal/provider"
	"openchat/backend/internal/repository"
)

// Providers lists and looks up external provider adapters.
type Providers interface {
	AdapterLookup
	Names() []string
}

// KeyStatus reports where a provider key would come from for a caller.
type KeyStatus struct {
	Provider    string `json:"provider"`
	Stored      bool   `json:"stored"`
	HasFallback bool   `json:"has_fallback"`
}

type SetKeyRequest struct {
	APIKey string `json:"api_key" validate:"required,max=512"`
}

// KeyService manages per-user provider API keys. Keys configured for the
// process serve as a fallback when a user has none stored.
type KeyService struct {
	store     repository.KeyStore
	providers Providers
	fallback  map[string]string
	validate  bool
}

func NewKeyService(store repository.KeyStore, providers Providers, fallback map[string]string, validate bool) *KeyService {
	return &KeyService{store: store, providers: providers, fallback: fallback, validate: validate}
}

func (s *KeyService) List(ctx context.Context, ownerID string) ([]KeyStatus, error) {
	stored, err := s.store.ListAPIKeyProviders(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("could not list keys: %w", err)
	}
	has := make(map[string]bool, len(stored))
	for _, p := range stored {
		has[p] = true
	}

	names := s.providers.Names()
	statuses := make([]KeyStatus, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, KeyStatus{
			Provider:    name,
			Stored:      has[name],
			HasFallback: s.fallback[name] != "",
		})
	}
	return statuses, nil
}

// Set stores a key, checking it against the provider first when validation
// is enabled.
func (s *KeyService) Set(ctx context.Context, ownerID, providerName, apiKey string) error {
	adapter, err := s.adapter(providerName)
	if err != nil {
		return err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("%w: api key cannot be empty", app_errors.ErrValidation)
	}

	if s.validate {
		if err := adapter.ValidateKey(ctx, apiKey); err != nil {
			slog.Warn("API key rejected by provider", "provider", providerName, "error", err)
			return fmt.Errorf("%w: key was rejected by %s", app_errors.ErrValidation, providerName)
		}
	}

	if err := s.store.SetAPIKey(ctx, ownerID, providerName, apiKey); err != nil {
		return fmt.Errorf("could not save key: %w", err)
	}
	slog.Info("API key stored", "provider", providerName)
	return nil
}

func (s *KeyService) Delete(ctx context.Context, ownerID, providerName string) error {
	if _, err := s.adapter(providerName); err != nil {
		return err
	}
	return translateRepoErr(s.store.DeleteAPIKey(ctx, ownerID, providerName), "could not delete key")
}

// ResolveKey returns the caller's stored key or the process fallback. It
// fails with a MISSING_API_KEY runtime error when neither exists.
func (s *KeyService) ResolveKey(ctx context.Context, ownerID, providerName string) (string, error) {
	key, err := s.store.GetAPIKey(ctx, ownerID, providerName)
	if err == nil && key != "" {
		return key, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", llm.NewRuntimeError(llm.CodeInternalError, "Could not load API key", err)
	}
	if key := s.fallback[providerName]; key != "" {
		return key, nil
	}
	return "", llm.NewRuntimeError(llm.CodeMissingAPIKey,
		fmt.Sprintf("No API key configured for provider '%s'", providerName), nil)
}

// ProviderModels lists the models a provider offers with the caller's key.
func (s *KeyService) ProviderModels(ctx context.Context, ownerID, providerName string) ([]string, error) {
	adapter, err := s.adapter(providerName)
	if err != nil {
		return nil, err
	}
	key, err := s.ResolveKey(ctx, ownerID, providerName)
	if err != nil {
		return nil, err
	}
	return adapter.ListModels(ctx, key)
}

func (s *KeyService) adapter(name string) (provider.Adapter, error) {
	adapter, ok := s.providers.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider '%s'", app_errors.ErrNotFound, name)
	}
	return adapter, nil
}
