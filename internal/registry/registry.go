// Package registry resolves raw model identifiers from chat requests into
// trusted models before any generation cost is incurred.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"openchat/backend/internal/model"
)

// Error codes returned in ModelError.Code.
const (
	CodeMissingModelID   = "MISSING_MODEL_ID"
	CodeInvalidModelType = "INVALID_MODEL_TYPE"
	CodeModelNotFound    = "MODEL_NOT_FOUND"
	CodeUnknownProvider  = "UNKNOWN_PROVIDER"
)

const (
	DefaultTTL     = 5 * time.Minute
	refreshKey     = "allow-list"
	refreshTimeout = 10 * time.Second
)

// DefaultFallbackModels is served when the catalog has never been readable.
var DefaultFallbackModels = []string{"gemma:2b", "llama3:8b", "mistral:7b"}

// ModelError is a structured model resolution failure.
type ModelError struct {
	Code            string
	Message         string
	Suggestion      string
	AvailableModels []string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CatalogSource is the part of the catalog store the registry reads.
type CatalogSource interface {
	FindActiveModels(ctx context.Context, provider string) ([]model.CatalogModel, error)
}

// ProviderSet reports which external providers have an adapter.
type ProviderSet interface {
	Has(name string) bool
	Names() []string
}

// ResolvedModel is a validated, normalized model reference.
type ResolvedModel struct {
	ID          string
	DisplayName string
	Provider    string
}

// IsLocal reports whether the model runs on the local runtime.
func (m *ResolvedModel) IsLocal() bool {
	return m.Provider == model.ProviderOllama
}

type Option func(*ModelRegistry)

func WithTTL(ttl time.Duration) Option {
	return func(r *ModelRegistry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithFallback(models []string) Option {
	return func(r *ModelRegistry) {
		if len(models) > 0 {
			r.fallback = append([]string(nil), models...)
		}
	}
}

// WithClock replaces the time source used for cache age checks.
func WithClock(now func() time.Time) Option {
	return func(r *ModelRegistry) { r.now = now }
}

// ModelRegistry owns the process-wide allow-list snapshot of active local
// models. Readers share the snapshot; refreshes are coalesced.
type ModelRegistry struct {
	catalog   CatalogSource
	providers ProviderSet
	ttl       time.Duration
	fallback  []string
	now       func() time.Time

	mu      sync.RWMutex
	entries []model.CatalogModel
	updated time.Time

	group singleflight.Group
}

func New(catalog CatalogSource, providers ProviderSet, opts ...Option) *ModelRegistry {
	r := &ModelRegistry{
		catalog:   catalog,
		providers: providers,
		ttl:       DefaultTTL,
		fallback:  DefaultFallbackModels,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve validates raw against the allow-list for local models, or against
// the set of registered adapters for external providers. raw is whatever the
// client sent, so non-string shapes are reported as INVALID_MODEL_TYPE.
func (r *ModelRegistry) Resolve(ctx context.Context, raw interface{}, provider string) (*ResolvedModel, error) {
	if raw == nil {
		return nil, &ModelError{Code: CodeMissingModelID, Message: "Model ID is required"}
	}
	id, ok := raw.(string)
	if !ok {
		return nil, &ModelError{Code: CodeInvalidModelType, Message: "Model ID must be a string"}
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &ModelError{Code: CodeMissingModelID, Message: "Model ID is required"}
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = model.ProviderOllama
	}

	if provider != model.ProviderOllama {
		if r.providers == nil || !r.providers.Has(provider) {
			var known []string
			if r.providers != nil {
				known = r.providers.Names()
			}
			return nil, &ModelError{
				Code:            CodeUnknownProvider,
				Message:         fmt.Sprintf("Provider '%s' is not supported", provider),
				AvailableModels: known,
			}
		}
		return &ResolvedModel{ID: id, DisplayName: id, Provider: provider}, nil
	}

	entries := r.allowList(ctx)
	for _, m := range entries {
		if m.Name == id {
			return &ResolvedModel{ID: m.Name, DisplayName: m.Label(), Provider: model.ProviderOllama}, nil
		}
	}

	names := namesOf(entries)
	merr := &ModelError{
		Code:            CodeModelNotFound,
		Message:         fmt.Sprintf("Model '%s' is not available", id),
		AvailableModels: names,
	}
	if s := nearMatch(id, names); s != "" {
		merr.Suggestion = s
		merr.Message = fmt.Sprintf("Model '%s' is not available. Did you mean '%s'?", id, s)
	}
	return nil, merr
}

// AllowedModels returns the names in the current allow-list snapshot.
func (r *ModelRegistry) AllowedModels(ctx context.Context) []string {
	return namesOf(r.allowList(ctx))
}

// Invalidate forces the next resolution to refetch from the catalog.
func (r *ModelRegistry) Invalidate() {
	r.mu.Lock()
	r.updated = time.Time{}
	r.mu.Unlock()
}

func (r *ModelRegistry) allowList(ctx context.Context) []model.CatalogModel {
	r.mu.RLock()
	entries, updated := r.entries, r.updated
	r.mu.RUnlock()

	if !updated.IsZero() && r.now().Sub(updated) < r.ttl {
		return entries
	}

	// Every waiter shares this refresh, so it must not inherit one caller's
	// cancellation.
	v, _, _ := r.group.Do(refreshKey, func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return r.refresh(refreshCtx), nil
	})
	return v.([]model.CatalogModel)
}

func (r *ModelRegistry) refresh(ctx context.Context) []model.CatalogModel {
	fetched, err := r.catalog.FindActiveModels(ctx, model.ProviderOllama)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		if len(r.entries) > 0 {
			slog.Warn("Catalog unavailable, serving previous allow-list", "error", err, "models", len(r.entries))
			return r.entries
		}
		slog.Warn("Catalog unavailable, serving fallback allow-list", "error", err)
		return r.fallbackEntries()
	}

	if len(fetched) == 0 {
		slog.Info("Catalog has no active local models, using fallback allow-list")
		fetched = r.fallbackEntries()
	}
	r.entries = fetched
	r.updated = r.now()
	slog.Debug("Allow-list refreshed", "models", len(fetched))
	return fetched
}

func (r *ModelRegistry) fallbackEntries() []model.CatalogModel {
	out := make([]model.CatalogModel, 0, len(r.fallback))
	for _, name := range r.fallback {
		out = append(out, model.CatalogModel{Name: name, Provider: model.ProviderOllama, IsActive: true})
	}
	return out
}

func namesOf(entries []model.CatalogModel) []string {
	names := make([]string, 0, len(entries))
	for _, m := range entries {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

// nearMatch returns the first allowed name that contains id, or is contained
// in it, ignoring case.
func nearMatch(id string, names []string) string {
	needle := strings.ToLower(id)
	for _, name := range names {
		hay := strings.ToLower(name)
		if strings.Contains(hay, needle) || strings.Contains(needle, hay) {
			return name
		}
	}
	return ""
}
