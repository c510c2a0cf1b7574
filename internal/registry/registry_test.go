package registry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openchat/backend/internal/model"
	"openchat/backend/internal/registry"
)

type fakeCatalog struct {
	mu     sync.Mutex
	models []model.CatalogModel
	err    error
	calls  atomic.Int32
}

func (f *fakeCatalog) FindActiveModels(ctx context.Context, provider string) ([]model.CatalogModel, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []model.CatalogModel
	for _, m := range f.models {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeCatalog) set(models []model.CatalogModel, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models, f.err = models, err
}

type fakeProviders map[string]bool

func (p fakeProviders) Has(name string) bool { return p[name] }
func (p fakeProviders) Names() []string {
	var out []string
	for k := range p {
		out = append(out, k)
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func catalogRows() []model.CatalogModel {
	return []model.CatalogModel{
		{Name: "gemma:2b", DisplayName: "Gemma 2B", Provider: model.ProviderOllama, IsActive: true},
		{Name: "llama3.2:latest", Provider: model.ProviderOllama, IsActive: true},
	}
}

func setupRegistry(t *testing.T) (*registry.ModelRegistry, *fakeCatalog, *clock) {
	t.Helper()
	cat := &fakeCatalog{models: catalogRows()}
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := registry.New(cat, fakeProviders{"openai": true},
		registry.WithTTL(5*time.Minute),
		registry.WithFallback([]string{"safe:1b"}),
		registry.WithClock(clk.now),
	)
	return reg, cat, clk
}

func requireModelError(t *testing.T, err error, code string) *registry.ModelError {
	t.Helper()
	var merr *registry.ModelError
	require.True(t, errors.As(err, &merr), "expected ModelError, got %v", err)
	assert.Equal(t, code, merr.Code)
	return merr
}

func TestModelRegistry_Resolve(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name        string
		raw         interface{}
		provider    string
		expectCode  string
		expectID    string
		expectLabel string
	}{
		{name: "Known local model", raw: "gemma:2b", expectID: "gemma:2b", expectLabel: "Gemma 2B"},
		{name: "Trims whitespace", raw: "  llama3.2:latest ", expectID: "llama3.2:latest", expectLabel: "llama3.2:latest"},
		{name: "Nil identifier", raw: nil, expectCode: registry.CodeMissingModelID},
		{name: "Blank identifier", raw: "   ", expectCode: registry.CodeMissingModelID},
		{name: "Number identifier", raw: 42.0, expectCode: registry.CodeInvalidModelType},
		{name: "Object identifier", raw: map[string]interface{}{"id": "x"}, expectCode: registry.CodeInvalidModelType},
		{name: "Unknown model", raw: "unknown-model", expectCode: registry.CodeModelNotFound},
		{name: "External provider", raw: "gpt-4o-mini", provider: "OpenAI", expectID: "gpt-4o-mini", expectLabel: "gpt-4o-mini"},
		{name: "Unsupported provider", raw: "x", provider: "acme", expectCode: registry.CodeUnknownProvider},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reg, _, _ := setupRegistry(t)
			resolved, err := reg.Resolve(ctx, tc.raw, tc.provider)
			if tc.expectCode != "" {
				requireModelError(t, err, tc.expectCode)
				assert.Nil(t, resolved)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectID, resolved.ID)
			assert.Equal(t, tc.expectLabel, resolved.DisplayName)
		})
	}
}

func TestModelRegistry_NotFoundCarriesSuggestion(t *testing.T) {
	reg, _, _ := setupRegistry(t)

	_, err := reg.Resolve(context.Background(), "GEMMA", "")
	merr := requireModelError(t, err, registry.CodeModelNotFound)
	assert.Equal(t, "gemma:2b", merr.Suggestion)
	assert.Contains(t, merr.Message, "Did you mean 'gemma:2b'?")
	assert.Equal(t, []string{"gemma:2b", "llama3.2:latest"}, merr.AvailableModels)

	_, err = reg.Resolve(context.Background(), "qwen", "")
	merr = requireModelError(t, err, registry.CodeModelNotFound)
	assert.Empty(t, merr.Suggestion)
}

func TestModelRegistry_CacheTTL(t *testing.T) {
	ctx := context.Background()
	reg, cat, clk := setupRegistry(t)

	_, err := reg.Resolve(ctx, "gemma:2b", "")
	require.NoError(t, err)
	_, err = reg.Resolve(ctx, "gemma:2b", "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), cat.calls.Load())

	cat.set([]model.CatalogModel{{Name: "phi3", Provider: model.ProviderOllama, IsActive: true}}, nil)

	clk.advance(4 * time.Minute)
	_, err = reg.Resolve(ctx, "gemma:2b", "")
	require.NoError(t, err, "snapshot is still fresh")

	clk.advance(2 * time.Minute)
	_, err = reg.Resolve(ctx, "gemma:2b", "")
	requireModelError(t, err, registry.CodeModelNotFound)
	assert.Equal(t, int32(2), cat.calls.Load())
}

func TestModelRegistry_Invalidate(t *testing.T) {
	ctx := context.Background()
	reg, cat, _ := setupRegistry(t)

	assert.Equal(t, []string{"gemma:2b", "llama3.2:latest"}, reg.AllowedModels(ctx))

	cat.set([]model.CatalogModel{{Name: "phi3", Provider: model.ProviderOllama, IsActive: true}}, nil)
	reg.Invalidate()

	assert.Equal(t, []string{"phi3"}, reg.AllowedModels(ctx))
	assert.Equal(t, int32(2), cat.calls.Load())
}

func TestModelRegistry_Fallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("Previous snapshot survives catalog outage", func(t *testing.T) {
		reg, cat, clk := setupRegistry(t)
		require.Len(t, reg.AllowedModels(ctx), 2)

		cat.set(nil, errors.New("connection refused"))
		clk.advance(10 * time.Minute)

		_, err := reg.Resolve(ctx, "gemma:2b", "")
		assert.NoError(t, err)
	})

	t.Run("Safety list when catalog never loaded", func(t *testing.T) {
		reg, cat, _ := setupRegistry(t)
		cat.set(nil, errors.New("connection refused"))

		assert.Equal(t, []string{"safe:1b"}, reg.AllowedModels(ctx))
		_, err := reg.Resolve(ctx, "safe:1b", "")
		assert.NoError(t, err)
	})

	t.Run("Safety list when catalog is empty", func(t *testing.T) {
		reg, cat, _ := setupRegistry(t)
		cat.set(nil, nil)

		assert.Equal(t, []string{"safe:1b"}, reg.AllowedModels(ctx))
	})
}

func TestModelRegistry_ConcurrentResolve(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := setupRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Resolve(ctx, "gemma:2b", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestModelRegistry_RefreshIgnoresCallerCancellation(t *testing.T) {
	reg, cat, _ := setupRegistry(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A caller that already went away still triggers a real catalog read.
	assert.ElementsMatch(t, []string{"gemma:2b", "llama3.2:latest"}, reg.AllowedModels(ctx))
	assert.Equal(t, int32(1), cat.calls.Load())

	// The result was cached, so the next caller does not refetch.
	assert.ElementsMatch(t, []string{"gemma:2b", "llama3.2:latest"}, reg.AllowedModels(context.Background()))
	assert.Equal(t, int32(1), cat.calls.Load())
}
