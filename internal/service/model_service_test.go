package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openchat/backend/internal/database"
	app_errors "openchat/backend/internal/errors"
	"openchat/backend/internal/llm"
	"openchat/backend/internal/llm/mocks"
	"openchat/backend/internal/model"
	"openchat/backend/internal/provider"
	"openchat/backend/internal/registry"
	"openchat/backend/internal/repository"
	"openchat/backend/internal/service"
)

func setupModelService(t *testing.T) (*service.ModelService, *registry.ModelRegistry, *mocks.MockLLMProvider) {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := repository.NewSQLiteRepository(db)
	models := registry.New(repo, provider.NewRegistry(), registry.WithFallback([]string{"fallback-model"}))
	mockLLMProvider := mocks.NewMockLLMProvider(t)
	return service.NewModelService(repo, models, mockLLMProvider), models, mockLLMProvider
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func TestModelService_RuntimeModels(t *testing.T) {
	ctx := context.Background()

	expectedResponse := &llm.ListModelsResponse{
		Models: []llm.Model{{Name: "test-model"}},
	}
	expectedError := errors.New("provider error")

	testCases := []struct {
		name         string
		setupMock    func(m *mocks.MockLLMProvider)
		expectError  bool
		expectedResp *llm.ListModelsResponse
		expectedErr  error
	}{
		{
			name: "Success",
			setupMock: func(m *mocks.MockLLMProvider) {
				m.On("ListModels", ctx).Return(expectedResponse, nil).Once()
			},
			expectedResp: expectedResponse,
		},
		{
			name: "Failure - Provider Error",
			setupMock: func(m *mocks.MockLLMProvider) {
				m.On("ListModels", ctx).Return(nil, expectedError).Once()
			},
			expectError: true,
			expectedErr: expectedError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			modelService, _, mockLLMProvider := setupModelService(t)
			tc.setupMock(mockLLMProvider)

			resp, err := modelService.RuntimeModels(ctx)

			if tc.expectError {
				assert.Error(t, err)
				assert.Equal(t, tc.expectedErr, err)
				assert.Nil(t, resp)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expectedResp, resp)
			}
		})
	}
}

func TestModelService_CatalogLifecycle(t *testing.T) {
	ctx := context.Background()
	modelService, _, _ := setupModelService(t)

	assert.Equal(t, []string{"fallback-model"}, modelService.Allowed(ctx))

	created, err := modelService.Create(ctx, &service.CreateModelRequest{Name: " llama3.2 ", DisplayName: "Llama 3.2"})
	require.NoError(t, err)
	assert.Equal(t, "llama3.2", created.Name)
	assert.Equal(t, model.ProviderOllama, created.Provider)
	assert.True(t, created.IsActive)
	assert.Equal(t, []string{"llama3.2"}, modelService.Allowed(ctx), "creating invalidates the allow-list")

	_, err = modelService.Create(ctx, &service.CreateModelRequest{Name: "llama3.2"})
	assert.ErrorIs(t, err, app_errors.ErrConflict)

	_, err = modelService.Create(ctx, &service.CreateModelRequest{Name: "  "})
	assert.ErrorIs(t, err, app_errors.ErrValidation)

	_, err = modelService.Create(ctx, &service.CreateModelRequest{Name: "mistral", IsActive: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2", "mistral"}, modelService.Allowed(ctx))

	updated, err := modelService.Update(ctx, "mistral", &service.UpdateModelRequest{
		DisplayName: strPtr("Mistral 7B"),
		IsActive:    boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "Mistral 7B", updated.DisplayName)
	assert.False(t, updated.IsActive)
	assert.Equal(t, []string{"llama3.2"}, modelService.Allowed(ctx))

	_, err = modelService.Update(ctx, "ghost", &service.UpdateModelRequest{IsActive: boolPtr(true)})
	assert.ErrorIs(t, err, app_errors.ErrNotFound)

	all, err := modelService.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, modelService.Delete(ctx, "llama3.2"))
	assert.ErrorIs(t, modelService.Delete(ctx, "llama3.2"), app_errors.ErrNotFound)
	assert.Equal(t, []string{"fallback-model"}, modelService.Allowed(ctx), "an empty catalog falls back")
}
