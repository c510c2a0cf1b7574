package api_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"openchat/backend/internal/api"
	app_errors "openchat/backend/internal/errors"
	"openchat/backend/internal/interfaces/mocks"
	"openchat/backend/internal/llm"
	"openchat/backend/internal/service"
)

func setupKeyHandler(t *testing.T) (*api.KeyHandler, *mocks.MockKeyService) {
	mockKeySvc := mocks.NewMockKeyService(t)
	return api.NewKeyHandler(mockKeySvc), mockKeySvc
}

func TestKeyHandler_HandleListKeys(t *testing.T) {
	handler, mockSvc := setupKeyHandler(t)
	mockSvc.On("List", mock.Anything, testUser).Return([]service.KeyStatus{
		{Provider: "anthropic", HasFallback: true},
		{Provider: "openai", Stored: true},
	}, nil).Once()

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/keys", nil))
	rr := httptest.NewRecorder()
	handler.HandleListKeys(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[
		{"provider":"anthropic","stored":false,"has_fallback":true},
		{"provider":"openai","stored":true,"has_fallback":false}
	]`, rr.Body.String())
}

func TestKeyHandler_HandleSetKey(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockSvc := setupKeyHandler(t)
		mockSvc.On("Set", mock.Anything, testUser, "openai", "sk-test").Return(nil).Once()

		req := httptest.NewRequest(http.MethodPut, "/v1/keys/openai", strings.NewReader(`{"api_key":"sk-test"}`))
		req = authed(addChiURLParams(req, map[string]string{"provider": "openai"}))
		rr := httptest.NewRecorder()
		handler.HandleSetKey(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.NotContains(t, rr.Body.String(), "sk-test")
	})

	t.Run("Failure - Missing key", func(t *testing.T) {
		handler, _ := setupKeyHandler(t)

		req := httptest.NewRequest(http.MethodPut, "/v1/keys/openai", strings.NewReader(`{}`))
		req = authed(addChiURLParams(req, map[string]string{"provider": "openai"}))
		rr := httptest.NewRecorder()
		handler.HandleSetKey(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "Field 'api_key' failed on the 'required' tag")
	})

	t.Run("Failure - Unknown provider", func(t *testing.T) {
		handler, mockSvc := setupKeyHandler(t)
		mockSvc.On("Set", mock.Anything, testUser, "acme", "k").Return(app_errors.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodPut, "/v1/keys/acme", strings.NewReader(`{"api_key":"k"}`))
		req = authed(addChiURLParams(req, map[string]string{"provider": "acme"}))
		rr := httptest.NewRecorder()
		handler.HandleSetKey(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestKeyHandler_HandleDeleteKey(t *testing.T) {
	handler, mockSvc := setupKeyHandler(t)
	mockSvc.On("Delete", mock.Anything, testUser, "openai").Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/v1/keys/openai", nil)
	req = authed(addChiURLParams(req, map[string]string{"provider": "openai"}))
	rr := httptest.NewRecorder()
	handler.HandleDeleteKey(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestKeyHandler_HandleProviderModels(t *testing.T) {
	testCases := []struct {
		name       string
		models     []string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Success",
			models:     []string{"gpt-4o", "gpt-4o-mini"},
			wantStatus: http.StatusOK,
			wantBody:   `"models":["gpt-4o","gpt-4o-mini"]`,
		},
		{
			name:       "No key configured",
			err:        llm.NewRuntimeError(llm.CodeMissingAPIKey, "No API key configured for openai", nil),
			wantStatus: http.StatusBadRequest,
			wantBody:   "No API key configured for openai",
		},
		{
			name:       "Provider failure",
			err:        llm.NewRuntimeError(llm.CodeProviderError, "openai: upstream unavailable", nil),
			wantStatus: http.StatusBadGateway,
			wantBody:   "upstream unavailable",
		},
		{
			name:       "Unknown provider",
			err:        app_errors.ErrNotFound,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler, mockSvc := setupKeyHandler(t)
			mockSvc.On("ProviderModels", mock.Anything, testUser, "openai").Return(tc.models, tc.err).Once()

			req := httptest.NewRequest(http.MethodGet, "/v1/providers/openai/models", nil)
			req = authed(addChiURLParams(req, map[string]string{"provider": "openai"}))
			rr := httptest.NewRecorder()
			handler.HandleProviderModels(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantBody != "" {
				assert.Contains(t, rr.Body.String(), tc.wantBody)
			}
		})
	}
}
