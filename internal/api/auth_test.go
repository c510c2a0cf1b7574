package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openchat/backend/internal/api"
	"openchat/backend/internal/auth"
)

func TestRequireAuth(t *testing.T) {
	tokens := auth.NewTokens("test-secret", time.Hour)
	valid, err := tokens.GenerateJWT(testUser)
	require.NoError(t, err)
	foreign, err := auth.NewTokens("other-secret", time.Hour).GenerateJWT(testUser)
	require.NoError(t, err)

	var seen string
	handler := api.RequireAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	testCases := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"Valid token", "Bearer " + valid, http.StatusOK},
		{"Missing header", "", http.StatusUnauthorized},
		{"Wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"Signed with another secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"Garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, testUser, seen)
			} else {
				assert.Empty(t, seen)
			}
		})
	}
}
