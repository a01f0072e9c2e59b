package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondepub/autopost/internal/platform/logger"
)

const testSecret = "test-secret"

func protected(t *testing.T, secret string) http.Handler {
	return JWTAuth(secret, logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, ok := OperatorFromContext(r.Context())
		if ok {
			w.Header().Set("X-Operator", op.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestJWTAuth(t *testing.T) {
	valid, err := IssueToken(testSecret, "ops@onde", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "ops@onde", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := IssueToken("other-secret", "ops@onde", time.Hour)
	require.NoError(t, err)
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer " + valid, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"alg none", "Bearer " + noneAlg, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/posts/pending", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			protected(t, testSecret).ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code)
			if tc.status == http.StatusNoContent {
				assert.Equal(t, "ops@onde", rr.Header().Get("X-Operator"))
			}
		})
	}
}

func TestJWTAuth_DisabledWithoutSecret(t *testing.T) {
	rr := httptest.NewRecorder()
	protected(t, "").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/posts/pending", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	_, err := IssueToken("", "ops", time.Hour)
	assert.Error(t, err)
}
