package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAccessToken(t *testing.T) {
	tm := newTestTokenManager()
	user := testTokenUser()

	var captured *TokenClaims
	handler := RequireAccessToken(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token", func(t *testing.T) {
		token, err := tm.GenerateAccessToken(user, "api-client", []string{"openid"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/mfa/totp", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		require.NotNil(t, captured)
		assert.Equal(t, user.ID, captured.Subject)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/mfa/totp", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/mfa/totp", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/mfa/totp", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("refresh token rejected", func(t *testing.T) {
		refresh, _, err := tm.GenerateRefreshToken(user, "api-client", "family-1", nil)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/mfa/totp", nil)
		req.Header.Set("Authorization", "Bearer "+refresh)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestClaimsFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, ClaimsFromContext(req.Context()))
}

func TestTimingDelay_FailureTakesAtLeastBaseDelay(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 20})

	start := time.Now()
	td.WaitFrom(start, false)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTimingDelay_SuccessReturnsImmediately(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 200})

	start := time.Now()
	td.WaitFrom(start, true)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestTimingDelay_DelayOnSuccess(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 20, DelayOnSuccess: true})

	start := time.Now()
	td.WaitFrom(start, true)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
