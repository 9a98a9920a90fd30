package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/oakheim/accounts/internal/auth"
	"github.com/oakheim/accounts/internal/database/testutil"
	"github.com/oakheim/accounts/internal/models"
)

func newJWT(t *testing.T) *iauth.JWTService {
	t.Helper()

	svc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "middleware-secret"})
	require.NoError(t, err)
	return svc
}

func TestAuthRejectsMissingAndMalformedHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/protected", Auth(newJWT(t)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, header := range []string{"", "Token abc", "Bearer", "Bearer "} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestAuthAcceptsValidTokenAndSetsContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	jwt := newJWT(t)
	token, err := jwt.GenerateAccessToken(iauth.AccessTokenInput{
		UserID:    "user-1",
		SessionID: "session-1",
	})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/protected", Auth(jwt), func(c *gin.Context) {
		require.Equal(t, "user-1", c.GetString(CtxUserIDKey))
		require.Equal(t, "session-1", c.GetString(CtxSessionIDKey))
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEmailVerifiedGate(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)

	unverified := &models.User{Email: "pending@example.com", Password: "x"}
	require.NoError(t, db.Create(unverified).Error)

	now := time.Now()
	verified := &models.User{Email: "done@example.com", Password: "x", VerifiedAt: &now}
	require.NoError(t, db.Create(verified).Error)

	r := gin.New()
	r.GET("/gated", func(c *gin.Context) {
		c.Set(CtxUserIDKey, c.Query("uid"))
	}, EmailVerified(db), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gated?uid="+unverified.ID, nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "EMAIL_NOT_VERIFIED")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gated?uid="+verified.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitBlocksAfterThreshold(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/limited", RateLimit(2, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/limited", nil))
		codes = append(codes, rec.Code)
	}

	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/", SecurityHeaders(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, apiContentSecurityPolicy, rec.Header().Get("Content-Security-Policy"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
