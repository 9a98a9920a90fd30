package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oakheim/accounts/internal/app"
	iauth "github.com/oakheim/accounts/internal/auth"
	"github.com/oakheim/accounts/internal/database/testutil"
	"github.com/oakheim/accounts/internal/models"
)

type apiResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)

	cfg := &app.Config{}
	cfg.Server.Port = 8000
	cfg.Server.BaseURL = "http://localhost:8000"
	cfg.Server.UploadDir = t.TempDir()
	cfg.Server.RateLimit.Requests = 1000
	cfg.Server.RateLimit.Window = time.Minute
	cfg.Auth.JWT.Secret = "router-test-secret"
	cfg.Auth.JWT.TTL = time.Hour
	cfg.Auth.Session.RefreshTTL = 2 * time.Hour
	cfg.Auth.Reset.Window = time.Hour

	jwt, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(db, jwt, cfg.Auth.SessionServiceConfig())
	require.NoError(t, err)

	svcs, err := BuildServices(db, sessions, nil, cfg)
	require.NoError(t, err)

	router, err := NewRouter(db, jwt, cfg, svcs)
	require.NoError(t, err)

	return router, db
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var parsed apiResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec, parsed
}

func registerAndLogin(t *testing.T, r *gin.Engine, db *gorm.DB, email string) (accessToken, refreshToken, userID string) {
	t.Helper()

	rec, resp := doJSON(t, r, http.MethodPost, "/api/auth/register", "", gin.H{
		"email":     email,
		"password":  "password-123",
		"full_name": "Test User",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	userID = resp.Data["id"].(string)

	// Confirm the email via the mailed token.
	var user models.User
	require.NoError(t, db.Take(&user, "id = ?", userID).Error)
	require.NotNil(t, user.VerificationToken)

	rec, _ = doJSON(t, r, http.MethodGet, "/api/auth/verify-email?token="+*user.VerificationToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = doJSON(t, r, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    email,
		"password": "password-123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tokens := resp.Data["tokens"].(map[string]any)
	return tokens["access_token"].(string), tokens["refresh_token"].(string), userID
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	r, _ := setupRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	r, _ := setupRouter(t)

	rec, resp := doJSON(t, r, http.MethodGet, "/api/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestRegisterValidation(t *testing.T) {
	r, _ := setupRouter(t)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/auth/register", "", gin.H{
		"email":    "not-an-email",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", resp.Error.Code)
}

func TestRegisterDuplicateEmailConflict(t *testing.T) {
	r, _ := setupRouter(t)

	payload := gin.H{"email": "dup@example.com", "password": "password-123"}

	rec, _ := doJSON(t, r, http.MethodPost, "/api/auth/register", "", payload)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/auth/register", "", payload)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "EMAIL_TAKEN", resp.Error.Code)
}

func TestLoginFailureHidesWhichCheckFailed(t *testing.T) {
	r, db := setupRouter(t)
	registerAndLogin(t, r, db, "known@example.com")

	rec1, resp1 := doJSON(t, r, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "known@example.com", "password": "wrong-password",
	})
	rec2, resp2 := doJSON(t, r, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "ghost@example.com", "password": "wrong-password",
	})

	require.Equal(t, http.StatusUnauthorized, rec1.Code)
	require.Equal(t, http.StatusUnauthorized, rec2.Code)
	require.Equal(t, resp1.Error.Code, resp2.Error.Code)
	require.Equal(t, resp1.Error.Message, resp2.Error.Message)
}

func TestMeAndLogoutFlow(t *testing.T) {
	r, db := setupRouter(t)
	access, refresh, userID := registerAndLogin(t, r, db, "flow@example.com")

	rec, resp := doJSON(t, r, http.MethodGet, "/api/auth/me", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, userID, resp.Data["id"])
	require.Equal(t, true, resp.Data["verified"])

	rec, _ = doJSON(t, r, http.MethodPost, "/api/auth/logout", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The refresh lineage dies with the session.
	rec, _ = doJSON(t, r, http.MethodPost, "/api/auth/refresh", "", gin.H{"refresh_token": refresh})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRotatesSecrets(t *testing.T) {
	r, db := setupRouter(t)
	_, refresh, _ := registerAndLogin(t, r, db, "rotate@example.com")

	rec, resp := doJSON(t, r, http.MethodPost, "/api/auth/refresh", "", gin.H{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := resp.Data["refresh_token"].(string)
	require.NotEqual(t, refresh, rotated)

	// The superseded secret no longer works.
	rec, _ = doJSON(t, r, http.MethodPost, "/api/auth/refresh", "", gin.H{"refresh_token": refresh})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyEmailRejectsReplay(t *testing.T) {
	r, db := setupRouter(t)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "replay@example.com", "password": "password-123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var user models.User
	require.NoError(t, db.Take(&user, "id = ?", resp.Data["id"]).Error)
	token := *user.VerificationToken

	rec, _ = doJSON(t, r, http.MethodGet, "/api/auth/verify-email?token="+token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, errResp := doJSON(t, r, http.MethodGet, "/api/auth/verify-email?token="+token, "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VERIFICATION_TOKEN_INVALID", errResp.Error.Code)

	rec, errResp = doJSON(t, r, http.MethodGet, "/api/auth/verify-email", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VERIFICATION_TOKEN_MISSING", errResp.Error.Code)
}

func TestProfileMutationsRequireVerifiedEmail(t *testing.T) {
	r, _ := setupRouter(t)

	// Register without verifying, then log in.
	rec, _ := doJSON(t, r, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "pending@example.com", "password": "password-123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, resp := doJSON(t, r, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "pending@example.com", "password": "password-123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	access := resp.Data["tokens"].(map[string]any)["access_token"].(string)

	rec, errResp := doJSON(t, r, http.MethodPatch, "/api/profile", access, gin.H{"full_name": "Blocked"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "EMAIL_NOT_VERIFIED", errResp.Error.Code)
}

func TestProfileUpdateAndStatus(t *testing.T) {
	r, db := setupRouter(t)
	access, _, _ := registerAndLogin(t, r, db, "editor@example.com")

	rec, resp := doJSON(t, r, http.MethodPatch, "/api/profile", access, gin.H{"full_name": "Edited Name"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Edited Name", resp.Data["full_name"])

	rec, resp = doJSON(t, r, http.MethodPost, "/api/profile/status", access, gin.H{"status": "busy"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "busy", resp.Data["status"])

	rec, _ = doJSON(t, r, http.MethodPost, "/api/profile/status", access, gin.H{"status": "sleeping"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvatarUpload(t *testing.T) {
	r, db := setupRouter(t)
	access, _, userID := registerAndLogin(t, r, db, "painter@example.com")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("avatar", "me.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG fake image bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/profile/avatar", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+access)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	avatar := resp.Data["avatar"].(string)
	require.Contains(t, avatar, userID+"_")
	require.True(t, strings.HasSuffix(avatar, ".png"))
}

func TestAvatarUploadRejectsBadExtension(t *testing.T) {
	r, db := setupRouter(t)
	access, _, _ := registerAndLogin(t, r, db, "exe@example.com")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("avatar", "malware.exe")
	require.NoError(t, err)
	_, err = part.Write([]byte("MZ"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/profile/avatar", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+access)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	r, db := setupRouter(t)
	_, refresh, _ := registerAndLogin(t, r, db, "forgetful@example.com")

	rec, _ := doJSON(t, r, http.MethodPost, "/api/auth/forgot-password", "", gin.H{
		"email": "forgetful@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Unknown emails get the exact same answer.
	rec, _ = doJSON(t, r, http.MethodPost, "/api/auth/forgot-password", "", gin.H{
		"email": "stranger@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var row models.PasswordResetToken
	require.NoError(t, db.Take(&row, "email = ?", "forgetful@example.com").Error)

	rec, _ = doJSON(t, r, http.MethodPost, "/api/auth/reset-password", "", gin.H{
		"token": row.Token, "password": "brand-new-pass",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Old password dead, new one works, sessions revoked.
	rec, _ = doJSON(t, r, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "forgetful@example.com", "password": "password-123",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, r, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "forgetful@example.com", "password": "brand-new-pass",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, r, http.MethodPost, "/api/auth/refresh", "", gin.H{"refresh_token": refresh})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// The consumed token cannot be replayed.
	rec, resp := doJSON(t, r, http.MethodPost, "/api/auth/reset-password", "", gin.H{
		"token": row.Token, "password": "yet-another-pass",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "RESET_TOKEN_INVALID", resp.Error.Code)
}

func TestUsersEndpointRequiresAuth(t *testing.T) {
	r, db := setupRouter(t)
	access, _, userID := registerAndLogin(t, r, db, "viewer@example.com")

	rec, _ := doJSON(t, r, http.MethodGet, "/api/users/"+userID, "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp := doJSON(t, r, http.MethodGet, "/api/users/"+userID, access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "viewer@example.com", resp.Data["email"])

	rec, errResp := doJSON(t, r, http.MethodGet, "/api/users/missing-id", access, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "USER_NOT_FOUND", errResp.Error.Code)
}
