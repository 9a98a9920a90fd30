package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oakheim/accounts/internal/middleware"
	"github.com/oakheim/accounts/internal/services"
	appErrors "github.com/oakheim/accounts/pkg/errors"
	"github.com/oakheim/accounts/pkg/response"
)

// maxAvatarBytes bounds uploaded avatar files.
const maxAvatarBytes = 2 << 20

var allowedAvatarExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// ProfileHandler exposes current-user account management endpoints.
type ProfileHandler struct {
	users     *services.UserService
	uploadDir string
}

// NewProfileHandler configures a profile handler with required services.
func NewProfileHandler(users *services.UserService, uploadDir string) *ProfileHandler {
	return &ProfileHandler{users: users, uploadDir: uploadDir}
}

type updateProfileRequest struct {
	FullName *string `json:"full_name" validate:"omitempty,max=128"`
	Email    *string `json:"email" validate:"omitempty,email"`
}

// Update modifies the authenticated user's profile details.
// PATCH /api/profile
func (h *ProfileHandler) Update(c *gin.Context) {
	var body updateProfileRequest
	if !bindAndValidate(c, &body) {
		return
	}

	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.users.UpdateProfile(requestContext(c), userID, services.UpdateProfileInput{
		FullName: body.FullName,
		Email:    body.Email,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, userPayload(user))
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=online busy away offline"`
}

// UpdateStatus publishes the authenticated user's presence status.
// POST /api/profile/status
func (h *ProfileHandler) UpdateStatus(c *gin.Context) {
	var body updateStatusRequest
	if !bindAndValidate(c, &body) {
		return
	}

	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.users.UpdateStatus(requestContext(c), userID, body.Status)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, userPayload(user))
}

// UploadAvatar stores an uploaded image and records its path.
// POST /api/profile/avatar
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	file, err := c.FormFile("avatar")
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("avatar file is required"))
		return
	}

	if file.Size > maxAvatarBytes {
		response.Error(c, appErrors.NewBadRequest("avatar must be at most 2 MiB"))
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if _, ok := allowedAvatarExts[ext]; !ok {
		response.Error(c, appErrors.NewBadRequest("avatar must be a jpg, jpeg or png file"))
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		response.Error(c, appErrors.Wrap(err, "could not prepare upload directory"))
		return
	}

	name := fmt.Sprintf("%s_%d%s", userID, time.Now().UnixMilli(), ext)
	dest := filepath.Join(h.uploadDir, name)
	if err := c.SaveUploadedFile(file, dest); err != nil {
		response.Error(c, appErrors.Wrap(err, "could not store avatar"))
		return
	}

	user, err := h.users.UpdateAvatar(requestContext(c), userID, dest)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, userPayload(user))
}
