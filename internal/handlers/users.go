package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oakheim/accounts/internal/services"
	"github.com/oakheim/accounts/pkg/response"
)

// UsersHandler exposes read access to other users' public profiles.
type UsersHandler struct {
	users *services.UserService
}

func NewUsersHandler(users *services.UserService) *UsersHandler {
	return &UsersHandler{users: users}
}

// Get returns a user's public profile.
// GET /api/users/:id
func (h *UsersHandler) Get(c *gin.Context) {
	user, err := h.users.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, userPayload(user))
}
