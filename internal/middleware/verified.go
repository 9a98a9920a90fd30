package middleware

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakheim/accounts/internal/models"
	"github.com/oakheim/accounts/pkg/errors"
	"github.com/oakheim/accounts/pkg/response"
)

// EmailVerified rejects requests from accounts that have not confirmed their
// email address. It must run after Auth.
func EmailVerified(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(CtxUserIDKey)
		if userID == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		var user models.User
		if err := db.Select("verified_at").Take(&user, "id = ?", userID).Error; err != nil {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		if !user.IsVerified() {
			response.Error(c, errors.ErrEmailNotVerified)
			c.Abort()
			return
		}

		c.Next()
	}
}
