package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/oakheim/accounts/internal/models"
	apperrors "github.com/oakheim/accounts/pkg/errors"
)

// UpdateProfileInput lists the profile fields a user may change. Nil means
// leave the field alone; the update is assembled field by field, never by
// merging a client-supplied model.
type UpdateProfileInput struct {
	FullName *string
	Email    *string
}

// UserService exposes profile reads and updates.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

// GetByID loads a user by ID.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find user: %w", err)
	}
	return &user, nil
}

// UpdateProfile applies the supplied profile changes.
func (s *UserService) UpdateProfile(ctx context.Context, id string, input UpdateProfileInput) (*models.User, error) {
	updates := map[string]any{}

	if input.FullName != nil {
		updates["full_name"] = strings.TrimSpace(*input.FullName)
	}
	if input.Email != nil {
		email := strings.TrimSpace(*input.Email)
		if email == "" {
			return nil, apperrors.NewBadRequest("email cannot be empty")
		}
		updates["email"] = email
	}

	if len(updates) == 0 {
		return s.GetByID(ctx, id)
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return nil, apperrors.ErrEmailTaken
		}
		return nil, fmt.Errorf("user service: update profile: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrUserNotFound
	}

	return s.GetByID(ctx, id)
}

// UpdateStatus sets the user's published presence status.
func (s *UserService) UpdateStatus(ctx context.Context, id, status string) (*models.User, error) {
	if !models.ValidStatus(status) {
		return nil, apperrors.NewBadRequest("status must be one of online, busy, away, offline")
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return nil, fmt.Errorf("user service: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrUserNotFound
	}

	return s.GetByID(ctx, id)
}

// UpdateAvatar records the stored avatar path on the user.
func (s *UserService) UpdateAvatar(ctx context.Context, id, path string) (*models.User, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, apperrors.NewBadRequest("avatar path is required")
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("avatar", path)
	if result.Error != nil {
		return nil, fmt.Errorf("user service: update avatar: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrUserNotFound
	}

	return s.GetByID(ctx, id)
}
