package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status values a user can publish to peers.
const (
	StatusOnline  = "online"
	StatusBusy    = "busy"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// User describes a registered account and its profile fields.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	FullName string `json:"full_name"`
	Avatar   string `json:"avatar"`
	Status   string `gorm:"default:offline" json:"status"`

	// VerificationToken is present until the account confirms its email.
	VerificationToken *string    `gorm:"uniqueIndex" json:"-"`
	VerifiedAt        *time.Time `json:"verified_at"`

	Sessions []Session `gorm:"foreignKey:UserID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// IsVerified reports whether the account confirmed its email address.
func (u *User) IsVerified() bool {
	return u.VerifiedAt != nil
}

// ValidStatus reports whether the given status is one of the published values.
func ValidStatus(status string) bool {
	switch status {
	case StatusOnline, StatusBusy, StatusAway, StatusOffline:
		return true
	}
	return false
}
