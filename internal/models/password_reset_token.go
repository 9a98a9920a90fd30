package models

import "time"

// PasswordResetToken is a single-use credential mailed to an account.
// Expiry is judged against CreatedAt when the token is consumed; no
// background job ever sweeps this table.
type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"not null;index" json:"email"`
	Token     string    `gorm:"uniqueIndex;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
