package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Session tracks one refresh-token lineage for a user. The refresh secret
// itself is never stored; TokenHash holds its SHA-256 digest.
type Session struct {
	ID         string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID     string         `gorm:"type:uuid;not null;index" json:"user_id"`
	User       *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	TokenHash  string         `gorm:"uniqueIndex;not null" json:"-"`
	Abilities  datatypes.JSON `json:"abilities"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	ExpiresAt  time.Time      `gorm:"index" json:"expires_at"`
	LastUsedAt time.Time      `json:"last_used_at"`
	CreatedAt  time.Time      `json:"created_at"`
	RevokedAt  *time.Time     `json:"revoked_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Active reports whether the session can still be used at the given instant.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Can reports whether the session grants the named ability. The "*" ability
// grants everything.
func (s *Session) Can(ability string) bool {
	var abilities []string
	if len(s.Abilities) > 0 {
		if err := json.Unmarshal(s.Abilities, &abilities); err != nil {
			return false
		}
	}

	for _, a := range abilities {
		if a == "*" || a == ability {
			return true
		}
	}
	return false
}

// NewAbilities encodes an ability list for storage on a session.
func NewAbilities(abilities ...string) datatypes.JSON {
	raw, _ := json.Marshal(abilities)
	return datatypes.JSON(raw)
}
