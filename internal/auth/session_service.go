package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/oakheim/accounts/internal/models"
	"github.com/oakheim/accounts/pkg/crypto"
	"github.com/oakheim/accounts/pkg/metrics"
)

// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
const DefaultRefreshTokenTTL = 30 * 24 * time.Hour

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	RefreshTokenTTL time.Duration
	RefreshLength   int
	Clock           func() time.Time
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
	Abilities []string
}

// TokenPair represents an access token and refresh token pair. The refresh
// secret appears here exactly once; only its hash is persisted.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that has been revoked.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that a refresh token has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied refresh token is malformed or unknown.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

// SessionService manages creation, rotation, and revocation of user sessions.
type SessionService struct {
	db         *gorm.DB
	jwt        *JWTService
	refreshTTL time.Duration
	tokenLen   int
	now        func() time.Time
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}

	length := cfg.RefreshLength
	if length <= 0 {
		length = 48
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:         db,
		jwt:        jwtService,
		refreshTTL: ttl,
		tokenLen:   length,
		now:        clock,
	}, nil
}

// CreateSession generates a new session and issues a fresh token pair.
func (s *SessionService) CreateSession(user *models.User, meta SessionMetadata) (TokenPair, *models.Session, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, nil, errors.New("session service: user is required")
	}

	refreshToken, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	now := s.now()

	abilities := meta.Abilities
	if len(abilities) == 0 {
		abilities = []string{"*"}
	}

	session := &models.Session{
		UserID:     user.ID,
		TokenHash:  crypto.HashToken(refreshToken),
		Abilities:  models.NewAbilities(abilities...),
		IPAddress:  strings.TrimSpace(meta.IPAddress),
		UserAgent:  strings.TrimSpace(meta.UserAgent),
		ExpiresAt:  now.Add(s.refreshTTL),
		LastUsedAt: now,
	}

	if err := s.db.Create(session).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create session: %w", err)
	}

	s.publishActiveSessions()

	accessToken, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    user.ID,
		SessionID: session.ID,
		Email:     user.Email,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, session, nil
}

// FindByRefreshToken resolves an active session from a raw refresh secret.
// The lookup is by hash, so a database leak never exposes usable secrets.
func (s *SessionService) FindByRefreshToken(refreshToken string) (*models.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrSessionInvalidToken
	}

	var session models.Session
	err := s.db.Where("token_hash = ?", crypto.HashToken(refreshToken)).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	now := s.now()
	if session.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if !session.ExpiresAt.After(now) {
		s.publishActiveSessions()
		return nil, ErrSessionExpired
	}

	return &session, nil
}

// Authenticate resolves the session and its owning user from a raw refresh
// secret and records the use.
func (s *SessionService) Authenticate(refreshToken string) (*models.Session, *models.User, error) {
	session, err := s.FindByRefreshToken(refreshToken)
	if err != nil {
		return nil, nil, err
	}

	var user models.User
	if err := s.db.Take(&user, "id = ?", session.UserID).Error; err != nil {
		return nil, nil, fmt.Errorf("session service: load user: %w", err)
	}

	now := s.now()
	if err := s.db.Model(session).Update("last_used_at", now).Error; err != nil {
		return nil, nil, fmt.Errorf("session service: touch session: %w", err)
	}
	session.LastUsedAt = now

	return session, &user, nil
}

// RefreshSession rotates the refresh token and issues a new access token.
func (s *SessionService) RefreshSession(refreshToken string) (TokenPair, *models.Session, error) {
	session, user, err := s.Authenticate(refreshToken)
	if err != nil {
		return TokenPair{}, nil, err
	}

	newRefresh, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	now := s.now()
	newExpiry := now.Add(s.refreshTTL)

	// Guard on the old hash so two concurrent refreshes cannot both win.
	result := s.db.Model(&models.Session{}).
		Where("id = ? AND token_hash = ? AND revoked_at IS NULL", session.ID, session.TokenHash).
		Updates(map[string]any{
			"token_hash":   crypto.HashToken(newRefresh),
			"expires_at":   newExpiry,
			"last_used_at": now,
		})
	if result.Error != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return TokenPair{}, nil, ErrSessionInvalidToken
	}

	session.TokenHash = crypto.HashToken(newRefresh)
	session.ExpiresAt = newExpiry
	session.LastUsedAt = now

	accessToken, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    user.ID,
		SessionID: session.ID,
		Email:     user.Email,
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
	}, session, nil
}

// RevokeSession marks a session as revoked, preventing further refresh operations.
func (s *SessionService) RevokeSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}

	now := s.now()

	result := s.db.Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Updates(map[string]any{
			"revoked_at": now,
		})

	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	s.publishActiveSessions()

	return nil
}

// RevokeUserSessions revokes every active session belonging to a user.
// Called after a password reset so stolen refresh tokens stop working.
func (s *SessionService) RevokeUserSessions(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("session service: user id is required")
	}

	now := s.now()

	result := s.db.Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{
			"revoked_at": now,
		})

	if result.Error != nil {
		return fmt.Errorf("session service: revoke user sessions: %w", result.Error)
	}

	s.publishActiveSessions()

	return nil
}

// publishActiveSessions sets the gauge from a live count rather than
// increment/decrement deltas, so sessions that lapse by expiry do not leave
// the gauge drifting upward.
func (s *SessionService) publishActiveSessions() {
	var count int64
	err := s.db.Model(&models.Session{}).
		Where("revoked_at IS NULL AND expires_at > ?", s.now()).
		Count(&count).Error
	if err != nil {
		return
	}
	metrics.ActiveSessions.Set(float64(count))
}
