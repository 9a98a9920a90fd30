package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/oakheim/accounts/internal/auth"
	"github.com/oakheim/accounts/internal/models"
	"github.com/oakheim/accounts/pkg/crypto"
	apperrors "github.com/oakheim/accounts/pkg/errors"
	"github.com/oakheim/accounts/pkg/logger"
	"github.com/oakheim/accounts/pkg/mail"
	"github.com/oakheim/accounts/pkg/metrics"
)

const (
	defaultResetWindow = time.Hour
	resetTokenBytes    = 32
)

// ResetOption customises the PasswordResetService.
type ResetOption func(*PasswordResetService)

// WithResetBaseURL sets the base URL used in reset links.
func WithResetBaseURL(url string) ResetOption {
	return func(s *PasswordResetService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithResetWindow overrides the token validity window.
func WithResetWindow(d time.Duration) ResetOption {
	return func(s *PasswordResetService) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithResetClock injects a custom time source.
func WithResetClock(clock func() time.Time) ResetOption {
	return func(s *PasswordResetService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// PasswordResetService issues and consumes single-use password reset tokens.
type PasswordResetService struct {
	db       *gorm.DB
	sessions *auth.SessionService
	mailer   mail.Mailer
	baseURL  string
	window   time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewPasswordResetService constructs the service with the provided dependencies.
func NewPasswordResetService(db *gorm.DB, sessions *auth.SessionService, mailer mail.Mailer, opts ...ResetOption) (*PasswordResetService, error) {
	if db == nil {
		return nil, errors.New("password reset service: db is required")
	}
	if sessions == nil {
		return nil, errors.New("password reset service: session service is required")
	}

	service := &PasswordResetService{
		db:       db,
		sessions: sessions,
		mailer:   mailer,
		window:   defaultResetWindow,
		now:      time.Now,
		log:      logger.WithModule("password_reset"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Request issues a reset token for a registered email and mails the link.
// The outcome is identical for unknown addresses so the endpoint cannot be
// used to probe which accounts exist. Mail failures are logged, not surfaced.
func (s *PasswordResetService) Request(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Debug("reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("password reset service: find user: %w", err)
	}

	token, err := crypto.GenerateToken(resetTokenBytes)
	if err != nil {
		return fmt.Errorf("password reset service: generate token: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// One outstanding token per email; a newer request supersedes older links.
		if err := tx.Where("email = ?", email).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.PasswordResetToken{
			Email:     email,
			Token:     token,
			CreatedAt: s.now(),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("password reset service: store token: %w", err)
	}

	if err := s.sendResetMail(ctx, email, token); err != nil {
		if !errors.Is(err, mail.ErrSMTPDisabled) {
			metrics.EmailsSent.WithLabelValues("password_reset", "failure").Inc()
			s.log.Error("reset mail delivery failed", zap.Error(err))
		}
		return nil
	}

	metrics.EmailsSent.WithLabelValues("password_reset", "success").Inc()
	return nil
}

// Reset consumes a token and replaces the account password. Consumption
// deletes the row keyed by its unique token, so under concurrent attempts at
// most one caller wins; everyone else sees an invalid token. All sessions of
// the account are revoked afterwards.
func (s *PasswordResetService) Reset(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return apperrors.ErrResetTokenInvalid
	}

	var row models.PasswordResetToken
	err := s.db.WithContext(ctx).Where("token = ?", token).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrResetTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("password reset service: find token: %w", err)
	}

	now := s.now()
	if !now.Before(row.CreatedAt.Add(s.window)) {
		return apperrors.ErrResetTokenExpired
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("password reset service: hash password: %w", err)
	}

	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("token = ?", token).Delete(&models.PasswordResetToken{})
		if result.Error != nil {
			return fmt.Errorf("password reset service: consume token: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrResetTokenInvalid
		}

		update := tx.Model(&models.User{}).
			Where("email = ?", row.Email).
			Update("password", hashed)
		if update.Error != nil {
			return fmt.Errorf("password reset service: update password: %w", update.Error)
		}
		if update.RowsAffected == 0 {
			return apperrors.ErrUserNotFound
		}

		return tx.Select("id").Where("email = ?", row.Email).Take(&user).Error
	})
	if err != nil {
		return err
	}

	// Stolen refresh tokens stop working once the password changes.
	if err := s.sessions.RevokeUserSessions(user.ID); err != nil {
		return err
	}

	s.log.Info("password reset", zap.String("user_id", user.ID))
	return nil
}

func (s *PasswordResetService) sendResetMail(ctx context.Context, email, token string) error {
	if s.mailer == nil {
		return mail.ErrSMTPDisabled
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
	body := fmt.Sprintf(
		"A password reset was requested for your account.\n\n"+
			"Follow this link within %d minutes to choose a new password:\n\n%s\n\n"+
			"If you did not request a reset, ignore this message.\n",
		int(s.window.Minutes()), link)

	return s.mailer.Send(ctx, mail.Message{
		To:      []string{email},
		Subject: "Reset your password",
		Body:    body,
	})
}
