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

const verificationTokenBytes = 24

// dummyHash is compared against when the email is unknown so login timing
// does not reveal whether an account exists.
var dummyHash string

func init() {
	h, err := crypto.HashPassword("timing-equalizer")
	if err != nil {
		panic(err)
	}
	dummyHash = h
}

// AccountOption customises the AccountService.
type AccountOption func(*AccountService)

// WithAccountBaseURL sets the base URL used in verification links.
func WithAccountBaseURL(url string) AccountOption {
	return func(s *AccountService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithAccountClock injects a custom time source.
func WithAccountClock(clock func() time.Time) AccountOption {
	return func(s *AccountService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
}

// LoginInput carries the credentials presented at login.
type LoginInput struct {
	Email    string
	Password string
}

// AccountService implements the credential lifecycle: registration, login,
// email verification, refresh and logout.
type AccountService struct {
	db       *gorm.DB
	sessions *auth.SessionService
	mailer   mail.Mailer
	baseURL  string
	now      func() time.Time
	log      *zap.Logger
}

// NewAccountService constructs an AccountService with the provided dependencies.
func NewAccountService(db *gorm.DB, sessions *auth.SessionService, mailer mail.Mailer, opts ...AccountOption) (*AccountService, error) {
	if db == nil {
		return nil, errors.New("account service: db is required")
	}
	if sessions == nil {
		return nil, errors.New("account service: session service is required")
	}

	service := &AccountService{
		db:       db,
		sessions: sessions,
		mailer:   mailer,
		now:      time.Now,
		log:      logger.WithModule("accounts"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Register creates an unverified user and mails the verification link.
// A mail delivery failure rolls the registration back, except when SMTP
// delivery is disabled outright. Emails are stored as given and matched
// case-sensitively.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" || input.Password == "" {
		return nil, apperrors.ErrBadRequest
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("account service: hash password: %w", err)
	}

	token, err := crypto.GenerateToken(verificationTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("account service: generate verification token: %w", err)
	}

	user := &models.User{
		Email:             email,
		Password:          hashed,
		FullName:          strings.TrimSpace(input.FullName),
		Status:            models.StatusOffline,
		VerificationToken: &token,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.ErrEmailTaken
			}
			return fmt.Errorf("account service: create user: %w", err)
		}

		if err := s.sendVerificationMail(ctx, email, token); err != nil {
			if errors.Is(err, mail.ErrSMTPDisabled) {
				s.log.Debug("verification mail skipped, smtp disabled", zap.String("email", email))
				return nil
			}
			metrics.EmailsSent.WithLabelValues("verification", "failure").Inc()
			return fmt.Errorf("account service: send verification mail: %w", err)
		}

		metrics.EmailsSent.WithLabelValues("verification", "success").Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// Login verifies the credentials and issues a token pair. Unknown emails and
// wrong passwords produce the same error.
func (s *AccountService) Login(ctx context.Context, input LoginInput, meta auth.SessionMetadata) (auth.TokenPair, *models.Session, *models.User, error) {
	email := strings.TrimSpace(input.Email)

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		crypto.VerifyPassword(dummyHash, input.Password)
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return auth.TokenPair{}, nil, nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return auth.TokenPair{}, nil, nil, fmt.Errorf("account service: find user: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, input.Password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return auth.TokenPair{}, nil, nil, apperrors.ErrInvalidCredentials
	}

	tokens, session, err := s.sessions.CreateSession(&user, meta)
	if err != nil {
		return auth.TokenPair{}, nil, nil, err
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	s.log.Info("user logged in", zap.String("user_id", user.ID), zap.String("session_id", session.ID))

	return tokens, session, &user, nil
}

// Refresh rotates the presented refresh secret and returns a fresh pair.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, *models.Session, error) {
	tokens, session, err := s.sessions.RefreshSession(refreshToken)
	if err != nil {
		return auth.TokenPair{}, nil, mapSessionError(err)
	}
	return tokens, session, nil
}

// VerifyEmail consumes a verification token. The guarded update makes the
// operation first-wins: a replayed token matches no row and fails.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperrors.ErrVerificationTokenMissing
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("verification_token = ?", token).
		Updates(map[string]any{
			"verification_token": nil,
			"verified_at":        s.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("account service: verify email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrVerificationTokenInvalid
	}

	return nil
}

// Logout revokes the session behind the given ID.
func (s *AccountService) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.RevokeSession(sessionID); err != nil {
		return mapSessionError(err)
	}
	return nil
}

func (s *AccountService) sendVerificationMail(ctx context.Context, email, token string) error {
	if s.mailer == nil {
		return mail.ErrSMTPDisabled
	}

	link := fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, token)
	body := fmt.Sprintf("Welcome!\n\nPlease confirm your email address by visiting:\n\n%s\n", link)

	return s.mailer.Send(ctx, mail.Message{
		To:      []string{email},
		Subject: "Verify your email address",
		Body:    body,
	})
}

// mapSessionError translates session-layer sentinels into API errors.
func mapSessionError(err error) error {
	switch {
	case errors.Is(err, auth.ErrSessionNotFound),
		errors.Is(err, auth.ErrSessionInvalidToken),
		errors.Is(err, auth.ErrSessionRevoked),
		errors.Is(err, auth.ErrSessionExpired):
		return apperrors.ErrUnauthorized.WithInternal(err)
	default:
		return err
	}
}
