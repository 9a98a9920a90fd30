package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/oakheim/accounts/internal/app"
	iauth "github.com/oakheim/accounts/internal/auth"
	"github.com/oakheim/accounts/internal/handlers"
	"github.com/oakheim/accounts/internal/middleware"
	"github.com/oakheim/accounts/internal/services"
	"github.com/oakheim/accounts/pkg/mail"
)

// Services bundles the application services the router depends on.
type Services struct {
	Accounts *services.AccountService
	Resets   *services.PasswordResetService
	Users    *services.UserService
}

// BuildServices wires the service layer from its dependencies.
func BuildServices(db *gorm.DB, sessions *iauth.SessionService, mailer mail.Mailer, cfg *app.Config) (Services, error) {
	accounts, err := services.NewAccountService(db, sessions, mailer,
		services.WithAccountBaseURL(cfg.Server.BaseURL))
	if err != nil {
		return Services{}, err
	}

	resets, err := services.NewPasswordResetService(db, sessions, mailer,
		services.WithResetBaseURL(cfg.Server.BaseURL),
		services.WithResetWindow(cfg.Auth.Reset.Window))
	if err != nil {
		return Services{}, err
	}

	users, err := services.NewUserService(db)
	if err != nil {
		return Services{}, err
	}

	return Services{Accounts: accounts, Resets: resets, Users: users}, nil
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, svcs Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svcs.Accounts == nil || svcs.Resets == nil || svcs.Users == nil {
		return nil, fmt.Errorf("services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	limit := cfg.Server.RateLimit
	if limit.Requests <= 0 {
		limit.Requests = 100
	}
	if limit.Window <= 0 {
		limit.Window = time.Minute
	}
	r.Use(middleware.RateLimit(limit.Requests, limit.Window))

	r.NoRoute(middleware.NotFoundHandler)

	// Public endpoints
	r.GET("/health", handlers.Health())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := handlers.NewAuthHandler(svcs.Accounts, svcs.Resets, svcs.Users)

	auth := r.Group("/api/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.GET("/verify-email", authHandler.VerifyEmail)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)
	}

	// Authenticated routes
	requireAuth := middleware.Auth(jwt)

	api := r.Group("/api")
	api.Use(requireAuth)

	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/logout", authHandler.Logout)

	usersHandler := handlers.NewUsersHandler(svcs.Users)
	api.GET("/users/:id", usersHandler.Get)

	// Profile mutations additionally require a verified email.
	profileHandler := handlers.NewProfileHandler(svcs.Users, cfg.Server.UploadDir)
	profile := api.Group("/profile")
	profile.Use(middleware.EmailVerified(db))
	{
		profile.PATCH("", profileHandler.Update)
		profile.POST("/status", profileHandler.UpdateStatus)
		profile.POST("/avatar", profileHandler.UploadAvatar)
	}

	return r, nil
}
