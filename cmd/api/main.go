package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pellmont/signet/internal/auth"
	"github.com/pellmont/signet/internal/background"
	"github.com/pellmont/signet/internal/config"
	"github.com/pellmont/signet/internal/database"
	"github.com/pellmont/signet/internal/handlers"
	"github.com/pellmont/signet/internal/lockout"
	middlewareCustom "github.com/pellmont/signet/internal/middleware"
	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/oauth"
	"github.com/pellmont/signet/internal/repositories"
	"github.com/pellmont/signet/internal/routes"
	"github.com/pellmont/signet/internal/services"
	pkghttp "github.com/pellmont/signet/pkg/http"
	pkglogger "github.com/pellmont/signet/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		migrateCancel()
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	migrateCancel()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	clientRepo := repositories.NewClientRepository(db)
	artifactRepo := repositories.NewArtifactRepository(db)

	// Shared auth machinery
	auditLogger := pkglogger.NewAuditLogger(logger)
	tracker := lockout.NewTracker(lockout.Config{
		MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts,
		LockoutDuration:   cfg.Lockout.LockoutDuration,
	})
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.Issuer,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	totpManager, err := auth.NewTOTPManager([]byte(cfg.Auth.TOTPEncryptionKey), cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    100,
		RandomDelayMs:  100,
		DelayOnSuccess: false,
	})

	// Outbound messaging
	emailSender, err := services.NewSESEmailSender(cfg.Email.Region, cfg.Email.Sender, logger)
	if err != nil {
		logger.Error("failed to initialize email sender", slog.Any("error", err))
		os.Exit(1)
	}
	smsSender := services.NewLogSMSSender(logger)

	// Services
	factorService := services.NewSecondFactorService(
		userRepo, artifactRepo, totpManager, tokenManager, smsSender, emailSender,
		services.FactorConfig{
			SMSCodeTTL:    cfg.Factors.SMSCodeTTL,
			SMSCodeDigits: cfg.Factors.SMSCodeDigits,
			MagicLinkTTL:  cfg.Factors.MagicLinkTTL,
			PublicBaseURL: cfg.Server.PublicBaseURL,
			ServiceName:   cfg.Auth.TOTPIssuer,
		},
		logger, auditLogger,
	)
	loginService := services.NewLoginService(
		userRepo, tracker, artifactRepo, factorService,
		services.LoginConfig{
			RequireConfirmedEmail: cfg.Auth.RequireConfirmedEmail,
			PendingTTL:            cfg.Factors.PendingTTL,
		},
		logger, auditLogger,
	)
	mfaService := services.NewMFAService(
		userRepo, totpManager, factorService,
		services.MFAConfig{RecoveryCodeBatchSize: cfg.Factors.RecoveryCodeSize},
		logger, auditLogger,
	)
	registerService := services.NewRegisterService(
		userRepo, artifactRepo, tokenManager, emailSender,
		services.RegisterConfig{
			ConfirmationTTL: cfg.Factors.ConfirmationTTL,
			PublicBaseURL:   cfg.Server.PublicBaseURL,
			ServiceName:     cfg.Auth.TOTPIssuer,
		},
		logger, auditLogger,
	)
	passwordService := services.NewPasswordResetService(
		userRepo, artifactRepo, tokenManager, emailSender,
		services.PasswordResetConfig{
			ResetTTL:      cfg.Factors.ResetTTL,
			PublicBaseURL: cfg.Server.PublicBaseURL,
			ServiceName:   cfg.Auth.TOTPIssuer,
		},
		logger, auditLogger,
	)
	dispatcher := oauth.NewDispatcher(
		clientRepo, userRepo, artifactRepo, tokenManager, loginService,
		oauth.Config{
			AuthorizationCodeTTL: cfg.Auth.AuthorizationCodeTTL,
			DeviceCodeTTL:        cfg.Auth.DeviceCodeTTL,
			DevicePollInterval:   cfg.Auth.DevicePollInterval,
		},
		logger, auditLogger,
	)

	// Handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(loginService, factorService, dispatcher, timingDelay, cfg.Auth.FirstPartyClientID, ipConfig)
	registerHandler := handlers.NewRegisterHandler(registerService)
	passwordHandler := handlers.NewPasswordHandler(passwordService)
	mfaHandler := handlers.NewMFAHandler(mfaService)
	tokenHandler := handlers.NewTokenHandler(dispatcher, cfg.Server.PublicBaseURL, ipConfig)

	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureFirstPartyClient(bootstrapCtx, clientRepo, cfg.Auth.FirstPartyClientID, logger); err != nil {
		logger.Error("failed to ensure first-party client", slog.Any("error", err))
	}
	bootstrapCancel()

	cleanupManager := background.NewCleanupManager(artifactRepo, tracker, logger, cfg.Server.CleanupInterval)

	// Router
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, registerHandler, passwordHandler, mfaHandler, tokenHandler, tokenManager)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureFirstPartyClient registers the public client the interactive login
// endpoints issue tokens for, if it does not exist yet.
func ensureFirstPartyClient(ctx context.Context, clientRepo *repositories.ClientRepository, clientID string, logger *slog.Logger) error {
	_, err := clientRepo.GetByID(ctx, clientID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check first-party client: %w", err)
	}

	_, err = clientRepo.Create(ctx, &models.Client{
		ID:           clientID,
		Name:         "First-party web client",
		Confidential: false,
		AllowedGrantTypes: []string{
			models.GrantAuthorizationCode,
			models.GrantRefreshToken,
		},
		AllowedScopes: []string{"openid", "profile", "offline_access"},
		RedirectURIs:  []string{},
	})
	if err != nil {
		return fmt.Errorf("failed to create first-party client: %w", err)
	}

	logger.Info("first-party client created", slog.String("client_id", clientID))
	return nil
}
