package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/pellmont/signet/internal/auth"
	"github.com/pellmont/signet/internal/handlers"
	"github.com/pellmont/signet/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	registerHandler *handlers.RegisterHandler,
	passwordHandler *handlers.PasswordHandler,
	mfaHandler *handlers.MFAHandler,
	tokenHandler *handlers.TokenHandler,
	tokenManager *auth.TokenManager,
) {
	loginLimit := middleware.RateLimitByIP(middleware.DefaultLoginRateLimit())
	tokenLimit := middleware.RateLimitByIP(middleware.DefaultTokenRateLimit())

	// Interactive sign-in, no authentication required
	router.Group(func(r chi.Router) {
		r.Use(loginLimit)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/login/2fa", authHandler.SecondFactor)
		r.Post("/auth/login/sms", authHandler.SendSMSCode)
		r.Post("/auth/login/magic", authHandler.RequestMagicLink)
		r.Post("/register", registerHandler.Register)
		r.Post("/register/confirm", registerHandler.ConfirmEmail)
		r.Post("/auth/password/forgot", passwordHandler.ForgotPassword)
		r.Post("/auth/password/reset", passwordHandler.ResetPassword)
	})

	// OAuth2 endpoints; client authentication happens in the dispatcher
	router.Group(func(r chi.Router) {
		r.Use(tokenLimit)
		r.Post("/oauth/token", tokenHandler.Token)
		r.Post("/oauth/device_authorization", tokenHandler.DeviceAuthorization)
	})

	// Authenticated user surface
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAccessToken(tokenManager))

		r.Post("/oauth/authorize", tokenHandler.Authorize)
		r.Post("/oauth/device/approve", tokenHandler.DeviceApproval)

		r.Post("/mfa/totp", mfaHandler.BeginTOTPEnrollment)
		r.Post("/mfa/totp/verify", mfaHandler.CompleteTOTPEnrollment)
		r.Post("/mfa/disable", mfaHandler.DisableFactor)
		r.Post("/mfa/recovery-codes", mfaHandler.RegenerateRecoveryCodes)
		r.Post("/mfa/phone", mfaHandler.ConfirmPhone)
		r.Post("/mfa/external", mfaHandler.LinkExternal)
		r.Post("/mfa/external/unlink", mfaHandler.UnlinkExternal)
	})
}
