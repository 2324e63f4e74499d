package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pellmont/signet/internal/auth"
	"github.com/pellmont/signet/internal/models"
	pkghttp "github.com/pellmont/signet/pkg/http"
)

// LoginServiceInterface defines the two-step sign-in flow the handler drives.
type LoginServiceInterface interface {
	AuthenticatePrimary(ctx context.Context, identifier, password, ipAddress string) (*models.LoginResult, error)
	AuthenticateSecondFactor(ctx context.Context, handle string, challenge models.SecondFactorChallenge, ipAddress string) (*models.LoginResult, error)
	ResolvePendingUser(ctx context.Context, handle string) (string, error)
}

// FactorDispatchInterface sends out-of-band factor material (SMS codes,
// magic-link emails).
type FactorDispatchInterface interface {
	SendSMSCode(ctx context.Context, userID string) error
	SendMagicLink(ctx context.Context, email string) error
}

// SessionIssuerInterface mints first-party tokens for a completed login.
type SessionIssuerInterface interface {
	IssueFirstPartyTokens(ctx context.Context, userID, clientID string) (*models.TokenResponse, error)
}

// AuthHandler handles the interactive sign-in endpoints.
type AuthHandler struct {
	login            LoginServiceInterface
	factors          FactorDispatchInterface
	sessions         SessionIssuerInterface
	timing           *auth.TimingDelay
	firstPartyClient string
	ipConfig         *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(login LoginServiceInterface, factors FactorDispatchInterface, sessions SessionIssuerInterface, timing *auth.TimingDelay, firstPartyClient string, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		login:            login,
		factors:          factors,
		sessions:         sessions,
		timing:           timing,
		firstPartyClient: firstPartyClient,
		ipConfig:         ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for the primary login step
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required"`
}

// SecondFactorRequest represents the request body for the second login step
type SecondFactorRequest struct {
	PendingHandle string `json:"pending_handle" validate:"required"`
	Kind          string `json:"kind" validate:"required,oneof=totp sms recovery_code magic_link external"`
	Code          string `json:"code,omitempty"`
	MagicToken    string `json:"magic_token,omitempty"`
	Provider      string `json:"provider,omitempty"`
	Subject       string `json:"subject,omitempty"`
}

// SendSMSCodeRequest asks for a fresh SMS code against a pending login
type SendSMSCodeRequest struct {
	PendingHandle string `json:"pending_handle" validate:"required"`
}

// MagicLinkRequest asks for a sign-in link to be emailed
type MagicLinkRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// LoginResponse is the outcome of either login step
type LoginResponse struct {
	Status            string                `json:"status"`
	PendingHandle     string                `json:"pending_handle,omitempty"`
	RetryAfterSeconds int64                 `json:"retry_after_seconds,omitempty"`
	Tokens            *models.TokenResponse `json:"tokens,omitempty"`
}

// Login handles the primary credential step
// @Summary Verify username/email and password
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	result, err := h.login.AuthenticatePrimary(r.Context(), strings.TrimSpace(req.Identifier), req.Password, ipAddress)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.writeLoginResult(w, r, result, start)
}

// SecondFactor handles the second login step against a pending handle
// @Summary Verify a second-factor challenge
// @Accept json
// @Param request body SecondFactorRequest true "Second factor request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login/2fa [post]
func (h *AuthHandler) SecondFactor(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req SecondFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	challenge := models.SecondFactorChallenge{
		Kind:       req.Kind,
		Code:       req.Code,
		MagicToken: req.MagicToken,
		Provider:   req.Provider,
		Subject:    req.Subject,
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	result, err := h.login.AuthenticateSecondFactor(r.Context(), req.PendingHandle, challenge, ipAddress)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrChallengeExpired):
			h.timing.WaitFrom(start, false)
			pkghttp.WriteUnauthorized(w, "Challenge expired or already used")
		case errors.Is(err, models.ErrSecondFactorNotSupported):
			pkghttp.WriteBadRequest(w, "Unsupported second factor")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.writeLoginResult(w, r, result, start)
}

// SendSMSCode dispatches a fresh SMS code for a pending login
// @Summary Send an SMS login code
// @Accept json
// @Param request body SendSMSCodeRequest true "Send code request"
// @Produce json
// @Success 202
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/login/sms [post]
func (h *AuthHandler) SendSMSCode(w http.ResponseWriter, r *http.Request) {
	var req SendSMSCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	userID, err := h.login.ResolvePendingUser(r.Context(), req.PendingHandle)
	if err != nil {
		if errors.Is(err, models.ErrChallengeExpired) {
			pkghttp.WriteUnauthorized(w, "Challenge expired or already used")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if err := h.factors.SendSMSCode(r.Context(), userID); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "If a confirmed phone number is on file, a code has been sent.",
	})
}

// RequestMagicLink emails a sign-in link
// @Summary Request a magic sign-in link
// @Accept json
// @Param request body MagicLinkRequest true "Magic link request"
// @Produce json
// @Success 202
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/login/magic [post]
func (h *AuthHandler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// Always 202 with the same body; dispatch to unknown addresses is a
	// silent no-op so the endpoint cannot confirm account existence.
	if err := h.factors.SendMagicLink(r.Context(), strings.ToLower(strings.TrimSpace(req.Email))); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "If an account exists with this email, a sign-in link has been sent.",
	})
}

// writeLoginResult maps a LoginResult onto the wire. Failed and LockedOut
// take the slow path so response timing does not distinguish them from the
// work done on a near-miss.
func (h *AuthHandler) writeLoginResult(w http.ResponseWriter, r *http.Request, result *models.LoginResult, start time.Time) {
	switch result.Status {
	case models.LoginSuccess:
		tokens, err := h.sessions.IssueFirstPartyTokens(r.Context(), result.User.ID, h.firstPartyClient)
		if err != nil {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
			Status: string(models.LoginSuccess),
			Tokens: tokens,
		})

	case models.LoginTwoFactorRequired:
		pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
			Status:        string(models.LoginTwoFactorRequired),
			PendingHandle: result.PendingHandle,
		})

	case models.LoginLockedOut:
		h.timing.WaitFrom(start, false)
		var retryAfter int64
		if result.RetryAfter != nil {
			retryAfter = int64(time.Until(*result.RetryAfter).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		pkghttp.WriteJSON(w, http.StatusTooManyRequests, LoginResponse{
			Status:            string(models.LoginLockedOut),
			RetryAfterSeconds: retryAfter,
		})

	case models.LoginEmailNotConfirmed:
		h.timing.WaitFrom(start, false)
		pkghttp.WriteUnauthorized(w, "Email address not confirmed")

	default:
		h.timing.WaitFrom(start, false)
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	}
}
