package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pellmont/signet/internal/models"
	pkghttp "github.com/pellmont/signet/pkg/http"
)

// RegisterServiceInterface defines the account creation flow.
type RegisterServiceInterface interface {
	Register(ctx context.Context, username, email, password string) (*models.User, error)
	ConfirmEmail(ctx context.Context, token string) error
}

// RegisterHandler handles account registration and email confirmation.
type RegisterHandler struct {
	service RegisterServiceInterface
}

// NewRegisterHandler creates a new RegisterHandler.
func NewRegisterHandler(service RegisterServiceInterface) *RegisterHandler {
	return &RegisterHandler{service: service}
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Username string `json:"username,omitempty" validate:"omitempty,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ConfirmEmailRequest represents the request body for email confirmation
type ConfirmEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// Register handles account creation
// @Summary Register a new account
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 202
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /register [post]
func (h *RegisterHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)

	_, err := h.service.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		// Conflicts and password-policy misses get the same 202 as a
		// fresh registration so the endpoint cannot confirm whether an
		// address is already registered.
		if errors.Is(err, models.ErrConflict) || strings.Contains(err.Error(), "invalid password") {
			writeRegistrationAccepted(w)
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeRegistrationAccepted(w)
}

// ConfirmEmail handles confirmation-token redemption
// @Summary Confirm an email address
// @Accept json
// @Param request body ConfirmEmailRequest true "Confirm email request"
// @Produce json
// @Success 200
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /register/confirm [post]
func (h *RegisterHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req ConfirmEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ConfirmEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, models.ErrInvalidGrant) {
			pkghttp.WriteUnauthorized(w, "Invalid or expired confirmation token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Email confirmed. You can now sign in.",
	})
}

func writeRegistrationAccepted(w http.ResponseWriter) {
	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "Registration received. If the email is not already registered, you will receive a confirmation email.",
	})
}
