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

// PasswordResetServiceInterface defines the forgot/reset-password flow.
type PasswordResetServiceInterface interface {
	RequestReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// PasswordHandler handles password reset requests and redemptions.
type PasswordHandler struct {
	service PasswordResetServiceInterface
}

// NewPasswordHandler creates a new PasswordHandler.
func NewPasswordHandler(service PasswordResetServiceInterface) *PasswordHandler {
	return &PasswordHandler{service: service}
}

// ForgotPasswordRequest represents the request body for a reset link
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for a reset redemption
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// ForgotPassword handles reset-link requests
// @Summary Request a password reset link
// @Accept json
// @Param request body ForgotPasswordRequest true "Forgot password request"
// @Produce json
// @Success 202
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/password/forgot [post]
func (h *PasswordHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.RequestReset(r.Context(), strings.TrimSpace(req.Email)); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	// 202 regardless of whether the address has an account.
	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the email is registered, you will receive a password reset link.",
	})
}

// ResetPassword handles reset-token redemption
// @Summary Reset a password with a reset token
// @Accept json
// @Param request body ResetPasswordRequest true "Reset password request"
// @Produce json
// @Success 200
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/password/reset [post]
func (h *PasswordHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidGrant):
			pkghttp.WriteUnauthorized(w, "Invalid or expired reset token")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Password does not meet the policy")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Password updated. You can now sign in with the new password.",
	})
}
