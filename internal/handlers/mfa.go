package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pellmont/signet/internal/auth"
	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/services"
	pkghttp "github.com/pellmont/signet/pkg/http"
)

// MFAServiceInterface defines factor enrollment and management.
type MFAServiceInterface interface {
	BeginTOTPEnrollment(ctx context.Context, userID string) (*services.TOTPSetup, error)
	CompleteTOTPEnrollment(ctx context.Context, userID, code string) ([]string, error)
	DisableFactor(ctx context.Context, userID, kind string) error
	RegenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error)
	ConfirmPhone(ctx context.Context, userID, phoneNumber string) error
	LinkExternalLogin(ctx context.Context, userID, provider, subject string) error
	UnlinkExternalLogin(ctx context.Context, userID, provider string) error
}

// MFAHandler handles authenticated factor management endpoints.
type MFAHandler struct {
	service MFAServiceInterface
}

// NewMFAHandler creates a new MFAHandler.
func NewMFAHandler(service MFAServiceInterface) *MFAHandler {
	return &MFAHandler{service: service}
}

// Request/response DTOs

// CompleteTOTPRequest carries the proof-of-possession code for enrollment
type CompleteTOTPRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// DisableFactorRequest names the factor to disable
type DisableFactorRequest struct {
	Kind string `json:"kind" validate:"required,oneof=totp sms recovery_code magic_link external"`
}

// ConfirmPhoneRequest sets and confirms a phone number for SMS codes
type ConfirmPhoneRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
}

// LinkExternalRequest links an external identity to the account
type LinkExternalRequest struct {
	Provider string `json:"provider" validate:"required,min=2,max=64"`
	Subject  string `json:"subject" validate:"required,min=1,max=254"`
}

// UnlinkExternalRequest removes an external identity link
type UnlinkExternalRequest struct {
	Provider string `json:"provider" validate:"required,min=2,max=64"`
}

// TOTPSetupResponse is the enrollment material for an authenticator app
type TOTPSetupResponse struct {
	Secret    string `json:"secret"`
	QRDataURL string `json:"qr_data_url"`
}

// RecoveryCodesResponse carries a freshly generated recovery-code batch.
// Codes are shown exactly once; only hashes are stored.
type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

func userIDFromContext(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil || claims.Subject == "" {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return "", false
	}
	return claims.Subject, true
}

// BeginTOTPEnrollment provisions a TOTP secret for the current user
// @Summary Begin TOTP enrollment
// @Security BearerAuth
// @Produce json
// @Success 200 {object} TOTPSetupResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /mfa/totp [post]
func (h *MFAHandler) BeginTOTPEnrollment(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(w, r)
	if !ok {
		return
	}

	setup, err := h.service.BeginTOTPEnrollment(r.Context(), userID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TOTPSetupResponse{
		Secret:    setup.Secret,
		QRDataURL: setup.QRDataURL,
	})
}

// CompleteTOTPEnrollment verifies a first code and enables the factor
// @Summary Complete TOTP enrollment
// @Security BearerAuth
// @Accept json
// @Param request body CompleteTOTPRequest true "First authenticator code"
// @Produce json
// @Success 200 {object} RecoveryCodesResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /mfa/totp/verify [post]
func (h *MFAHandler) CompleteTOTPEnrollment(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(w, r)
	if !ok {
		return
	}

	var req CompleteTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.service.CompleteTOTPEnrollment(r.Context(), userID, req.Code)
	if err != nil {
		if errors.Is(err, models.ErrChallengeMismatch) {
			pkghttp.WriteBadRequest(w, "Code does not match")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RecoveryCodesResponse{RecoveryCodes: codes})
}

// DisableFactor turns a second factor off
// @Summary Disable a second factor
// @Security BearerAuth
// @Accept json
// @Param request body DisableFactorRequest true "Factor to disable"
// @Produce json
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /mfa/disable [post]
func (h *MFAHandler) DisableFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(w, r)
	if !ok {
		return
	}

	var req DisableFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.DisableFactor(r.Context(), userID, req.Kind); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RegenerateRecoveryCodes replaces the recovery-code batch
// @Summary Regenerate recovery codes
// @Security BearerAuth
// @Produce json
// @Success 200 {object} RecoveryCodesResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /mfa/recovery-codes [post]
func (h *MFAHandler) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(w, r)
	if !ok {
		return
	}

	codes, err := h.service.RegenerateRecoveryCodes(r.Context(), userID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RecoveryCodesResponse{RecoveryCodes: codes})
}

// ConfirmPhone stores a confirmed phone number and enables SMS codes
// @Summary Confirm a phone number for SMS codes
// @Security BearerAuth
// @Accept json
// @Param request body ConfirmPhoneRequest true "Phone number"
// @Produce json
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /mfa/phone [post]
func (h *MFAHandler) ConfirmPhone(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(w, r)
	if !ok {
		return
	}

	var req ConfirmPhoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ConfirmPhone(r.Context(), userID, strings.TrimSpace(req.PhoneNumber)); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LinkExternal links an external identity
// @Summary Link an external login
// @Security BearerAuth
// @Accept json
// @Param request body LinkExternalRequest true "External identity"
// @Produce json
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /mfa/external [post]
func (h *MFAHandler) LinkExternal(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(w, r)
	if !ok {
		return
	}

	var req LinkExternalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.LinkExternalLogin(r.Context(), userID, req.Provider, req.Subject); err != nil {
		if errors.Is(err, models.ErrConflict) {
			pkghttp.WriteConflict(w, "Provider already linked")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UnlinkExternal removes an external identity link
// @Summary Unlink an external login
// @Security BearerAuth
// @Accept json
// @Param request body UnlinkExternalRequest true "Provider to unlink"
// @Produce json
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /mfa/external/unlink [post]
func (h *MFAHandler) UnlinkExternal(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(w, r)
	if !ok {
		return
	}

	var req UnlinkExternalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.UnlinkExternalLogin(r.Context(), userID, req.Provider); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "No such linked provider")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
