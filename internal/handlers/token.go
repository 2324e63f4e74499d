package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/oauth"
	pkghttp "github.com/pellmont/signet/pkg/http"
)

// TokenDispatcherInterface is the grant dispatcher surface the handler uses.
type TokenDispatcherInterface interface {
	Exchange(ctx context.Context, req *models.TokenRequest) (*models.TokenResponse, error)
	IssueAuthorizationCode(ctx context.Context, userID, clientID, redirectURI string, scopes []string, codeChallenge, challengeMethod string) (string, error)
	BeginDeviceAuthorization(ctx context.Context, clientID, scope, verificationURI string) (*oauth.DeviceAuthorizationResponse, error)
	ResolveDeviceApproval(ctx context.Context, userCode, userID string, approve bool) error
}

// TokenHandler exposes the OAuth2 token, authorization and device endpoints.
type TokenHandler struct {
	dispatcher    TokenDispatcherInterface
	publicBaseURL string
	ipConfig      *pkghttp.IPConfig
}

// NewTokenHandler creates a new TokenHandler.
func NewTokenHandler(dispatcher TokenDispatcherInterface, publicBaseURL string, ipConfig *pkghttp.IPConfig) *TokenHandler {
	return &TokenHandler{dispatcher: dispatcher, publicBaseURL: publicBaseURL, ipConfig: ipConfig}
}

// AuthorizeRequest asks for an authorization code bound to the current user
type AuthorizeRequest struct {
	ClientID            string `json:"client_id" validate:"required"`
	RedirectURI         string `json:"redirect_uri" validate:"required,uri"`
	Scope               string `json:"scope,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty" validate:"omitempty,oneof=S256 plain"`
	State               string `json:"state,omitempty"`
}

// AuthorizeResponse carries the issued code back to the relying party
type AuthorizeResponse struct {
	Code  string `json:"code"`
	State string `json:"state,omitempty"`
}

// DeviceApprovalRequest resolves a pending device authorization
type DeviceApprovalRequest struct {
	UserCode string `json:"user_code" validate:"required"`
	Approve  bool   `json:"approve"`
}

// Token is the RFC 6749 token endpoint. Requests are form-encoded; client
// credentials arrive via HTTP Basic or the request body.
// @Summary Exchange a grant for tokens
// @Accept x-www-form-urlencoded
// @Produce json
// @Success 200 {object} models.TokenResponse
// @Failure 400 {object} pkghttp.OAuthErrorResponse
// @Failure 401 {object} pkghttp.OAuthErrorResponse
// @Router /oauth/token [post]
func (h *TokenHandler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		pkghttp.WriteOAuthError(w, http.StatusBadRequest, models.OAuthErrInvalidRequest, "Malformed request body")
		return
	}

	req := &models.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Username:     r.PostFormValue("username"),
		Password:     r.PostFormValue("password"),
		DeviceCode:   r.PostFormValue("device_code"),
		Scope:        r.PostFormValue("scope"),
		IPAddress:    pkghttp.ExtractClientIP(r, h.ipConfig),
	}

	// Basic auth takes precedence over body credentials.
	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
	}

	resp, err := h.dispatcher.Exchange(r.Context(), req)
	if err != nil {
		writeGrantError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Authorize issues an authorization code for the authenticated user
// @Summary Issue an authorization code
// @Security BearerAuth
// @Accept json
// @Param request body AuthorizeRequest true "Authorization request"
// @Produce json
// @Success 200 {object} AuthorizeResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /oauth/authorize [post]
func (h *TokenHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(w, r)
	if !ok {
		return
	}

	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	code, err := h.dispatcher.IssueAuthorizationCode(
		r.Context(), userID, req.ClientID, req.RedirectURI,
		models.ParseScopes(req.Scope), req.CodeChallenge, req.CodeChallengeMethod,
	)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrClientAuthFailed),
			errors.Is(err, models.ErrUnsupportedGrantType),
			errors.Is(err, models.ErrBadRequest),
			errors.Is(err, models.ErrInvalidScope):
			pkghttp.WriteBadRequest(w, "Invalid authorization request")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, AuthorizeResponse{Code: code, State: req.State})
}

// DeviceAuthorization is the RFC 8628 device authorization endpoint
// @Summary Begin a device authorization
// @Accept x-www-form-urlencoded
// @Produce json
// @Success 200 {object} oauth.DeviceAuthorizationResponse
// @Failure 400 {object} pkghttp.OAuthErrorResponse
// @Failure 401 {object} pkghttp.OAuthErrorResponse
// @Router /oauth/device_authorization [post]
func (h *TokenHandler) DeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		pkghttp.WriteOAuthError(w, http.StatusBadRequest, models.OAuthErrInvalidRequest, "Malformed request body")
		return
	}

	clientID := r.PostFormValue("client_id")
	if id, _, ok := r.BasicAuth(); ok {
		clientID = id
	}

	resp, err := h.dispatcher.BeginDeviceAuthorization(
		r.Context(), clientID, r.PostFormValue("scope"),
		h.publicBaseURL+"/device",
	)
	if err != nil {
		writeGrantError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// DeviceApproval lets a signed-in user approve or deny a device's user code
// @Summary Resolve a device authorization
// @Security BearerAuth
// @Accept json
// @Param request body DeviceApprovalRequest true "Approval decision"
// @Produce json
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /oauth/device/approve [post]
func (h *TokenHandler) DeviceApproval(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(w, r)
	if !ok {
		return
	}

	var req DeviceApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	userCode := strings.ToUpper(strings.TrimSpace(req.UserCode))
	if err := h.dispatcher.ResolveDeviceApproval(r.Context(), userCode, userID, req.Approve); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidGrant), errors.Is(err, models.ErrAuthorizationExpired):
			pkghttp.WriteNotFound(w, "Unknown or expired code")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeGrantError maps dispatcher sentinel errors onto RFC 6749 / RFC 8628
// error JSON. Every terminal failure of a grant is invalid_grant; only
// client authentication gets 401.
func writeGrantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrClientAuthFailed):
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		pkghttp.WriteOAuthError(w, http.StatusUnauthorized, models.OAuthErrInvalidClient, "Client authentication failed")
	case errors.Is(err, models.ErrUnsupportedGrantType):
		pkghttp.WriteOAuthError(w, http.StatusBadRequest, models.OAuthErrUnsupportedGrantType, "Grant type not allowed for this client")
	case errors.Is(err, models.ErrInvalidScope):
		pkghttp.WriteOAuthError(w, http.StatusBadRequest, models.OAuthErrInvalidScope, "Requested scope exceeds the client's grants")
	case errors.Is(err, models.ErrAuthorizationPending):
		pkghttp.WriteOAuthError(w, http.StatusBadRequest, models.OAuthErrAuthorizationPending, "Authorization request is still pending")
	case errors.Is(err, models.ErrAuthorizationDenied):
		pkghttp.WriteOAuthError(w, http.StatusBadRequest, models.OAuthErrAccessDenied, "The user denied the authorization request")
	case errors.Is(err, models.ErrAuthorizationExpired):
		pkghttp.WriteOAuthError(w, http.StatusBadRequest, models.OAuthErrExpiredToken, "The device code has expired")
	case errors.Is(err, models.ErrSecondFactorNotSupported):
		pkghttp.WriteOAuthError(w, http.StatusBadRequest, models.OAuthErrInvalidGrant, "Multi-factor authentication is required; use the interactive flow")
	case errors.Is(err, models.ErrAccountLocked),
		errors.Is(err, models.ErrEmailNotConfirmed),
		errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrInvalidGrant):
		pkghttp.WriteOAuthError(w, http.StatusBadRequest, models.OAuthErrInvalidGrant, "The provided grant is invalid, expired or revoked")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteOAuthError(w, http.StatusBadRequest, models.OAuthErrInvalidRequest, "Malformed token request")
	default:
		pkghttp.WriteOAuthError(w, http.StatusInternalServerError, "server_error", "Internal server error")
	}
}
