package models

// OAuth2 grant types accepted at the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

// TokenRequest is the boundary shape of an inbound token-endpoint call.
// GrantType selects which payload fields are meaningful.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string // PKCE

	// refresh_token
	RefreshToken string

	// password
	Username string
	Password string

	// device_code
	DeviceCode string

	// requested scope, space-delimited
	Scope string

	// client address as resolved by the transport, for audit events
	IPAddress string
}

// TokenResponse is a successful token-endpoint result.
type TokenResponse struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	IDToken      string   `json:"id_token,omitempty"`
	Scope        string   `json:"scope,omitempty"`
	Scopes       []string `json:"-"`
}

// OAuth2 error codes per RFC 6749 §5.2 and RFC 8628 §3.5.
const (
	OAuthErrInvalidRequest       = "invalid_request"
	OAuthErrInvalidClient        = "invalid_client"
	OAuthErrInvalidGrant         = "invalid_grant"
	OAuthErrInvalidScope         = "invalid_scope"
	OAuthErrUnauthorizedClient   = "unauthorized_client"
	OAuthErrUnsupportedGrantType = "unsupported_grant_type"
	OAuthErrAuthorizationPending = "authorization_pending"
	OAuthErrAccessDenied         = "access_denied"
	OAuthErrExpiredToken         = "expired_token"
)

// Device authorization states
const (
	DeviceStatusPending  = "pending"
	DeviceStatusApproved = "approved"
	DeviceStatusDenied   = "denied"
)
