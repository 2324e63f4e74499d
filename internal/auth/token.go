package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pellmont/signet/internal/models"
)

// Token types carried in the "type" claim
const (
	TokenTypeAccess            = "access"
	TokenTypeRefresh           = "refresh"
	TokenTypeIdentity          = "identity"
	TokenTypeMagicLink         = "magic_link"
	TokenTypeEmailConfirmation = "email_confirmation"
	TokenTypePasswordReset     = "password_reset"
)

// TokenClaims is the claim set for every token this service signs.
type TokenClaims struct {
	Type          string   `json:"type"`
	Email         string   `json:"email,omitempty"`
	Username      string   `json:"preferred_username,omitempty"`
	ClientID      string   `json:"client_id,omitempty"`
	Scope         []string `json:"scope,omitempty"`
	SecurityStamp string   `json:"sst,omitempty"`
	FamilyID      string   `json:"fid,omitempty"` // refresh-token family
	jwt.RegisteredClaims
}

// TokenManager signs and validates the tokens issued by the grant handlers
// and the magic-link/email-confirmation flows.
type TokenManager struct {
	secret             []byte
	issuer             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
}

// NewTokenManager creates a TokenManager signing with HS256.
func NewTokenManager(secret, issuer string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             []byte(secret),
		issuer:             issuer,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
	}
}

// AccessTokenExpiry exposes the configured access token lifetime for
// expires_in responses.
func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

// RefreshTokenExpiry exposes the configured refresh token lifetime.
func (tm *TokenManager) RefreshTokenExpiry() time.Duration {
	return tm.refreshTokenExpiry
}

func (tm *TokenManager) sign(claims *TokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

func (tm *TokenManager) baseClaims(tokenType, subject string, expiry time.Duration) *TokenClaims {
	now := time.Now()
	return &TokenClaims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
}

// GenerateAccessToken creates an access token for a user-authorized grant.
// Pass a nil user for client-credentials grants.
func (tm *TokenManager) GenerateAccessToken(user *models.User, clientID string, scopes []string) (string, error) {
	subject := clientID
	claims := tm.baseClaims(TokenTypeAccess, subject, tm.accessTokenExpiry)
	if user != nil {
		claims.Subject = user.ID
		claims.Email = user.Email
		claims.Username = user.Username
		claims.SecurityStamp = user.SecurityStamp
	}
	claims.ClientID = clientID
	claims.Scope = scopes
	return tm.sign(claims)
}

// GenerateRefreshToken creates a refresh token. The returned jti keys the
// token's redeem-once record; familyID groups rotations for family-wide
// revocation on reuse.
func (tm *TokenManager) GenerateRefreshToken(user *models.User, clientID, familyID string, scopes []string) (token, jti string, err error) {
	claims := tm.baseClaims(TokenTypeRefresh, user.ID, tm.refreshTokenExpiry)
	claims.ClientID = clientID
	claims.Scope = scopes
	claims.SecurityStamp = user.SecurityStamp
	claims.FamilyID = familyID
	signed, err := tm.sign(claims)
	if err != nil {
		return "", "", err
	}
	return signed, claims.ID, nil
}

// GenerateIdentityToken creates an OIDC-shaped identity token for the user.
func (tm *TokenManager) GenerateIdentityToken(user *models.User, clientID string) (string, error) {
	claims := tm.baseClaims(TokenTypeIdentity, user.ID, tm.accessTokenExpiry)
	claims.Email = user.Email
	claims.Username = user.Username
	claims.ClientID = clientID
	claims.Audience = jwt.ClaimStrings{clientID}
	return tm.sign(claims)
}

// GenerateMagicLinkToken creates a signed single-use sign-in token. The jti
// keys the link's redeem-once record.
func (tm *TokenManager) GenerateMagicLinkToken(userID, securityStamp string, ttl time.Duration) (token, jti string, err error) {
	claims := tm.baseClaims(TokenTypeMagicLink, userID, ttl)
	claims.SecurityStamp = securityStamp
	signed, err := tm.sign(claims)
	if err != nil {
		return "", "", err
	}
	return signed, claims.ID, nil
}

// GeneratePasswordResetToken creates a signed single-use reset token. It
// carries the security stamp, so any credential change made after issuance
// voids it.
func (tm *TokenManager) GeneratePasswordResetToken(userID, securityStamp string, ttl time.Duration) (token, jti string, err error) {
	claims := tm.baseClaims(TokenTypePasswordReset, userID, ttl)
	claims.SecurityStamp = securityStamp
	signed, err := tm.sign(claims)
	if err != nil {
		return "", "", err
	}
	return signed, claims.ID, nil
}

// GenerateEmailConfirmationToken creates a signed email-confirmation token.
func (tm *TokenManager) GenerateEmailConfirmationToken(userID, email string, ttl time.Duration) (token, jti string, err error) {
	claims := tm.baseClaims(TokenTypeEmailConfirmation, userID, ttl)
	claims.Email = email
	signed, err := tm.sign(claims)
	if err != nil {
		return "", "", err
	}
	return signed, claims.ID, nil
}

// ValidateToken verifies signature and time claims and returns the claims.
func (tm *TokenManager) ValidateToken(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithIssuer(tm.issuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid || claims.Type == "" {
		return nil, models.ErrInvalidGrant
	}
	return claims, nil
}

// ValidateTokenOfType validates the token and requires a specific type claim.
func (tm *TokenManager) ValidateTokenOfType(tokenString, tokenType string) (*TokenClaims, error) {
	claims, err := tm.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != tokenType {
		return nil, models.ErrInvalidGrant
	}
	return claims, nil
}
