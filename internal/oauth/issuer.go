package oauth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
)

const scopeOpenID = "openid"

// issueTokens is the common issuance step every authorized grant converges
// on: access token, optional rotated refresh token, and an identity token
// when the openid scope was granted.
func (d *Dispatcher) issueTokens(ctx context.Context, user *models.User, client *models.Client, scopes []string, familyID string, withRefresh bool) (*models.TokenResponse, error) {
	accessToken, err := d.tokens.GenerateAccessToken(user, client.ID, scopes)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	resp := &models.TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(d.tokens.AccessTokenExpiry().Seconds()),
		Scope:       strings.Join(scopes, " "),
		Scopes:      scopes,
	}

	if withRefresh && user != nil {
		if familyID == "" {
			familyID = uuid.New().String()
		}
		refreshToken, jti, err := d.tokens.GenerateRefreshToken(user, client.ID, familyID, scopes)
		if err != nil {
			return nil, models.ErrInternalServer
		}
		artifact := &onetime.Artifact{
			Kind:      onetime.KindRefreshToken,
			Key:       jti,
			UserID:    user.ID,
			ClientID:  client.ID,
			FamilyID:  familyID,
			ExpiresAt: time.Now().Add(d.tokens.RefreshTokenExpiry()),
		}
		if err := d.artifacts.Put(ctx, artifact); err != nil {
			return nil, models.ErrInternalServer
		}
		resp.RefreshToken = refreshToken
	}

	if user != nil && hasScope(scopes, scopeOpenID) {
		idToken, err := d.tokens.GenerateIdentityToken(user, client.ID)
		if err != nil {
			return nil, models.ErrInternalServer
		}
		resp.IDToken = idToken
	}

	return resp, nil
}

// IssueFirstPartyTokens mints a session for a user who completed the login
// state machine against the first-party client, outside any OAuth exchange.
// The full allowed scope set of that client is granted.
func (d *Dispatcher) IssueFirstPartyTokens(ctx context.Context, userID, clientID string) (*models.TokenResponse, error) {
	client, err := d.clients.GetByID(ctx, clientID)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	return d.issueTokens(ctx, user, client, client.AllowedScopes, "", true)
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
