package oauth

import (
	"context"

	"github.com/pellmont/signet/internal/models"
)

// exchangeClientCredentials issues an access token for the client itself.
// There is no user principal and no refresh token.
func (d *Dispatcher) exchangeClientCredentials(ctx context.Context, client *models.Client, req *models.TokenRequest) (*models.TokenResponse, error) {
	// Public clients cannot hold a secret, so they cannot use this grant.
	if !client.Confidential {
		return nil, models.ErrClientAuthFailed
	}

	requested := models.ParseScopes(req.Scope)
	scopes := client.FilterScopes(requested)
	if len(requested) > 0 && len(scopes) == 0 {
		return nil, models.ErrInvalidScope
	}

	return d.issueTokens(ctx, nil, client, scopes, "", false)
}
