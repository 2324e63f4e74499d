package oauth

import (
	"context"

	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
)

// exchangePassword runs the resource-owner password grant through the
// login state machine's primary verification. The grant has no channel
// for a second-factor challenge, so an account with one enabled is
// rejected outright instead of silently downgrading its security.
func (d *Dispatcher) exchangePassword(ctx context.Context, client *models.Client, req *models.TokenRequest) (*models.TokenResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, models.ErrInvalidGrant
	}

	result, err := d.login.AuthenticatePrimary(ctx, req.Username, req.Password, req.IPAddress)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case models.LoginSuccess:
		requested := models.ParseScopes(req.Scope)
		scopes := client.FilterScopes(requested)
		if len(requested) > 0 && len(scopes) == 0 {
			return nil, models.ErrInvalidScope
		}
		return d.issueTokens(ctx, result.User, client, scopes, "", true)
	case models.LoginTwoFactorRequired:
		// The handle will never be completed through this grant.
		_ = d.artifacts.Revoke(ctx, onetime.KindTwoFactorPending, result.PendingHandle)
		return nil, models.ErrSecondFactorNotSupported
	case models.LoginLockedOut:
		return nil, models.ErrAccountLocked
	case models.LoginEmailNotConfirmed:
		return nil, models.ErrEmailNotConfirmed
	default:
		return nil, models.ErrInvalidGrant
	}
}
