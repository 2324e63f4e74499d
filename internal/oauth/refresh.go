package oauth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pellmont/signet/internal/auth"
	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
	pkglogger "github.com/pellmont/signet/pkg/logger"
)

// exchangeRefreshToken rotates a refresh token: the presented token is
// consumed and a new one from the same family is issued. Presenting a
// token that was already rotated is treated as theft; the whole family is
// revoked rather than failing softly.
func (d *Dispatcher) exchangeRefreshToken(ctx context.Context, client *models.Client, req *models.TokenRequest) (*models.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, models.ErrInvalidGrant
	}

	claims, err := d.tokens.ValidateTokenOfType(req.RefreshToken, auth.TokenTypeRefresh)
	if err != nil {
		return nil, models.ErrInvalidGrant
	}
	if claims.ClientID != client.ID {
		return nil, models.ErrInvalidGrant
	}

	if _, err := d.artifacts.Redeem(ctx, onetime.KindRefreshToken, claims.ID); err != nil {
		if errors.Is(err, onetime.ErrConsumed) {
			revoked, rerr := d.artifacts.RevokeFamily(ctx, onetime.KindRefreshToken, claims.FamilyID)
			if rerr != nil {
				d.logger.Error("family revocation failed",
					slog.String("family_id", claims.FamilyID), slog.Any("error", rerr))
			}
			d.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
				EventType:     "refresh_token_reuse",
				UserID:        claims.Subject,
				ClientID:      client.ID,
				FailureReason: "rotated_token_replayed",
			})
			d.logger.Warn("refresh token reuse detected, family revoked",
				slog.String("user_id", claims.Subject),
				slog.String("family_id", claims.FamilyID),
				slog.Int("tokens_revoked", revoked))
		}
		return nil, models.ErrInvalidGrant
	}

	user, err := d.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, models.ErrInvalidGrant
	}
	// A credential change since issuance invalidates the token even
	// though its signature still verifies.
	if user.SecurityStamp != claims.SecurityStamp {
		return nil, models.ErrInvalidGrant
	}

	return d.issueTokens(ctx, user, client, claims.Scope, claims.FamilyID, true)
}
