package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
	pkglogger "github.com/pellmont/signet/pkg/logger"
)

// PKCE challenge methods per RFC 7636.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// codePayload is the JSON body of an authorization-code artifact. It
// pins everything the exchange must re-validate.
type codePayload struct {
	RedirectURI     string   `json:"redirect_uri"`
	Scopes          []string `json:"scopes"`
	CodeChallenge   string   `json:"code_challenge,omitempty"`
	ChallengeMethod string   `json:"challenge_method,omitempty"`
}

// IssueAuthorizationCode mints a single-use code bound to the user,
// client, redirect URI and optional PKCE challenge. Called by the
// authorize endpoint after the user approves the request.
func (d *Dispatcher) IssueAuthorizationCode(ctx context.Context, userID, clientID, redirectURI string, scopes []string, codeChallenge, challengeMethod string) (string, error) {
	client, err := d.clients.GetByID(ctx, clientID)
	if err != nil {
		return "", models.ErrClientAuthFailed
	}
	if !client.AllowsGrantType(models.GrantAuthorizationCode) {
		return "", models.ErrUnsupportedGrantType
	}
	if !client.AllowsRedirectURI(redirectURI) {
		return "", models.ErrInvalidGrant
	}
	if challengeMethod != "" && challengeMethod != PKCEMethodS256 && challengeMethod != PKCEMethodPlain {
		return "", models.ErrInvalidGrant
	}

	payload, err := json.Marshal(codePayload{
		RedirectURI:     redirectURI,
		Scopes:          client.FilterScopes(scopes),
		CodeChallenge:   codeChallenge,
		ChallengeMethod: challengeMethod,
	})
	if err != nil {
		return "", models.ErrInternalServer
	}

	code := uuid.New().String()
	artifact := &onetime.Artifact{
		Kind:      onetime.KindAuthorizationCode,
		Key:       code,
		UserID:    userID,
		ClientID:  clientID,
		Payload:   payload,
		ExpiresAt: time.Now().Add(d.config.AuthorizationCodeTTL),
	}
	if err := d.artifacts.Put(ctx, artifact); err != nil {
		return "", models.ErrInternalServer
	}
	return code, nil
}

// exchangeAuthorizationCode redeems a code exactly once. The redemption
// happens first so a replayed or raced code is burned before any binding
// check can leak information about it.
func (d *Dispatcher) exchangeAuthorizationCode(ctx context.Context, client *models.Client, req *models.TokenRequest) (*models.TokenResponse, error) {
	if req.Code == "" {
		return nil, models.ErrInvalidGrant
	}

	artifact, err := d.artifacts.Redeem(ctx, onetime.KindAuthorizationCode, req.Code)
	if err != nil {
		if errors.Is(err, onetime.ErrConsumed) {
			d.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
				EventType:     "authorization_code_replay",
				ClientID:      client.ID,
				FailureReason: "code_already_redeemed",
			})
		}
		return nil, models.ErrInvalidGrant
	}

	if artifact.ClientID != client.ID {
		return nil, models.ErrInvalidGrant
	}

	var payload codePayload
	if err := json.Unmarshal(artifact.Payload, &payload); err != nil {
		return nil, models.ErrInternalServer
	}
	if payload.RedirectURI != req.RedirectURI {
		return nil, models.ErrInvalidGrant
	}
	if !verifyPKCE(payload.CodeChallenge, payload.ChallengeMethod, req.CodeVerifier) {
		return nil, models.ErrInvalidGrant
	}

	user, err := d.users.GetByID(ctx, artifact.UserID)
	if err != nil {
		return nil, models.ErrInvalidGrant
	}

	return d.issueTokens(ctx, user, client, payload.Scopes, "", true)
}

// verifyPKCE checks the verifier against the challenge stored at issuance.
// A code issued without a challenge must be exchanged without a verifier.
func verifyPKCE(challenge, method, verifier string) bool {
	if challenge == "" {
		return verifier == ""
	}
	if verifier == "" {
		return false
	}
	switch method {
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		derived := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
	case PKCEMethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}
