package oauth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
)

const testVerificationURI = "https://id.example.com/device"

func beginDeviceFlow(t *testing.T, fx *dispatcherFixture, clientID, scope string) *DeviceAuthorizationResponse {
	t.Helper()
	resp, err := fx.dispatcher.BeginDeviceAuthorization(context.Background(), clientID, scope, testVerificationURI)
	require.NoError(t, err)
	return resp
}

func devicePollRequest(deviceCode string) *models.TokenRequest {
	return &models.TokenRequest{
		GrantType:    models.GrantDeviceCode,
		ClientID:     confidentialClientID,
		ClientSecret: testClientSecret,
		DeviceCode:   deviceCode,
	}
}

func TestDeviceFlow_Begin(t *testing.T) {
	fx := newDispatcherFixture(t)

	resp := beginDeviceFlow(t, fx, confidentialClientID, "openid profile")
	assert.NotEmpty(t, resp.DeviceCode)
	assert.Regexp(t, `^[BCDFGHJKLMNPQRSTVWXZ]{4}-[BCDFGHJKLMNPQRSTVWXZ]{4}$`, resp.UserCode)
	assert.Equal(t, testVerificationURI, resp.VerificationURI)
	assert.Equal(t, testVerificationURI+"?user_code="+resp.UserCode, resp.VerificationURIComplete)
	assert.Equal(t, int64(5), resp.Interval)
	assert.Greater(t, resp.ExpiresIn, int64(0))
}

func TestDeviceFlow_UserCodesAreDistinct(t *testing.T) {
	fx := newDispatcherFixture(t)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		resp := beginDeviceFlow(t, fx, confidentialClientID, "openid")
		assert.False(t, seen[resp.UserCode], "user code %q repeated", resp.UserCode)
		seen[resp.UserCode] = true
	}
}

func TestDeviceFlow_BeginRejectsUnregisteredGrant(t *testing.T) {
	fx := newDispatcherFixture(t)
	fx.clients[publicClientID].AllowedGrantTypes = []string{models.GrantAuthorizationCode}

	_, err := fx.dispatcher.BeginDeviceAuthorization(context.Background(), publicClientID, "openid", testVerificationURI)
	assert.ErrorIs(t, err, models.ErrUnsupportedGrantType)
}

func TestDeviceFlow_PendingPoll(t *testing.T) {
	fx := newDispatcherFixture(t)

	resp := beginDeviceFlow(t, fx, confidentialClientID, "openid")

	_, err := fx.dispatcher.Exchange(context.Background(), devicePollRequest(resp.DeviceCode))
	assert.ErrorIs(t, err, models.ErrAuthorizationPending)

	// Pending is retryable; the code survives the poll.
	_, err = fx.dispatcher.Exchange(context.Background(), devicePollRequest(resp.DeviceCode))
	assert.ErrorIs(t, err, models.ErrAuthorizationPending)
}

func TestDeviceFlow_ApproveAndExchange(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	begin := beginDeviceFlow(t, fx, confidentialClientID, "openid profile")
	require.NoError(t, fx.dispatcher.ResolveDeviceApproval(ctx, begin.UserCode, fx.user.ID, true))

	resp, err := fx.dispatcher.Exchange(ctx, devicePollRequest(begin.DeviceCode))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEmpty(t, resp.IDToken)
	assert.Equal(t, "openid profile", resp.Scope)

	// A successful exchange consumes the device code.
	_, err = fx.dispatcher.Exchange(ctx, devicePollRequest(begin.DeviceCode))
	assert.ErrorIs(t, err, models.ErrInvalidGrant)
}

func TestDeviceFlow_Denial(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	begin := beginDeviceFlow(t, fx, confidentialClientID, "openid")
	require.NoError(t, fx.dispatcher.ResolveDeviceApproval(ctx, begin.UserCode, fx.user.ID, false))

	_, err := fx.dispatcher.Exchange(ctx, devicePollRequest(begin.DeviceCode))
	assert.ErrorIs(t, err, models.ErrAuthorizationDenied)

	// The denial is stable: a device that polls again gets the same
	// answer, not a generic invalid_grant.
	_, err = fx.dispatcher.Exchange(ctx, devicePollRequest(begin.DeviceCode))
	assert.ErrorIs(t, err, models.ErrAuthorizationDenied)
}

func TestDeviceFlow_UserCodeApprovedOnce(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	begin := beginDeviceFlow(t, fx, confidentialClientID, "openid")
	require.NoError(t, fx.dispatcher.ResolveDeviceApproval(ctx, begin.UserCode, fx.user.ID, true))

	err := fx.dispatcher.ResolveDeviceApproval(ctx, begin.UserCode, fx.user.ID, true)
	assert.ErrorIs(t, err, models.ErrInvalidGrant)
}

func TestDeviceFlow_UnknownUserCode(t *testing.T) {
	fx := newDispatcherFixture(t)

	err := fx.dispatcher.ResolveDeviceApproval(context.Background(), "XXXX-XXXX", fx.user.ID, true)
	assert.ErrorIs(t, err, models.ErrInvalidGrant)
}

func TestDeviceFlow_ExpiredCode(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	expired := *fx.dispatcher
	expired.config.DeviceCodeTTL = -time.Minute
	begin, err := expired.BeginDeviceAuthorization(ctx, confidentialClientID, "openid", testVerificationURI)
	require.NoError(t, err)

	_, err = fx.dispatcher.Exchange(ctx, devicePollRequest(begin.DeviceCode))
	assert.ErrorIs(t, err, models.ErrAuthorizationExpired)

	err = fx.dispatcher.ResolveDeviceApproval(ctx, begin.UserCode, fx.user.ID, true)
	assert.ErrorIs(t, err, models.ErrAuthorizationExpired)
}

func TestDeviceFlow_CodeBoundToClient(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	begin := beginDeviceFlow(t, fx, publicClientID, "openid")
	require.NoError(t, fx.dispatcher.ResolveDeviceApproval(ctx, begin.UserCode, fx.user.ID, true))

	// Polling with a different client than the one that started the flow.
	_, err := fx.dispatcher.Exchange(ctx, devicePollRequest(begin.DeviceCode))
	assert.ErrorIs(t, err, models.ErrInvalidGrant)
}

func TestDeviceFlow_ScopeFilteredAtIssuance(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	begin := beginDeviceFlow(t, fx, confidentialClientID, "openid admin:everything")
	require.NoError(t, fx.dispatcher.ResolveDeviceApproval(ctx, begin.UserCode, fx.user.ID, true))

	resp, err := fx.dispatcher.Exchange(ctx, devicePollRequest(begin.DeviceCode))
	require.NoError(t, err)
	assert.Equal(t, "openid", resp.Scope)
	assert.False(t, strings.Contains(resp.Scope, "admin:everything"))
}

func TestDeviceFlow_MissingDeviceCode(t *testing.T) {
	fx := newDispatcherFixture(t)

	_, err := fx.dispatcher.Exchange(context.Background(), devicePollRequest(""))
	assert.ErrorIs(t, err, models.ErrInvalidGrant)
}

func TestGenerateUserCode_Format(t *testing.T) {
	code, err := generateUserCode()
	require.NoError(t, err)
	require.Len(t, code, 9)
	assert.Equal(t, byte('-'), code[4])
	for _, c := range code[:4] + code[5:] {
		assert.Contains(t, "BCDFGHJKLMNPQRSTVWXZ", string(c))
	}
}

// Revoking a pending handle directly mirrors what the password grant does
// when an account has a second factor enabled; the artifact store must not
// resurrect it.
func TestDeviceFlow_RevokedUserCodeStaysDead(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	begin := beginDeviceFlow(t, fx, confidentialClientID, "openid")
	require.NoError(t, fx.artifacts.Revoke(ctx, onetime.KindDeviceUserCode, begin.UserCode))

	err := fx.dispatcher.ResolveDeviceApproval(ctx, begin.UserCode, fx.user.ID, true)
	assert.ErrorIs(t, err, models.ErrInvalidGrant)
}
