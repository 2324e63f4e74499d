package oauth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
)

// devicePayload is the JSON body of a device-code artifact.
type devicePayload struct {
	UserCode string   `json:"user_code"`
	Scopes   []string `json:"scopes"`
	Status   string   `json:"status"`
	UserID   string   `json:"user_id,omitempty"`
}

// DeviceAuthorizationResponse is returned from the device-authorization
// endpoint per RFC 8628 §3.2.
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// generateUserCode returns an 8-character code in XXXX-XXXX form from an
// alphabet without ambiguous characters, for a human to type.
func generateUserCode() (string, error) {
	const charset = "BCDFGHJKLMNPQRSTVWXZ"
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, 8)
	for i, b := range buf {
		code[i] = charset[int(b)%len(charset)]
	}
	return string(code[:4]) + "-" + string(code[4:]), nil
}

// BeginDeviceAuthorization starts a device flow: it issues a device/user
// code pair that the device polls and the user approves out of band.
func (d *Dispatcher) BeginDeviceAuthorization(ctx context.Context, clientID, scope, verificationURI string) (*DeviceAuthorizationResponse, error) {
	client, err := d.clients.GetByID(ctx, clientID)
	if err != nil {
		return nil, models.ErrClientAuthFailed
	}
	if !client.AllowsGrantType(models.GrantDeviceCode) {
		return nil, models.ErrUnsupportedGrantType
	}

	userCode, err := generateUserCode()
	if err != nil {
		return nil, models.ErrInternalServer
	}
	deviceCode := uuid.New().String()
	expiresAt := time.Now().Add(d.config.DeviceCodeTTL)

	payload, err := json.Marshal(devicePayload{
		UserCode: userCode,
		Scopes:   client.FilterScopes(models.ParseScopes(scope)),
		Status:   models.DeviceStatusPending,
	})
	if err != nil {
		return nil, models.ErrInternalServer
	}

	if err := d.artifacts.Put(ctx, &onetime.Artifact{
		Kind:      onetime.KindDeviceCode,
		Key:       deviceCode,
		ClientID:  client.ID,
		Payload:   payload,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, models.ErrInternalServer
	}

	// The user code maps back to the device code for the approval step;
	// approving consumes it, so a code cannot be approved twice.
	if err := d.artifacts.Put(ctx, &onetime.Artifact{
		Kind:      onetime.KindDeviceUserCode,
		Key:       userCode,
		ClientID:  client.ID,
		Payload:   []byte(deviceCode),
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, models.ErrInternalServer
	}

	return &DeviceAuthorizationResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: fmt.Sprintf("%s?user_code=%s", verificationURI, userCode),
		ExpiresIn:               int64(time.Until(expiresAt).Seconds()),
		Interval:                int64(d.config.DevicePollInterval.Seconds()),
	}, nil
}

// ResolveDeviceApproval marks the device authorization behind a user code
// approved or denied. The user must already be authenticated.
func (d *Dispatcher) ResolveDeviceApproval(ctx context.Context, userCode, userID string, approve bool) error {
	mapping, err := d.artifacts.Redeem(ctx, onetime.KindDeviceUserCode, userCode)
	if err != nil {
		if errors.Is(err, onetime.ErrExpired) {
			return models.ErrAuthorizationExpired
		}
		return models.ErrInvalidGrant
	}
	deviceCode := string(mapping.Payload)

	artifact, err := d.artifacts.Get(ctx, onetime.KindDeviceCode, deviceCode)
	if err != nil {
		return models.ErrInvalidGrant
	}

	var payload devicePayload
	if err := json.Unmarshal(artifact.Payload, &payload); err != nil {
		return models.ErrInternalServer
	}
	if payload.Status != models.DeviceStatusPending {
		return models.ErrInvalidGrant
	}

	if approve {
		payload.Status = models.DeviceStatusApproved
		payload.UserID = userID
	} else {
		payload.Status = models.DeviceStatusDenied
	}
	updated, err := json.Marshal(payload)
	if err != nil {
		return models.ErrInternalServer
	}
	artifact.Payload = updated
	if err := d.artifacts.Update(ctx, artifact); err != nil {
		return models.ErrInternalServer
	}
	return nil
}

// exchangeDeviceCode polls the device authorization. Pending yields the
// retryable authorization_pending error; approval issues tokens exactly
// once by consuming the code.
func (d *Dispatcher) exchangeDeviceCode(ctx context.Context, client *models.Client, req *models.TokenRequest) (*models.TokenResponse, error) {
	if req.DeviceCode == "" {
		return nil, models.ErrInvalidGrant
	}

	artifact, err := d.artifacts.Get(ctx, onetime.KindDeviceCode, req.DeviceCode)
	if err != nil {
		switch {
		case errors.Is(err, onetime.ErrExpired):
			return nil, models.ErrAuthorizationExpired
		case errors.Is(err, onetime.ErrConsumed):
			return nil, models.ErrInvalidGrant
		default:
			return nil, models.ErrInvalidGrant
		}
	}
	if artifact.ClientID != client.ID {
		return nil, models.ErrInvalidGrant
	}

	var payload devicePayload
	if err := json.Unmarshal(artifact.Payload, &payload); err != nil {
		return nil, models.ErrInternalServer
	}

	switch payload.Status {
	case models.DeviceStatusPending:
		return nil, models.ErrAuthorizationPending
	case models.DeviceStatusDenied:
		// The denied record stays readable until it expires, so every
		// poll after the denial sees the same answer.
		return nil, models.ErrAuthorizationDenied
	case models.DeviceStatusApproved:
		// Consume before issuing; a concurrent poll loses the race.
		if _, err := d.artifacts.Redeem(ctx, onetime.KindDeviceCode, req.DeviceCode); err != nil {
			return nil, models.ErrInvalidGrant
		}
		user, err := d.users.GetByID(ctx, payload.UserID)
		if err != nil {
			return nil, models.ErrInvalidGrant
		}
		return d.issueTokens(ctx, user, client, payload.Scopes, "", true)
	default:
		return nil, models.ErrInvalidGrant
	}
}
