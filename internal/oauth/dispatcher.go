// Package oauth implements the token-endpoint grant dispatcher and its
// grant-specific handlers.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pellmont/signet/internal/auth"
	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
	pkgauth "github.com/pellmont/signet/pkg/auth"
	pkglogger "github.com/pellmont/signet/pkg/logger"
)

// ClientRepository is the registered-client store contract.
type ClientRepository interface {
	GetByID(ctx context.Context, id string) (*models.Client, error)
}

// UserFetcher is the slice of the user store the grant handlers need.
type UserFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// PrimaryAuthenticator is implemented by the login state machine; the
// password grant delegates primary verification to it.
type PrimaryAuthenticator interface {
	AuthenticatePrimary(ctx context.Context, identifier, password, ipAddress string) (*models.LoginResult, error)
}

// Config holds grant-handler policy.
type Config struct {
	AuthorizationCodeTTL time.Duration
	DeviceCodeTTL        time.Duration
	DevicePollInterval   time.Duration
}

// Dispatcher routes an inbound token request to the handler for its grant
// type. It is stateless per request; all shared state lives in the
// artifact store.
type Dispatcher struct {
	clients     ClientRepository
	users       UserFetcher
	artifacts   onetime.Store
	tokens      *auth.TokenManager
	login       PrimaryAuthenticator
	config      Config
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	clients ClientRepository,
	users UserFetcher,
	artifacts onetime.Store,
	tokens *auth.TokenManager,
	login PrimaryAuthenticator,
	config Config,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *Dispatcher {
	return &Dispatcher{
		clients:     clients,
		users:       users,
		artifacts:   artifacts,
		tokens:      tokens,
		login:       login,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Exchange validates the request against its grant type's rules and
// returns a token response or a sentinel error that maps onto an RFC 6749
// error code.
func (d *Dispatcher) Exchange(ctx context.Context, req *models.TokenRequest) (*models.TokenResponse, error) {
	client, err := d.authenticateClient(ctx, req)
	if err != nil {
		d.auditLogger.LogTokenGrant(pkglogger.AuditEvent{
			EventType:     "token_denied",
			ClientID:      req.ClientID,
			GrantType:     req.GrantType,
			IPAddress:     req.IPAddress,
			FailureReason: "client_authentication_failed",
		})
		return nil, err
	}

	var resp *models.TokenResponse
	switch req.GrantType {
	case models.GrantAuthorizationCode:
		resp, err = d.exchangeAuthorizationCode(ctx, client, req)
	case models.GrantRefreshToken:
		resp, err = d.exchangeRefreshToken(ctx, client, req)
	case models.GrantClientCredentials:
		resp, err = d.exchangeClientCredentials(ctx, client, req)
	case models.GrantDeviceCode:
		resp, err = d.exchangeDeviceCode(ctx, client, req)
	case models.GrantPassword:
		resp, err = d.exchangePassword(ctx, client, req)
	default:
		err = models.ErrUnsupportedGrantType
	}

	if err != nil {
		// authorization_pending is a normal polling response, not a
		// security event.
		if !errors.Is(err, models.ErrAuthorizationPending) {
			d.auditLogger.LogTokenGrant(pkglogger.AuditEvent{
				EventType:     "token_denied",
				ClientID:      client.ID,
				GrantType:     req.GrantType,
				IPAddress:     req.IPAddress,
				FailureReason: err.Error(),
			})
		}
		return nil, err
	}

	d.auditLogger.LogTokenGrant(pkglogger.AuditEvent{
		EventType: "token_granted",
		ClientID:  client.ID,
		GrantType: req.GrantType,
		IPAddress: req.IPAddress,
		Success:   true,
	})
	return resp, nil
}

// authenticateClient resolves and authenticates the requesting client,
// then checks the grant type against the client's allow-list. Unknown
// clients and bad secrets collapse into the same error.
func (d *Dispatcher) authenticateClient(ctx context.Context, req *models.TokenRequest) (*models.Client, error) {
	if req.ClientID == "" {
		return nil, models.ErrClientAuthFailed
	}

	client, err := d.clients.GetByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrClientAuthFailed
		}
		d.logger.Error("client lookup failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if client.Confidential {
		if req.ClientSecret == "" ||
			pkgauth.ComparePassword(client.SecretHash, req.ClientSecret) != nil {
			return nil, models.ErrClientAuthFailed
		}
	} else if req.ClientSecret != "" {
		return nil, models.ErrClientAuthFailed
	}

	if req.GrantType == "" {
		return nil, models.ErrUnsupportedGrantType
	}
	if !client.AllowsGrantType(req.GrantType) {
		return nil, models.ErrUnsupportedGrantType
	}
	return client, nil
}
