package models

import (
	"strings"
	"time"
)

// Client is a registered OAuth2 relying party.
type Client struct {
	ID                string
	Name              string
	SecretHash        string // bcrypt; empty for public clients
	Confidential      bool   // confidential clients must authenticate
	AllowedGrantTypes []string
	AllowedScopes     []string
	RedirectURIs      []string
	CreatedAt         time.Time
}

// AllowsGrantType reports whether the client may use the given grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, g := range c.AllowedGrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsRedirectURI requires an exact string match per RFC 6749 §3.1.2.3.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// FilterScopes returns the intersection of the requested scopes and the
// client's allowed scopes. An empty request yields every allowed scope.
func (c *Client) FilterScopes(requested []string) []string {
	if len(requested) == 0 {
		return append([]string(nil), c.AllowedScopes...)
	}
	allowed := make(map[string]bool, len(c.AllowedScopes))
	for _, s := range c.AllowedScopes {
		allowed[s] = true
	}
	granted := make([]string, 0, len(requested))
	for _, s := range requested {
		if allowed[s] {
			granted = append(granted, s)
		}
	}
	return granted
}

// ParseScopes splits a space-delimited scope string per RFC 6749 §3.3.
func ParseScopes(s string) []string {
	return strings.Fields(s)
}
