package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
	}{
		{"normal address", "alice@example.com", "a****@*******.com"},
		{"single-char local part", "a@example.com", "a@*******.com"},
		{"subdomain", "bob@mail.example.com", "b**@****.*******.com"},
		{"missing at sign", "not-an-email", "[invalid-email]"},
		{"two at signs", "a@b@c.com", "[invalid-email]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizedEmail(tt.email))
		})
	}
}

func TestSanitizeQueryString(t *testing.T) {
	tests := []struct {
		name     string
		rawQuery string
		want     bool
	}{
		{"empty", "", false},
		{"harmless", "page=2&sort=asc", false},
		{"confirmation token", "token=eyJhbGciOi", true},
		{"authorization code", "code=abc123", true},
		{"device user code", "user_code=BCDF-GHJK", true},
		{"oauth state", "state=opaque", true},
		{"uppercase key", "TOKEN=abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeQueryString(tt.rawQuery))
		})
	}
}

func TestSanitizedPhone(t *testing.T) {
	assert.Equal(t, "********67", SanitizedPhone("+441234567"))
	assert.Equal(t, "[redacted]", SanitizedPhone("12"))
}
