package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractClientIP_NoProxyConfig(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.9:40022"
	r.Header.Set("X-Forwarded-For", "203.0.113.50")

	// Without trusted proxies the forwarding header is attacker input.
	assert.Equal(t, "198.51.100.9", ExtractClientIP(r, nil))
	assert.Equal(t, "198.51.100.9", ExtractClientIP(r, &IPConfig{}))
}

func TestExtractClientIP_TrustedProxyForwardedFor(t *testing.T) {
	config := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:52011"
	r.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.7")

	assert.Equal(t, "203.0.113.50", ExtractClientIP(r, config))
}

func TestExtractClientIP_TrustedProxyRealIP(t *testing.T) {
	config := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:52011"
	r.Header.Set("X-Real-IP", "203.0.113.50")

	assert.Equal(t, "203.0.113.50", ExtractClientIP(r, config))
}

func TestExtractClientIP_UntrustedPeerHeadersIgnored(t *testing.T) {
	config := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.9:40022"
	r.Header.Set("X-Forwarded-For", "203.0.113.50")
	r.Header.Set("X-Real-IP", "203.0.113.51")

	assert.Equal(t, "198.51.100.9", ExtractClientIP(r, config))
}

func TestExtractClientIP_GarbageForwardedForFallsThrough(t *testing.T) {
	config := &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:52011"
	r.Header.Set("X-Forwarded-For", "not-an-ip")

	assert.Equal(t, "10.0.0.7", ExtractClientIP(r, config))
}

func TestExtractClientIP_BareRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	r.RemoteAddr = "198.51.100.9"
	assert.Equal(t, "198.51.100.9", ExtractClientIP(r, nil))

	r.RemoteAddr = ""
	assert.Equal(t, "unknown", ExtractClientIP(r, nil))
}
