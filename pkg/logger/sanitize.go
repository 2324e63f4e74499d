package logger

import "strings"

// SanitizedEmail masks an email address for logging ("u***@****.com").
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	local, domain := parts[0], parts[1]
	if len(local) > 1 {
		local = string(local[0]) + strings.Repeat("*", len(local)-1)
	}

	domainParts := strings.Split(domain, ".")
	for i := 0; i < len(domainParts)-1; i++ {
		domainParts[i] = strings.Repeat("*", len(domainParts[i]))
	}

	return local + "@" + strings.Join(domainParts, ".")
}

// sensitiveQueryParams are query keys whose values must never reach the
// request log (single-use tokens and codes arrive here on link clicks).
var sensitiveQueryParams = []string{"token", "code", "user_code", "device_code", "state"}

// SanitizeQueryString reports whether a raw query string carries a
// sensitive parameter and must be redacted from logs.
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	lower := strings.ToLower(rawQuery)
	for _, param := range sensitiveQueryParams {
		if strings.Contains(lower, param+"=") {
			return true
		}
	}
	return false
}

// SanitizedPhone keeps only the last two digits of a phone number.
func SanitizedPhone(phone string) string {
	if len(phone) < 4 {
		return "[redacted]"
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}
