package logger

import (
	"net/http"
	"strings"
)

const masked = "****"

// Substrings of keys whose values never reach logs in clear text. Payout
// destinations carry bank and wallet identifiers; webhook signatures and
// operator tokens are credentials.
var sensitiveKeys = []string{
	"secret", "token", "api_key", "signature", "authorization",
	"destination", "account_number", "routing_number", "iban",
}

func sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, needle := range sensitiveKeys {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}

// tail keeps the last four characters so operators can still match a
// masked destination against what the partner reports.
func tail(value string) string {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return ""
	case len(value) <= 4:
		return masked
	}
	return masked + value[len(value)-4:]
}

// MaskDestination masks a payout destination, keeping the last 4 characters.
func MaskDestination(value string) string { return tail(value) }

// MaskAuthorization masks a bearer token, keeping the scheme.
func MaskAuthorization(value string) string {
	if scheme, token, ok := strings.Cut(strings.TrimSpace(value), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return "Bearer " + tail(token)
	}
	return tail(value)
}

// MaskHeaders flattens headers for logging with credentials and webhook
// signatures masked.
func MaskHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		value := strings.Join(values, ",")
		switch {
		case strings.EqualFold(key, "Authorization"):
			value = MaskAuthorization(value)
		case sensitive(key):
			value = tail(value)
		}
		out[key] = value
	}
	return out
}

// MaskJSON deep-copies a decoded JSON object, masking sensitive fields at
// any depth. Payment event metadata goes through it before it is logged.
func MaskJSON(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		if sensitive(key) {
			if s, ok := value.(string); ok {
				out[key] = tail(s)
			} else {
				out[key] = masked
			}
			continue
		}
		out[key] = maskAny(value)
	}
	return out
}

func maskAny(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return MaskJSON(v)
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = maskAny(item)
		}
		return items
	}
	return value
}

// SafeFieldsFromRequest returns request metadata that is safe to log. The
// query string is left out because operators may pass tokens in it.
func SafeFieldsFromRequest(req *http.Request) map[string]any {
	if req == nil {
		return map[string]any{}
	}
	return map[string]any{
		"method":         req.Method,
		"path":           req.URL.Path,
		"content_length": max(req.ContentLength, 0),
		"headers":        MaskHeaders(req.Header),
	}
}
