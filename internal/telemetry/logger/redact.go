package logger

import (
	"log/slog"
	"strings"
)

const redacted = "***REDACTED***"

// secretParts are key segments that mark a secret, e.g. "pin_hash" or
// "session_token".
var secretParts = map[string]struct{}{
	"pin":           {},
	"token":         {},
	"secret":        {},
	"password":      {},
	"passphrase":    {},
	"authorization": {},
	"bearer":        {},
}

// secretKeys are whole keys whose segments alone are not conclusive.
var secretKeys = map[string]struct{}{
	"api_key":        {},
	"apikey":         {},
	"encryption_key": {},
	"private_key":    {},
}

var mobileKeys = map[string]struct{}{
	"mobile":        {},
	"mobile_number": {},
	"phone":         {},
}

// IsSecretKey reports whether values logged under key are redacted.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	if _, ok := secretKeys[k]; ok {
		return true
	}
	for _, part := range strings.FieldsFunc(k, func(r rune) bool { return r == '_' || r == '.' || r == '-' }) {
		if _, ok := secretParts[part]; ok {
			return true
		}
	}
	return false
}

// MaskMobile keeps the last four digits of a mobile number.
func MaskMobile(mobile string) string {
	if len(mobile) <= 4 {
		return strings.Repeat("*", len(mobile))
	}
	return strings.Repeat("*", len(mobile)-4) + mobile[len(mobile)-4:]
}

func redact(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redact(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}

	case slog.KindString:
		v := a.Value.String()
		if v == "" {
			return a
		}
		if IsSecretKey(a.Key) {
			return slog.String(a.Key, redacted)
		}
		if _, ok := mobileKeys[strings.ToLower(a.Key)]; ok {
			return slog.String(a.Key, MaskMobile(v))
		}
	}
	return a
}
