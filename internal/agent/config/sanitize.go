package config

import "strings"

// Sanitize returns a copy of cfg with secrets masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Storage.EncryptionKey = maskSecret(out.Storage.EncryptionKey)
	out.Remote.APIKey = maskSecret(out.Remote.APIKey)
	out.Auth.PINSalt = maskSecret(out.Auth.PINSalt)
	return &out
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
	}
}
