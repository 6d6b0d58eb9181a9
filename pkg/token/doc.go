// Package token issues and checks session tokens.
//
// A token is "fss_" followed by 43 characters of base64url-encoded random
// bytes. Only its digest, "fsd_" followed by the hex SHA-256 of the token,
// is ever written to disk.
package token
