// Package tlsroots builds the client TLS configuration used to reach the
// FarmSync remote API.
//
//   - roots.go: system roots plus operator-supplied CA bundles
//   - keypair.go: client certificate for mutual TLS, reloaded when the
//     files on disk are rotated
package tlsroots
