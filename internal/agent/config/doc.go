// Package config defines the farmsync configuration schema.
//
//   - spec.go: Config and its sections
//   - default.go: defaults for a field device
//   - verify.go: validation run before anything is opened
//   - sanitize.go: copy with secrets masked, for logging and `farmsync config`
//   - load.go: file, FARMSYNC_* environment and flag overrides via confloader
package config
