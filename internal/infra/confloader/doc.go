// Package confloader loads FarmSync configuration with koanf.
//
// Sources, later overriding earlier:
//
//  1. the defaults already present in the target struct
//  2. the YAML file
//  3. FARMSYNC_* environment variables
//  4. explicit overrides, typically command-line flags (LoadMap)
//
// Environment keys use a double underscore between sections so that single
// underscores survive inside key names:
//
//	FARMSYNC_AUTH__OFFLINE_SESSION_TTL=72h  ->  auth.offline_session_ttl
//
// watcher.go notifies the agent when the file changes so it can re-apply
// the settings that are safe to change at runtime.
package confloader
