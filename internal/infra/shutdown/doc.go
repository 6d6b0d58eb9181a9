// Package shutdown coordinates graceful termination of the farmsync agent.
//
// Hooks are registered by name while components start and run in reverse
// order once SIGINT or SIGTERM arrives, the caller's context ends, or
// Trigger is called. Every hook shares one deadline.
package shutdown
