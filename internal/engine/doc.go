// Package engine wires tenancy, the local store, the authenticator, the sync
// engine and the remote client into one object that the CLI and the agent
// drive. It is built once per process.
package engine
