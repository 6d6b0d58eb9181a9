// Package command defines the farmsync command line.
//
// Every command runs against the on-device database. Commands that need
// the tenant context open the engine, bind the configured tenant and
// resume the persisted session first, so a login made by one invocation
// carries over to the next until logout or expiry.
package command
