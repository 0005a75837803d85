// Package client provides a small synchronous client for the broker wire
// protocol, used by the CLI status subcommand and the fake agent.
package client
