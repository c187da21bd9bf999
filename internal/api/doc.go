// Package api defines the JSON payload types exchanged between the partbank
// daemon and its clients, converters from store models, and the HTTP client
// the CLI uses to talk to a running daemon.
package api
