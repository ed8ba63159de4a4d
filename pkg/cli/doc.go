// Package cli defines the escalator command tree (lambda, serve, invoke,
// credentials, version) and wires the escalation handler from configuration.
package cli
