// Package api implements the Gin-based HTTP transport: an SNS HTTPS
// subscription endpoint that feeds notifications into the escalation handler,
// plus health, version and metrics endpoints.
package api
