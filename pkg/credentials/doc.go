// Package credentials resolves the issue tracker credential bundle from a
// secret store (AWS Secrets Manager, the OS keyring or the environment) and
// caches it between invocations.
package credentials
