// Package config loads the escalator configuration from YAML, applies defaults
// and environment overrides, and validates it, including the rule that the
// outcome log group is never one the escalating alarms monitor.
package config
