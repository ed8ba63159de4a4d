// Package metrics defines Prometheus metrics for the alarm escalator,
// covering received notifications, pipeline stages, issue tracker calls,
// credential and dedup caches, outcome sinks and mail delivery.
package metrics
