// Package outcome defines the escalation result variant and the outcome record,
// and forwards records to configurable sinks (structured log, Kafka, mail) with
// circuit breaker protection.
package outcome
