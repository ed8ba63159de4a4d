// Package escalation implements the alarm-to-issue pipeline: it validates a
// notification, fetches tracker credentials, de-duplicates the incident,
// creates the issue with bounded retries and emits one outcome record per
// notification.
package escalation
