// Package tracker is a minimal Jira REST client that creates issues and
// classifies the response into an escalation result.
package tracker
