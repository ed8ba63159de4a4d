// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package alarm parses alarm state change notifications out of the envelopes
// they arrive in (SNS Lambda events, SNS HTTP deliveries, EventBridge events,
// raw CloudWatch bodies) and derives the de-duplication key of a notification.
package alarm
