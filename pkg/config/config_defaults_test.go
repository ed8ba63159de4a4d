// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigSecureDefaults(t *testing.T) {
	var cfg Config
	cfg.Defaults()
	// Defaults must never turn off TLS verification
	assert.False(t, cfg.Sinks.Mail.InsecureSkipVerify, "sinks.mail.insecureSkipVerify should be false by default")
	assert.False(t, cfg.Tracker.InsecureSkipVerify, "tracker.insecureSkipVerify should be false by default")
	assert.False(t, cfg.Telemetry.Insecure, "telemetry.insecure should be false by default")
	assert.Empty(t, cfg.Server.AllowedTopicARNs, "no SNS topic is trusted by default")
}

func TestDefaults_Idempotent(t *testing.T) {
	var cfg Config
	cfg.Defaults()
	first := cfg
	cfg.Defaults()
	assert.Equal(t, first, cfg)
}
