// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package alarm

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/zeebo/blake3"
)

// DefaultDedupWindow is used when neither the alarm trigger nor the
// configuration provides an evaluation window.
const DefaultDedupWindow = 5 * time.Minute

// DedupKey fingerprints one incident: all deliveries of the same alarm and
// state within one evaluation window share a key.
type DedupKey string

func (k DedupKey) String() string { return string(k) }

// Bucket returns the start of the time bucket the notification falls into.
// The trigger's evaluation window wins over fallback.
func (n *Notification) Bucket(fallback time.Duration) time.Time {
	window := n.Trigger.Window()
	if window <= 0 {
		window = fallback
	}
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return n.Timestamp.UTC().Truncate(window)
}

// DedupKey derives the fingerprint of (alarm name, new state, time bucket).
func (n *Notification) DedupKey(fallback time.Duration) DedupKey {
	h := blake3.New()
	_, _ = h.Write([]byte(n.AlarmName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(n.NewState))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.FormatInt(n.Bucket(fallback).Unix(), 10)))
	return DedupKey(hex.EncodeToString(h.Sum(nil)))
}
