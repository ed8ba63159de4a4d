// Package dedup tracks which alarm incidents were already escalated, in
// process memory and optionally in a shared Redis.
package dedup
