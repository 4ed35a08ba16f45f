// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package snap

import (
	"sync"
	"time"
)

const (
	minBytesLimit = 20_000
	maxBytesLimit = 2_000_000

	lowerLatency = 1 * time.Second
	upperLatency = 2 * time.Second
)

// Budget tracks a session's adaptive response-bytes allowance: the
// handler requests MIN..MAX bytes per round-trip and doubles or halves
// that ask based on how fast the previous round-trip completed,
// following spec.md §4.G verbatim. Adjustment is always computed against
// the limit captured when the request was issued, so two concurrent
// requests never compound each other's adjustment.
type Budget struct {
	mu      sync.Mutex
	current uint64
}

// NewBudget starts a session at the minimum byte allowance.
func NewBudget() *Budget {
	return &Budget{current: minBytesLimit}
}

// Current returns the byte limit to attach to the next outgoing request.
func (b *Budget) Current() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Report applies the outcome of one round-trip. starting is the limit
// Current() returned when the request was issued; failed is true if the
// request errored, timed out, or was cancelled.
func (b *Budget) Report(starting uint64, elapsed time.Duration, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case failed:
		b.current = minBytesLimit
	case elapsed < lowerLatency:
		next := starting * 2
		if next > maxBytesLimit {
			next = maxBytesLimit
		}
		b.current = next
	case elapsed > upperLatency && starting > minBytesLimit:
		next := starting / 2
		if next < minBytesLimit {
			next = minBytesLimit
		}
		b.current = next
	default:
		b.current = starting
	}
}
