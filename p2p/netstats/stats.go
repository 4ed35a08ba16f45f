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

package netstats

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/gethsync/corenet/p2p"
)

// TransferKind names one of the per-peer quantities tracked as a rolling
// exponential average.
type TransferKind uint8

const (
	Headers TransferKind = iota
	Bodies
	Receipts
	NodeData
	Latency
	SnapRanges
	numTransferKinds
)

// defaultWarmUpFloor is the minimum sample count before average_transfer_speed
// reports a value, configurable per the "default 2" requirement.
const defaultWarmUpFloor = 2

const defaultAlpha = 0.5

// ewma is a single exponentially-weighted rolling average with a warm-up
// floor: no value is reported until at least warmUp samples have been
// folded in, and a sample of 0 still counts as an observation.
type ewma struct {
	alpha    float64
	warmUp   int
	count    int
	value    float64
	hasValue bool
}

func newEWMA(alpha float64, warmUp int) *ewma {
	return &ewma{alpha: alpha, warmUp: warmUp}
}

func (e *ewma) add(sample uint64) {
	v := float64(sample)
	e.count++
	if !e.hasValue {
		e.value = v
		e.hasValue = true
	} else {
		e.value = e.alpha*v + (1-e.alpha)*e.value
	}
}

func (e *ewma) average() (uint64, bool) {
	if e.count < e.warmUp {
		return 0, false
	}
	return uint64(e.value), true
}

const eventRingSize = 32

// Stats is the per-peer node-stats entry: decaying transfer-speed
// averages plus a short ring of lifecycle/disconnect events, guarded by
// a single mutex matching the teacher's txNoncer lock-around-struct
// idiom.
type Stats struct {
	mu       sync.Mutex
	id       p2p.NodeID
	averages [numTransferKinds]*ewma
	events   []Event
	gate     reconnectGate
	warmUp   int
	alpha    float64
}

// New creates a Stats entry for a peer using the default alpha (0.5) and
// warm-up floor (2).
func New(id p2p.NodeID) *Stats {
	return NewWithParams(id, defaultAlpha, defaultWarmUpFloor)
}

// NewWithParams creates a Stats entry with explicit EMA parameters,
// exposed for tests exercising the warm-up/alpha edge cases.
func NewWithParams(id p2p.NodeID, alpha float64, warmUp int) *Stats {
	s := &Stats{id: id, warmUp: warmUp, alpha: alpha}
	for i := range s.averages {
		s.averages[i] = newEWMA(alpha, warmUp)
	}
	return s
}

// AddEvent appends a bare lifecycle event (Connecting, ConnectionFailed,
// ConnectionFailedTargetUnreachable) to the ring and re-arms the
// reconnect gate if the event carries a delay.
func (s *Stats) AddEvent(kind EventType) {
	s.record(Event{At: time.Now(), Kind: kind})
}

// AddDisconnect appends a Disconnect(side, reason) event.
func (s *Stats) AddDisconnect(side DisconnectSide, reason p2p.DiscReason) {
	s.record(Event{At: time.Now(), IsDisconnect: true, Side: side, Reason: reason})
}

func (s *Stats) record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
	if len(s.events) > eventRingSize {
		s.events = s.events[len(s.events)-eventRingSize:]
	}
	if d := delayFor(e); d > 0 {
		s.gate.arm(e.At, e, d)
	}
	log.Trace("netstats: recorded event", "node", s.id, "disconnect", e.IsDisconnect, "kind", e.Kind, "reason", e.Reason)
}

// AddTransferSpeed folds one sample into the named kind's rolling
// average. Samples of 0 are valid and still advance the warm-up counter.
func (s *Stats) AddTransferSpeed(kind TransferKind, value uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.averages[kind].add(value)
}

// AverageTransferSpeed returns the current rolling average for kind, or
// ok=false if fewer than the warm-up floor samples have been recorded.
func (s *Stats) AverageTransferSpeed(kind TransferKind) (avg uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.averages[kind].average()
}

// IsConnectionDelayed reports whether a reconnection attempt to this peer
// should be withheld right now, and if so the event that is the cause
// (for diagnostics).
func (s *Stats) IsConnectionDelayed() (bool, *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delayed, cause := s.gate.check(time.Now())
	if !delayed {
		return false, nil
	}
	c := cause
	return true, &c
}

// Events returns a copy of the current event ring, most recent last.
func (s *Stats) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
