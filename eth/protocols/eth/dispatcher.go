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

package eth

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrCancelled completes a pending request when Cancel or CancelAll
	// is invoked; a response arriving after cancellation is discarded.
	ErrCancelled = errors.New("eth: request cancelled")
	// ErrUnknownRequestID is returned (and logged, never matched) when a
	// response's request id has no pending counterpart.
	ErrUnknownRequestID = errors.New("eth: response for unknown or already-completed request id")
)

// pendingRequest is one outstanding eth/66 request: a single-shot
// completion slot plus the issuance time used for transfer-speed
// accounting once it resolves.
type pendingRequest struct {
	issuedAt time.Time
	done     chan struct{}
	once     sync.Once
	result   any
	err      error
}

func (p *pendingRequest) complete(result any, err error) {
	p.once.Do(func() {
		p.result, p.err = result, err
		close(p.done)
	})
}

// Dispatcher is the per-session eth/66 request/response correlator,
// grounded on the teacher's les/distributor.go pending-request-table
// idiom: a map of in-flight requests, each completed exactly once, by
// id. eth/65 and earlier have no request ids and never use a Dispatcher.
type Dispatcher struct {
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingRequest
}

// NewDispatcher creates an empty correlator for one session.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{pending: make(map[uint64]*pendingRequest)}
}

// NewRequestID returns the next monotonic, non-zero request id for this
// session.
func (d *Dispatcher) NewRequestID() uint64 {
	return d.nextID.Add(1)
}

// Register records a pending request before the packet carrying id is
// written, so a response arriving immediately after can never race
// ahead of the bookkeeping.
func (d *Dispatcher) Register(id uint64) *pendingRequest {
	p := &pendingRequest{issuedAt: time.Now(), done: make(chan struct{})}
	d.mu.Lock()
	d.pending[id] = p
	d.mu.Unlock()
	return p
}

// Complete matches an inbound response to its pending request, resolves
// it with result, and reports how long it was outstanding so the caller
// can fold the round trip into a transfer-speed sample. It reports
// ErrUnknownRequestID if id has no (or no longer has a) pending entry;
// such responses must be dropped by the caller, never matched to a
// different request.
func (d *Dispatcher) Complete(id uint64, result any) (time.Duration, error) {
	d.mu.Lock()
	p, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()
	if !ok {
		return 0, ErrUnknownRequestID
	}
	p.complete(result, nil)
	return time.Since(p.issuedAt), nil
}

// Cancel immediately completes a pending request with ErrCancelled.
// A response that later arrives for the same id finds no pending entry
// and is discarded by Complete.
func (d *Dispatcher) Cancel(id uint64) {
	d.mu.Lock()
	p, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()
	if ok {
		p.complete(nil, ErrCancelled)
	}
}

// CancelAll resolves every outstanding request with ErrCancelled, used
// when the owning session disposes (component D's bulk cancellation on
// disconnect).
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[uint64]*pendingRequest)
	d.mu.Unlock()
	for _, p := range pending {
		p.complete(nil, ErrCancelled)
	}
}

// Await blocks until id resolves or ctx-equivalent timeout elapses,
// returning the typed result or the resolution error. A timeout cancels
// the request itself so a tardy response is dropped, not leaked.
func Await[T any](d *Dispatcher, id uint64, p *pendingRequest, timeout time.Duration) (T, error) {
	var zero T
	select {
	case <-p.done:
		if p.err != nil {
			return zero, p.err
		}
		v, ok := p.result.(T)
		if !ok {
			return zero, errors.New("eth: response type mismatch for request")
		}
		return v, nil
	case <-time.After(timeout):
		d.Cancel(id)
		return zero, errTimeout
	}
}

var errTimeout = errors.New("eth: request timed out")
