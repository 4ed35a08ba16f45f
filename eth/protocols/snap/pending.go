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
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrCancelled completes a pending request when the session disconnects
// before a response arrives.
var ErrCancelled = errors.New("snap: request cancelled")

// pendingRequest is one outstanding snap/1 request, matched to its
// response purely by issuance order (see Pending).
type pendingRequest struct {
	kind     uint64 // the Get*Msg code issued; Complete does not compare it with the response kind
	issued   time.Time
	starting uint64 // the Budget.Current() value captured at issuance
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

// Pending is the FIFO request/response correlator snap/1 uses in place of
// eth/66's request-id Dispatcher, grounded on the same single-slot
// completion idiom as eth/protocols/eth/dispatcher.go but keyed by
// issuance order instead of an id, per spec.md §4.G ("no explicit
// request-id in snap/1 messages; FIFO per queue").
type Pending struct {
	mu    sync.Mutex
	queue *list.List // of *pendingRequest
}

// NewPending creates an empty correlator for one session.
func NewPending() *Pending {
	return &Pending{queue: list.New()}
}

// Register appends a new pending slot for a request of the given kind,
// issued with budget starting. It must be called before the request
// frame is written, so a fast response can never race ahead of the
// bookkeeping.
func (p *Pending) Register(kind uint64, starting uint64) *pendingRequest {
	req := &pendingRequest{kind: kind, issued: time.Now(), starting: starting, done: make(chan struct{})}
	p.mu.Lock()
	p.queue.PushBack(req)
	p.mu.Unlock()
	return req
}

// Complete resolves the oldest pending request with result. It reports
// ErrUnsolicited if no request is outstanding.
func (p *Pending) Complete(result any) error {
	p.mu.Lock()
	front := p.queue.Front()
	if front == nil {
		p.mu.Unlock()
		return ErrUnsolicited
	}
	p.queue.Remove(front)
	p.mu.Unlock()

	front.Value.(*pendingRequest).complete(result, nil)
	return nil
}

// Cancel resolves a single outstanding request with ErrCancelled, used
// when that request's frame failed to send. Requests issued after it
// remain queued and keep matching responses in issuance order.
func (p *Pending) Cancel(req *pendingRequest) {
	p.mu.Lock()
	for e := p.queue.Front(); e != nil; e = e.Next() {
		if e.Value.(*pendingRequest) == req {
			p.queue.Remove(e)
			break
		}
	}
	p.mu.Unlock()
	req.complete(nil, ErrCancelled)
}

// CancelAll resolves every outstanding request with ErrCancelled, used on
// session disposal.
func (p *Pending) CancelAll() {
	p.mu.Lock()
	pending := p.queue
	p.queue = list.New()
	p.mu.Unlock()

	for e := pending.Front(); e != nil; e = e.Next() {
		e.Value.(*pendingRequest).complete(nil, ErrCancelled)
	}
}
