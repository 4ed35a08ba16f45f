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
	"bytes"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/gethsync/corenet/p2p"
)

// Peer is the snap/1 handler bound to one session: it owns the adaptive
// byte budget and the FIFO request correlator.
type Peer struct {
	session *p2p.Session
	version uint

	budget  *Budget
	pending *Pending
}

// NewPeer constructs the per-session snap handler state.
func NewPeer(session *p2p.Session, version uint) *Peer {
	return &Peer{session: session, version: version, budget: NewBudget(), pending: NewPending()}
}

func (p *Peer) send(code uint64, data interface{}) error {
	payload, err := rlp.EncodeToBytes(data)
	if err != nil {
		return err
	}
	return p.session.WriteFrame(p2p.Frame{Code: code, Size: uint32(len(payload)), Payload: bytes.NewReader(payload)})
}

// request issues one of the four request kinds, registers its pending
// slot under the current budget, and returns the handle to await on.
func (p *Peer) request(code uint64, data interface{}) (*pendingRequest, error) {
	starting := p.budget.Current()
	req := p.pending.Register(code, starting)
	if err := p.send(code, data); err != nil {
		p.pending.Cancel(req)
		return nil, err
	}
	return req, nil
}

// Await blocks until req resolves or timeout elapses, reporting the
// outcome to the byte budget exactly once either way.
func Await[T any](p *Peer, req *pendingRequest, timeout time.Duration) (T, error) {
	var zero T
	select {
	case <-req.done:
		p.budget.Report(req.starting, time.Since(req.issued), req.err != nil)
		if req.err != nil {
			return zero, req.err
		}
		v, _ := req.result.(T)
		return v, nil
	case <-time.After(timeout):
		p.budget.Report(req.starting, time.Since(req.issued), true)
		return zero, ErrCancelled
	}
}
