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

// Package noncepool implements component C of the peer-networking
// subsystem: per-sender serialized nonce allocation with commit/rollback,
// adapted from core/tx_noncer.go's virtual-state-with-fallback idiom.
// Where tx_noncer exposed a flat get/set/setIfLower/setAll API, Pool
// exposes a scoped Reservation so that only one allocation can be
// outstanding per sender at a time, resolving the "mutex held across
// caller code" deadlock risk by tying the lock's lifetime to a handle the
// caller must explicitly release.
package noncepool

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// StateReader supplies the real, on-chain nonce for an address the first
// time it's touched, mirroring tx_noncer's fallback *state.StateDB.
type StateReader interface {
	NonceAt(addr common.Address) (uint64, error)
}

// accountNonces is the per-sender bookkeeping: the mutex also doubles as
// the reservation lock, so whoever holds an outstanding Reservation for
// this address holds mu locked for the reservation's lifetime.
type accountNonces struct {
	mu      sync.Mutex
	loaded  bool
	current uint64
	used    map[uint64]struct{}
}

// Pool tracks per-sender nonce reservations, falling back to a real state
// reader the first time an address is touched.
type Pool struct {
	fallback StateReader

	mu       sync.Mutex
	accounts map[common.Address]*accountNonces
}

// New creates an empty Pool backed by fallback for unseen addresses.
func New(fallback StateReader) *Pool {
	return &Pool{
		fallback: fallback,
		accounts: make(map[common.Address]*accountNonces),
	}
}

func (p *Pool) account(addr common.Address) *accountNonces {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[addr]
	if !ok {
		a = &accountNonces{used: make(map[uint64]struct{})}
		p.accounts[addr] = a
	}
	return a
}

// load populates current from the fallback reader on first touch. Caller
// must hold a.mu.
func (p *Pool) load(addr common.Address, a *accountNonces) error {
	if a.loaded {
		return nil
	}
	n, err := p.fallback.NonceAt(addr)
	if err != nil {
		return err
	}
	a.current = n
	a.loaded = true
	return nil
}

// advance skips current past any contiguous run of already-used nonces,
// the "commit advances current_nonce past any contiguous used nonces"
// contract. Caller must hold a.mu.
func advance(a *accountNonces) {
	for {
		if _, ok := a.used[a.current]; !ok {
			return
		}
		delete(a.used, a.current)
		a.current++
	}
}

// Reservation is a scoped, single-use handle on one allocated nonce for
// one sender. Exactly one of Commit or Rollback must be called; calling
// neither leaves the address permanently locked, so callers should pair
// Reserve with a deferred Rollback (a subsequent Commit then makes that
// deferred Rollback a no-op, the same pattern as database/sql.Tx).
type Reservation struct {
	addr  common.Address
	acct  *accountNonces
	nonce uint64

	once sync.Once
}

// Reserve blocks until any outstanding reservation for addr is released,
// then allocates the sender's current nonce. The real on-chain nonce is
// read via the pool's fallback the first time addr is seen.
func (p *Pool) Reserve(addr common.Address) (*Reservation, error) {
	acct := p.account(addr)
	acct.mu.Lock()
	if err := p.load(addr, acct); err != nil {
		acct.mu.Unlock()
		return nil, fmt.Errorf("noncepool: loading nonce for %s: %w", addr, err)
	}
	return &Reservation{addr: addr, acct: acct, nonce: acct.current}, nil
}

// Nonce returns the nonce this reservation allocated.
func (r *Reservation) Nonce() uint64 { return r.nonce }

// Commit promotes the allocated nonce into the used set, advances
// current past any contiguous used prefix, and releases the address for
// the next reservation. Calling Commit more than once is a programming
// error and panics.
func (r *Reservation) Commit() {
	released := false
	r.once.Do(func() {
		r.acct.used[r.nonce] = struct{}{}
		advance(r.acct)
		r.acct.mu.Unlock()
		released = true
	})
	if !released {
		panic("noncepool: reservation already released (double commit/rollback)")
	}
}

// Rollback releases the address for the next reservation without
// advancing current, letting the allocated nonce be reissued. Safe to
// call after a handle has already been dropped by a caller that forgot
// to release it explicitly, as long as it is the first release call.
func (r *Reservation) Rollback() {
	r.once.Do(func() {
		r.acct.mu.Unlock()
	})
}

// ObserveNonce records a nonce learned out-of-band (e.g. a transaction
// seen from the network with an explicit nonce) as used for addr,
// without going through Reserve/Commit. It blocks until any outstanding
// reservation for addr is released, matching tx_with_nonce_received's
// "acquires the lock" contract.
func (p *Pool) ObserveNonce(addr common.Address, nonce uint64) error {
	acct := p.account(addr)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if err := p.load(addr, acct); err != nil {
		return fmt.Errorf("noncepool: loading nonce for %s: %w", addr, err)
	}
	acct.used[nonce] = struct{}{}
	advance(acct)
	return nil
}

// Current returns the sender's next allocatable nonce without reserving
// it, for read-only inspection (e.g. RPC eth_getTransactionCount).
func (p *Pool) Current(addr common.Address) (uint64, error) {
	acct := p.account(addr)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if err := p.load(addr, acct); err != nil {
		return 0, fmt.Errorf("noncepool: loading nonce for %s: %w", addr, err)
	}
	return acct.current, nil
}
