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

package noncepool

import (
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedState struct{ nonce uint64 }

func (f fixedState) NonceAt(common.Address) (uint64, error) { return f.nonce, nil }

var addrA = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestReserveCommitAdvances(t *testing.T) {
	p := New(fixedState{nonce: 5})

	r, err := p.Reserve(addrA)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), r.Nonce())
	r.Commit()

	cur, err := p.Current(addrA)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), cur)
}

func TestReserveRollbackDoesNotAdvance(t *testing.T) {
	p := New(fixedState{nonce: 5})

	r, err := p.Reserve(addrA)
	require.NoError(t, err)
	r.Rollback()

	r2, err := p.Reserve(addrA)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), r2.Nonce(), "rolled-back nonce must be reissued")
	r2.Rollback()
}

func TestCommitThenDeferredRollbackIsNoop(t *testing.T) {
	p := New(fixedState{nonce: 5})

	r, err := p.Reserve(addrA)
	require.NoError(t, err)
	r.Commit()
	assert.NotPanics(t, r.Rollback)
}

func TestDoubleCommitPanics(t *testing.T) {
	p := New(fixedState{nonce: 5})

	r, err := p.Reserve(addrA)
	require.NoError(t, err)
	r.Commit()
	assert.Panics(t, r.Commit)
}

// TestConcurrentReservationsSerialize exercises the nonce-race scenario:
// two concurrent Reserve calls for the same address, the second blocking
// until the first commits, then reserving n+1.
func TestConcurrentReservationsSerialize(t *testing.T) {
	p := New(fixedState{nonce: 0})

	first, err := p.Reserve(addrA)
	require.NoError(t, err)

	var second *Reservation
	done := make(chan struct{})
	go func() {
		var err error
		second, err = p.Reserve(addrA)
		require.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second reservation must block while first is outstanding")
	case <-time.After(20 * time.Millisecond):
	}

	first.Commit()
	<-done
	assert.Equal(t, uint64(1), second.Nonce())
	second.Commit()
}

func TestObserveNonceSkipsContiguousPrefix(t *testing.T) {
	p := New(fixedState{nonce: 0})

	require.NoError(t, p.ObserveNonce(addrA, 0))
	require.NoError(t, p.ObserveNonce(addrA, 1))

	cur, err := p.Current(addrA)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cur)
}

func TestObserveNonceBlocksOnOutstandingReservation(t *testing.T) {
	p := New(fixedState{nonce: 0})

	r, err := p.Reserve(addrA)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, p.ObserveNonce(addrA, 0))
	}()

	time.Sleep(10 * time.Millisecond)
	r.Commit()
	wg.Wait()
}
