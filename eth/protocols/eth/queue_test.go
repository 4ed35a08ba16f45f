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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueProcessesEnqueuedWork(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, q.Enqueue(func() error {
		processed.Add(1)
		wg.Done()
		return nil
	}))

	wg.Wait()
	require.EqualValues(t, 1, processed.Load())
}

func TestQueueRejectsWhenSaturated(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	block := make(chan struct{})
	// Occupy both workers indefinitely so the channel backs up.
	for i := 0; i < workerCount; i++ {
		require.NoError(t, q.Enqueue(func() error {
			<-block
			return nil
		}))
	}

	var rejected bool
	for i := 0; i < defaultQueueDepth+1; i++ {
		if err := q.Enqueue(func() error { return nil }); err != nil {
			require.ErrorIs(t, err, ErrQueueFull)
			rejected = true
			break
		}
	}
	require.True(t, rejected)
	require.Greater(t, q.Dropped(), uint64(0))

	close(block)
}

func TestQueueCapacityIsThirtyTwo(t *testing.T) {
	require.EqualValues(t, 32, defaultQueueDepth)
}

func TestQueueThirtyThirdEnqueueRejected(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{}, workerCount)
	for i := 0; i < workerCount; i++ {
		require.NoError(t, q.Enqueue(func() error { started <- struct{}{}; <-block; return nil }))
	}
	// Wait until every worker has taken its blocking task, so the channel
	// buffer is empty before it is filled.
	for i := 0; i < workerCount; i++ {
		<-started
	}
	for i := 0; i < defaultQueueDepth; i++ {
		require.NoError(t, q.Enqueue(func() error { return nil }))
	}
	// With both workers busy and all defaultQueueDepth slots taken, the
	// 33rd buffered enqueue must be rejected for backpressure.
	require.ErrorIs(t, q.Enqueue(func() error { return nil }), ErrQueueFull)

	close(block)
}

func TestQueueCloseStopsWorkers(t *testing.T) {
	q := NewQueue()
	q.Close()

	err := q.Wait()
	require.NoError(t, err)

	// Enqueue after Close still accepts onto the closed channel send would
	// panic; Close's contract is "no more work after this", verified by
	// the worker loop having already exited via ctx.Done().
	select {
	case <-q.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("queue context was not cancelled by Close")
	}
}
