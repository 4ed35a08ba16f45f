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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPendingMatchesInIssuanceOrder(t *testing.T) {
	p := NewPending()
	first := p.Register(GetAccountRangeMsg, minBytesLimit)
	second := p.Register(GetAccountRangeMsg, minBytesLimit)

	require.NoError(t, p.Complete("reply-1"))
	require.NoError(t, p.Complete("reply-2"))

	<-first.done
	<-second.done
	require.Equal(t, "reply-1", first.result)
	require.Equal(t, "reply-2", second.result)
}

func TestPendingCompleteWithNoRequestIsUnsolicited(t *testing.T) {
	p := NewPending()
	require.ErrorIs(t, p.Complete("reply"), ErrUnsolicited)
}

func TestPendingCancelAllResolvesEveryOutstandingRequest(t *testing.T) {
	p := NewPending()
	a := p.Register(GetByteCodesMsg, minBytesLimit)
	b := p.Register(GetTrieNodesMsg, minBytesLimit)

	p.CancelAll()

	<-a.done
	<-b.done
	require.ErrorIs(t, a.err, ErrCancelled)
	require.ErrorIs(t, b.err, ErrCancelled)

	// A response arriving after cancellation finds nothing pending.
	require.ErrorIs(t, p.Complete("late"), ErrUnsolicited)
}

func TestPendingCancelRemovesOnlyThatRequest(t *testing.T) {
	p := NewPending()
	a := p.Register(GetByteCodesMsg, minBytesLimit)
	b := p.Register(GetTrieNodesMsg, minBytesLimit)

	p.Cancel(a)
	<-a.done
	require.ErrorIs(t, a.err, ErrCancelled)

	// b is untouched and still resolves normally, in FIFO order.
	require.NoError(t, p.Complete("reply-b"))
	<-b.done
	require.Equal(t, "reply-b", b.result)
}
