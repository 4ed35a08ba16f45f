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
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gethsync/corenet/p2p"
)

func TestPeerKnownTransactionTracking(t *testing.T) {
	peer := NewPeer(nil, ETH66)
	hash := common.HexToHash("0x1")

	require.False(t, peer.KnowsTransaction(hash))
	peer.MarkTransaction(hash)
	require.True(t, peer.KnowsTransaction(hash))
}

func TestPeerKnownBlockTracking(t *testing.T) {
	peer := NewPeer(nil, ETH65)
	hash := common.HexToHash("0x2")

	require.False(t, peer.KnowsBlock(hash))
	peer.MarkBlock(hash)
	require.True(t, peer.KnowsBlock(hash))
}

func TestPeerDispatcherOnlyPresentFromETH66(t *testing.T) {
	old := NewPeer(nil, ETH65)
	require.Nil(t, old.dispatcher)

	modern := NewPeer(nil, ETH66)
	require.NotNil(t, modern.dispatcher)
}

func TestPeerRequestWithoutDispatcherIsRejected(t *testing.T) {
	old := NewPeer(nil, ETH65)

	id, req, err := old.RequestHeadersByNumber(100, 1, 0, false)
	require.ErrorIs(t, err, ErrNoDispatcher)
	require.Zero(t, id)
	require.Nil(t, req)
}

func TestBroadcastSetIncludeExcludeEligible(t *testing.T) {
	set := NewBroadcastSet()
	id := p2p.SessionId(uuid.New())

	require.False(t, set.Eligible(id))
	set.Include(id)
	require.True(t, set.Eligible(id))
	set.Exclude(id)
	require.False(t, set.Eligible(id))
}
