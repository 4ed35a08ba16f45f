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

package forkid

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mainnetLikeFilter builds a small fork table shaped like mainnet's early
// history: genesis, then three block-number activations.
func mainnetLikeFilter() (*Filter, []uint64) {
	genesis := common.HexToHash("0xd4e56740f876aef8c010b86a40d5f56745a118d0906a34e69aec8c0db1cb8fa")
	activations := []uint64{1150000, 1920000, 2463000}
	return NewFilter(genesis, activations), activations
}

func TestIDAtAdvancesPerActivation(t *testing.T) {
	f, activations := mainnetLikeFilter()

	genesisID := f.IDAt(0, 0)
	assert.Equal(t, uint64(activations[0]), genesisID.Next)

	atFirstFork := f.IDAt(activations[0], 0)
	assert.Equal(t, uint64(activations[1]), atFirstFork.Next)
	assert.NotEqual(t, genesisID.Hash, atFirstFork.Hash)

	atLastFork := f.IDAt(activations[2]+1000, 0)
	assert.Equal(t, uint64(0), atLastFork.Next)
}

func TestValidateReflexive(t *testing.T) {
	f, activations := mainnetLikeFilter()

	for _, head := range []uint64{0, activations[0], activations[1], activations[2], activations[2] + 500} {
		mine := f.IDAt(head, 0)
		assert.Equal(t, Valid, f.Validate(mine, head, 0, true), "head=%d", head)
	}
}

func TestValidateLocalAheadOfRemoteButNextMatches(t *testing.T) {
	f, activations := mainnetLikeFilter()

	// Remote is still on the genesis fork-hash but correctly predicts our
	// next activation: compatible, just behind.
	remote := f.IDAt(0, 0)
	got := f.Validate(remote, activations[0], 0, true)
	assert.Equal(t, Valid, got)
}

func TestValidateRemoteStaleWrongNext(t *testing.T) {
	f, activations := mainnetLikeFilter()

	remote := f.IDAt(0, 0)
	remote.Next = activations[0] + 1 // wrong prediction for our next fork
	got := f.Validate(remote, activations[0], 0, true)
	assert.Equal(t, RemoteStale, got)
}

func TestValidateFutureForkHashIsValid(t *testing.T) {
	f, activations := mainnetLikeFilter()

	// Remote already knows about our last fork; we haven't reached it yet.
	remote := f.IDAt(activations[2], 0)
	got := f.Validate(remote, 0, 0, true)
	assert.Equal(t, Valid, got)
}

func TestValidateUnknownHashIncompatible(t *testing.T) {
	f, _ := mainnetLikeFilter()

	remote := ID{Hash: [4]byte{0xde, 0xad, 0xbe, 0xef}, Next: 0}
	got := f.Validate(remote, 0, 0, true)
	assert.Equal(t, IncompatibleOrStale, got)
}

func TestValidateIncompatibleOrStalePastOurNext(t *testing.T) {
	f, activations := mainnetLikeFilter()

	head := activations[0] + 1
	local := f.IDAt(head, 0)
	// Same fork-hash as us, but the remote's claimed "next" activation is
	// one we ourselves already crossed.
	remote := ID{Hash: local.Hash, Next: activations[0]}
	got := f.Validate(remote, head, 0, true)
	assert.Equal(t, IncompatibleOrStale, got)
}

func TestValidateBootstrapUnknownHeadIsAlwaysValid(t *testing.T) {
	f, _ := mainnetLikeFilter()
	remote := ID{Hash: [4]byte{0x11, 0x22, 0x33, 0x44}, Next: 0}
	assert.Equal(t, Valid, f.Validate(remote, 0, 0, false))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f, _ := mainnetLikeFilter()
	id := f.IDAt(0, 0)

	data, err := id.EncodeBytes()
	require.NoError(t, err)

	decoded, err := DecodeBytes(data)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}
