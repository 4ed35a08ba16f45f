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

// Package forkid implements component B of the peer-networking
// subsystem: the compact fork-identity exchanged in eth's Status message
// (EIP-2124), letting two peers agree whether they are running compatible
// chain configurations without exchanging their full fork schedule.
package forkid

import (
	"encoding/binary"
	"hash/crc32"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// ID is the wire-encoded fork identity: a short hash summarizing every
// fork activated so far, plus the activation of the next known fork (0 if
// none is scheduled).
type ID struct {
	Hash [4]byte
	Next uint64
}

// entry is one row of a precomputed fork table: the ID a node at or past
// this activation should advertise, and the activation itself.
type entry struct {
	id         ID
	activation uint64 // 0 for the genesis row
}

// Filter validates remote fork identities against a local chain's fork
// schedule, built once from genesis and the sorted list of fork
// activations (block-number forks then timestamp forks, per EIP-2124).
type Filter struct {
	genesis common.Hash
	table   []entry
}

// NewFilter constructs a Filter from a genesis hash and every fork
// activation (block number or timestamp) in ascending order. Callers
// must pre-sort block-number activations before timestamp activations,
// matching the canonical ordering.
func NewFilter(genesis common.Hash, activations []uint64) *Filter {
	f := &Filter{genesis: genesis}

	hash := crc32.ChecksumIEEE(genesis[:])
	f.table = append(f.table, entry{id: ID{Hash: toBytes4(hash), Next: nextOf(activations, 0)}, activation: 0})

	for i, act := range activations {
		hash = checksumUpdate(hash, act)
		f.table = append(f.table, entry{id: ID{Hash: toBytes4(hash), Next: nextOf(activations, i+1)}, activation: act})
	}
	return f
}

func nextOf(activations []uint64, i int) uint64 {
	if i >= len(activations) {
		return 0
	}
	return activations[i]
}

func checksumUpdate(hash uint32, activation uint64) uint32 {
	var blob [8]byte
	binary.BigEndian.PutUint64(blob[:], activation)
	return crc32.Update(hash, crc32.IEEETable, blob[:])
}

func toBytes4(v uint32) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b
}

// IDAt returns the fork identity a node positioned at the given head
// (block number and timestamp) should advertise: the entry of the last
// activation that is not strictly greater than the head, found by
// locating the first activation strictly greater than the head and
// stepping back one.
func (f *Filter) IDAt(headNumber, headTimestamp uint64) ID {
	head := effectiveHead(headNumber, headTimestamp)
	idx := sort.Search(len(f.table), func(i int) bool {
		return f.table[i].activation > head
	})
	if idx == 0 {
		return f.table[0].id
	}
	return f.table[idx-1].id
}

// effectiveHead collapses (block number, timestamp) into a single
// comparable cursor: entries carry raw activation values (either a block
// number or a timestamp), and construction already interleaves them in
// ascending order, so comparisons against either axis use the head
// timestamp once any table entry exceeds realistic block-number range.
// For chains whose fork table is block-number-only this reduces to plain
// number comparison.
func effectiveHead(headNumber, headTimestamp uint64) uint64 {
	if headTimestamp == 0 {
		return headNumber
	}
	return headTimestamp
}

// Validity is the outcome of validating a remote ID against this filter.
type Validity int

const (
	Valid Validity = iota
	RemoteStale
	IncompatibleOrStale
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "Valid"
	case RemoteStale:
		return "RemoteStale"
	case IncompatibleOrStale:
		return "IncompatibleOrStale"
	default:
		return "Unknown"
	}
}

// Validate checks a remote fork ID against the local head, implementing
// the four-way EIP-2124 comparison. A zero localHeadKnown short-circuits
// to Valid, matching the bootstrapping rule ("head unknown returns Valid
// unconditionally").
func (f *Filter) Validate(remote ID, headNumber, headTimestamp uint64, localHeadKnown bool) Validity {
	if !localHeadKnown {
		return Valid
	}
	local := f.IDAt(headNumber, headTimestamp)
	head := effectiveHead(headNumber, headTimestamp)

	if remote.Hash == local.Hash {
		if remote.Next > 0 && head >= remote.Next {
			return IncompatibleOrStale
		}
		return Valid
	}

	for i, e := range f.table {
		if e.id.Hash != remote.Hash {
			continue
		}
		if e.activation > head {
			// A future fork-hash of ours: the remote is ahead of us and
			// we are the laggard, which is always compatible.
			return Valid
		}
		// A past fork-hash of ours: accept only if the remote's Next
		// matches the activation of whatever fork we took after it.
		if i+1 < len(f.table) && remote.Next == f.table[i+1].activation {
			return Valid
		}
		if i+1 >= len(f.table) && remote.Next == 0 {
			return Valid
		}
		return RemoteStale
	}
	return IncompatibleOrStale
}

// EncodeBytes renders an ID in the wire form used by the eth Status
// message: a 2-element RLP list [fork_hash, fork_next]. ID's exported
// fields already RLP-encode this way by reflection; this wrapper exists
// so callers don't need to import rlp just to serialize a Status field.
func (id ID) EncodeBytes() ([]byte, error) {
	return rlp.EncodeToBytes(&id)
}

// DecodeBytes restores an ID from its wire form.
func DecodeBytes(data []byte) (ID, error) {
	var id ID
	err := rlp.DecodeBytes(data, &id)
	return id, err
}
