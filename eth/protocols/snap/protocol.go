// Copyright 2020 The go-ethereum Authors
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

// Package snap implements component G: the snap/1 state-synchronization
// sub-protocol, serving and consuming flat account/storage ranges with
// merkle proofs instead of raw trie traversal. Unlike eth/66, snap/1
// carries no request id on the wire; requests and responses are matched
// in strict issuance order (see pending.go).
package snap

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

const (
	ProtocolVersion1 = 1
)

// ProtocolName is the official short name of the snap protocol used
// during devp2p capability negotiation.
const ProtocolName = "snap"

// ProtocolVersions are the supported versions of the snap protocol.
var ProtocolVersions = []uint{ProtocolVersion1}

// protocolLengths is the number of packet ids occupied per version.
var protocolLengths = map[uint]uint64{ProtocolVersion1: 8}

const maxMessageSize = 10 * 1024 * 1024

const (
	GetAccountRangeMsg  = 0x00
	AccountRangeMsg     = 0x01
	GetStorageRangesMsg = 0x02
	StorageRangesMsg    = 0x03
	GetByteCodesMsg     = 0x04
	ByteCodesMsg        = 0x05
	GetTrieNodesMsg     = 0x06
	TrieNodesMsg        = 0x07
)

var (
	ErrMsgTooLarge    = errors.New("snap: message too large")
	ErrDecode         = errors.New("snap: invalid message")
	ErrInvalidMsgCode = errors.New("snap: invalid message code")
	ErrUnsolicited    = errors.New("snap: response with no matching pending request")
)

// GetAccountRangePacket requests a range of consecutive accounts from the
// state trie rooted at Root, starting at Origin and bounded by Limit and
// a soft Bytes budget. There is no ID field: the response is matched to
// this request by FIFO order within the session (spec.md §4.G).
type GetAccountRangePacket struct {
	Root   common.Hash
	Origin common.Hash
	Limit  common.Hash
	Bytes  uint64
}

type AccountRangePacket struct {
	Accounts []*AccountData
	Proof    [][]byte
}

type AccountData struct {
	Hash common.Hash
	Body []byte // slim-format RLP account body
}

// GetStorageRangesPacket requests storage slots for one or more accounts
// sharing Root; Origin/Limit bound a single large-contract range.
type GetStorageRangesPacket struct {
	Root     common.Hash
	Accounts []common.Hash
	Origin   []byte
	Limit    []byte
	Bytes    uint64
}

type StorageRangesPacket struct {
	Slots [][]*StorageData
	Proof [][]byte
}

type StorageData struct {
	Hash common.Hash
	Body []byte
}

type GetByteCodesPacket struct {
	Hashes []common.Hash
	Bytes  uint64
}

type ByteCodesPacket struct {
	Codes [][]byte
}

// TrieNodePathSet addresses a single trie node: the first element is the
// path in the account trie, the remaining (if any) in a storage trie
// rooted at that account.
type TrieNodePathSet [][]byte

type GetTrieNodesPacket struct {
	Root  common.Hash
	Paths []TrieNodePathSet
	Bytes uint64
}

type TrieNodesPacket struct {
	Nodes [][]byte
}
