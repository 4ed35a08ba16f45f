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

// Package eth implements component F of the peer-networking subsystem:
// the eth/62..66 sub-protocol family, its eth/66 request-id correlation
// layer, backpressure-bounded dispatch, and gossip policy. Message code
// tables and wire structs are adapted from the teacher's
// eth/protocols/eth/handler.go inline types, extended with the eth/66
// envelope (EIP-2481) the retrieved snapshot predates.
package eth

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/gethsync/corenet/eth/forkid"
)

// ProtocolName is the official short name of the eth protocol.
const ProtocolName = "eth"

// ProtocolVersions lists the versions of the eth protocol this package
// speaks, from oldest to newest.
var ProtocolVersions = []uint{ETH62, ETH63, ETH64, ETH65, ETH66}

const (
	ETH62 = 62
	ETH63 = 63
	ETH64 = 64
	ETH65 = 65
	ETH66 = 66
)

// protocolLengths gives the number of packet ids a version occupies in
// its session's packet-id space.
var protocolLengths = map[uint]uint64{
	ETH62: 8,
	ETH63: 17,
	ETH64: 17,
	ETH65: 17,
	ETH66: 17,
}

// Message codes, stable across every protocol version.
const (
	StatusMsg                    = 0x00
	NewBlockHashesMsg            = 0x01
	TransactionsMsg              = 0x02
	GetBlockHeadersMsg           = 0x03
	BlockHeadersMsg              = 0x04
	GetBlockBodiesMsg            = 0x05
	BlockBodiesMsg               = 0x06
	NewBlockMsg                  = 0x07
	NewPooledTransactionHashesMsg = 0x08
	GetPooledTransactionsMsg     = 0x09
	PooledTransactionsMsg        = 0x0a
	GetNodeDataMsg               = 0x0d
	NodeDataMsg                  = 0x0e
	GetReceiptsMsg               = 0x0f
	ReceiptsMsg                  = 0x10
)

const maxMessageSize = 10 * 1024 * 1024

var (
	ErrMsgTooLarge      = errors.New("eth: message too large")
	ErrDecode           = errors.New("eth: invalid message")
	ErrInvalidMsgCode   = errors.New("eth: invalid message code")
	ErrExtraStatusMsg   = errors.New("eth: uncontrolled status message")
	ErrUnexpectedTxType = errors.New("eth: unexpected transaction type")
	ErrNoStatusMsg      = errors.New("eth: first message must be status")
	ErrForkIDRejected   = errors.New("eth: fork id rejected")
)

// StatusPacket is the eth/64+ handshake payload:
// [version, network_id, total_difficulty, best_hash, genesis_hash, fork_id].
type StatusPacket struct {
	ProtocolVersion uint32
	NetworkID       uint64
	TD              *big.Int
	Head            common.Hash
	Genesis         common.Hash
	ForkID          forkid.ID
}

// Envelope66 wraps any eth/66+ request or response payload with a
// session-scoped, monotonically issued request id (EIP-2481).
type Envelope66[T any] struct {
	RequestId uint64
	Data      T
}

// GetBlockHeadersPacket is the eth/62+ header-range query. Origin is
// either a block hash or number, never both.
type GetBlockHeadersPacket struct {
	Origin  HashOrNumber
	Amount  uint64
	Skip    uint64
	Reverse bool
}

// HashOrNumber is encoded on the wire as whichever of Hash/Number is set;
// callers set exactly one before use.
type HashOrNumber struct {
	Hash   common.Hash
	Number uint64
}

// EncodeRLP writes the number if Hash is unset, else the hash, matching
// the wire's single-value origin encoding.
func (hn *HashOrNumber) EncodeRLP(w io.Writer) error {
	if hn.Hash == (common.Hash{}) {
		return rlp.Encode(w, hn.Number)
	}
	if hn.Number != 0 {
		return fmt.Errorf("eth: origin has both hash %x and number %d set", hn.Hash, hn.Number)
	}
	return rlp.Encode(w, hn.Hash)
}

// DecodeRLP restores whichever of Hash/Number the wire value represents,
// distinguishing them by the encoded size (a hash is exactly 32 bytes).
func (hn *HashOrNumber) DecodeRLP(s *rlp.Stream) error {
	_, size, err := s.Kind()
	if err != nil {
		return err
	}
	origin, err := s.Raw()
	if err != nil {
		return err
	}
	if size == 32 {
		return rlp.DecodeBytes(origin, &hn.Hash)
	}
	return rlp.DecodeBytes(origin, &hn.Number)
}

type BlockHeadersPacket []*types.Header

// GetBlockBodiesPacket requests block bodies by hash.
type GetBlockBodiesPacket []common.Hash

// BlockBody is [transactions, uncles], mirroring types.Body's wire shape.
type BlockBody struct {
	Transactions []*types.Transaction
	Uncles       []*types.Header
}

type BlockBodiesPacket []*BlockBody

// GetNodeDataPacket requests raw state trie nodes / contract code by
// hash. Present through eth/66 for backward compatibility; snap/1
// (component G) is the preferred mechanism for state sync.
type GetNodeDataPacket []common.Hash
type NodeDataPacket [][]byte

type GetReceiptsPacket []common.Hash
type ReceiptsPacket [][]*types.Receipt

// NewBlockHashesPacket announces newly seen blocks by (hash, number).
type NewBlockHashesPacket []struct {
	Hash   common.Hash
	Number uint64
}

// NewBlockPacket propagates a full block along with its total difficulty.
type NewBlockPacket struct {
	Block *types.Block
	TD    *big.Int
}

type TransactionsPacket []*types.Transaction
type NewPooledTransactionHashesPacket []common.Hash
type GetPooledTransactionsPacket []common.Hash
type PooledTransactionsPacket []*types.Transaction
