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
	"bytes"
	"errors"
	"math/big"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gethsync/corenet/p2p"
)

// ErrNoDispatcher is returned by the request helpers when the peer
// negotiated a protocol version older than eth/66, which carries no
// request id to correlate against.
var ErrNoDispatcher = errors.New("eth: peer predates eth/66 request correlation")

const (
	maxKnownTxs    = 32768
	maxKnownBlocks = 1024
)

// Peer is the eth/N handler bound to one session: it tracks recency of
// what the remote has already seen (adapted from the teacher's real
// eth/peer.go knownTxs/knownBlocks caches) and owns the eth/66+
// correlator when applicable.
type Peer struct {
	session *p2p.Session
	version uint

	mu   sync.RWMutex
	td   *big.Int
	head common.Hash

	knownTxs    *lru.Cache[common.Hash, struct{}]
	knownBlocks *lru.Cache[common.Hash, struct{}]

	dispatcher *Dispatcher // nil for eth/65 and earlier

	queue *Queue
}

// NewPeer constructs the per-session eth handler state. version must be
// one of the negotiated ProtocolVersions.
func NewPeer(session *p2p.Session, version uint) *Peer {
	knownTxs, _ := lru.New[common.Hash, struct{}](maxKnownTxs)
	knownBlocks, _ := lru.New[common.Hash, struct{}](maxKnownBlocks)
	p := &Peer{
		session:     session,
		version:     version,
		knownTxs:    knownTxs,
		knownBlocks: knownBlocks,
		queue:       NewQueue(),
	}
	if version >= ETH66 {
		p.dispatcher = NewDispatcher()
	}
	return p
}

// Version returns the negotiated eth protocol version.
func (p *Peer) Version() uint { return p.version }

// MarkTransaction records that the remote is now known to have tx,
// without re-broadcasting it back.
func (p *Peer) MarkTransaction(hash common.Hash) {
	p.knownTxs.Add(hash, struct{}{})
}

// KnowsTransaction reports whether the remote is believed to already
// have tx.
func (p *Peer) KnowsTransaction(hash common.Hash) bool {
	return p.knownTxs.Contains(hash)
}

// MarkBlock records that the remote is now known to have a block.
func (p *Peer) MarkBlock(hash common.Hash) {
	p.knownBlocks.Add(hash, struct{}{})
}

// KnowsBlock reports whether the remote is believed to already have a
// block.
func (p *Peer) KnowsBlock(hash common.Hash) bool {
	return p.knownBlocks.Contains(hash)
}

// SetHead updates the peer's believed chain head and total difficulty,
// recorded from Status and subsequent NewBlock announcements.
func (p *Peer) SetHead(hash common.Hash, td *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.head, p.td = hash, td
}

// Head returns the peer's last known chain head and total difficulty.
func (p *Peer) Head() (common.Hash, *big.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.head, p.td
}

// RemoteID returns the underlying session's remote node identity, used to
// key the node-stats entry a completed request updates.
func (p *Peer) RemoteID() p2p.NodeID { return p.session.RemoteID() }

// request issues a correlated eth/66+ request: it assigns a fresh
// request id, registers the pending slot before the frame is written so
// a fast response can never race ahead of the bookkeeping, then wraps
// data in Envelope66 and sends it. Mirrors snap.Peer.request, keyed by
// request id instead of FIFO order. A free function rather than a
// method because Go methods cannot introduce their own type parameters.
func request[T any](p *Peer, code uint64, data T) (uint64, *pendingRequest, error) {
	if p.dispatcher == nil {
		return 0, nil, ErrNoDispatcher
	}
	id := p.dispatcher.NewRequestID()
	req := p.dispatcher.Register(id)
	if err := p.send(code, Envelope66[T]{RequestId: id, Data: data}); err != nil {
		p.dispatcher.Cancel(id)
		return 0, nil, err
	}
	return id, req, nil
}

// RequestHeadersByNumber issues a GetBlockHeaders query anchored at a
// block number.
func (p *Peer) RequestHeadersByNumber(number, amount, skip uint64, reverse bool) (uint64, *pendingRequest, error) {
	return request(p, GetBlockHeadersMsg, &GetBlockHeadersPacket{Origin: HashOrNumber{Number: number}, Amount: amount, Skip: skip, Reverse: reverse})
}

// RequestHeadersByHash issues a GetBlockHeaders query anchored at a hash.
func (p *Peer) RequestHeadersByHash(hash common.Hash, amount, skip uint64, reverse bool) (uint64, *pendingRequest, error) {
	return request(p, GetBlockHeadersMsg, &GetBlockHeadersPacket{Origin: HashOrNumber{Hash: hash}, Amount: amount, Skip: skip, Reverse: reverse})
}

// RequestBodies issues a GetBlockBodies query for the given hashes.
func (p *Peer) RequestBodies(hashes []common.Hash) (uint64, *pendingRequest, error) {
	return request(p, GetBlockBodiesMsg, GetBlockBodiesPacket(hashes))
}

// RequestReceipts issues a GetReceipts query for the given block hashes.
func (p *Peer) RequestReceipts(hashes []common.Hash) (uint64, *pendingRequest, error) {
	return request(p, GetReceiptsMsg, GetReceiptsPacket(hashes))
}

// RequestNodeData issues a GetNodeData query for the given trie/code
// hashes.
func (p *Peer) RequestNodeData(hashes []common.Hash) (uint64, *pendingRequest, error) {
	return request(p, GetNodeDataMsg, GetNodeDataPacket(hashes))
}

// RequestPooledTransactions issues a GetPooledTransactions query for the
// given transaction hashes. Requires eth/65+; the caller is expected to
// have already checked the negotiated version before announcing hashes.
func (p *Peer) RequestPooledTransactions(hashes []common.Hash) (uint64, *pendingRequest, error) {
	return request(p, GetPooledTransactionsMsg, GetPooledTransactionsPacket(hashes))
}

// send RLP-encodes data and writes it as a frame at the protocol-relative
// packet id code (the multiplexer's installHandler call already offset
// this session's eth handler into the absolute packet-id space; Peer
// only ever deals in protocol-relative ids, mirroring HandleMessage's
// packetID parameter).
func (p *Peer) send(code uint64, data interface{}) error {
	payload, err := rlp.EncodeToBytes(data)
	if err != nil {
		return err
	}
	if err := p.session.WriteFrame(p2p.Frame{Code: code, Size: uint32(len(payload)), Payload: bytes.NewReader(payload)}); err != nil {
		return err
	}
	markSent(code)
	return nil
}

// BroadcastSet tracks the sessions currently eligible to receive direct
// (non-announcement) transaction gossip, the `include_in_tx_pool` policy
// named in spec.md §4.F.
type BroadcastSet struct {
	mu  sync.Mutex
	ids mapset.Set[p2p.SessionId]
}

// NewBroadcastSet creates an empty set.
func NewBroadcastSet() *BroadcastSet {
	return &BroadcastSet{ids: mapset.NewSet[p2p.SessionId]()}
}

// Include adds a session as eligible for direct gossip.
func (b *BroadcastSet) Include(id p2p.SessionId) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids.Add(id)
}

// Exclude removes a session, e.g. on disconnect.
func (b *BroadcastSet) Exclude(id p2p.SessionId) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids.Remove(id)
}

// Eligible reports whether a session is currently included.
func (b *BroadcastSet) Eligible(id p2p.SessionId) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ids.Contains(id)
}
