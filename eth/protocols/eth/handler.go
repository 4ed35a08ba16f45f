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
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/gethsync/corenet/eth/forkid"
	"github.com/gethsync/corenet/p2p"
	"github.com/gethsync/corenet/p2p/netstats"
)

// BlockTree is the minimal chain-reading surface the eth handler needs
// to serve remote requests and to compute its own Status (spec.md §6's
// BlockTree collaborator).
type BlockTree interface {
	HeadHeader() *types.Header
	GetHeaderByHash(hash common.Hash) *types.Header
	GetHeaderByNumber(number uint64) *types.Header
	GetHeader(hash common.Hash, number uint64) *types.Header
	GetBodyRLP(hash common.Hash) []byte
	GetReceipts(hash common.Hash) []*types.Receipt
	Genesis() *types.Header
	TotalDifficulty(hash common.Hash) *big.Int
}

// TxPool is the subset of transaction-pool behavior the handler needs to
// serve and accept transactions.
type TxPool interface {
	Get(hash common.Hash) *types.Transaction
	Add(txs []*types.Transaction) []error
}

// Backend wires the eth handler to the rest of the node: chain access,
// the tx pool, fork-id validation, and callbacks for every inbound
// message kind that isn't fully served inline.
type Backend interface {
	Chain() BlockTree
	TxPool() TxPool
	NetworkID() uint64
	ForkFilter() *forkid.Filter
	AcceptTxs() bool
	Stats(id p2p.NodeID) *netstats.Stats
	Broadcast() *BroadcastSet

	OnHeaders(peer *Peer, headers []*types.Header) error
	OnBodies(peer *Peer, bodies []*BlockBody) error
	OnReceipts(peer *Peer, receipts []*types.Receipt) error
	OnNodeData(peer *Peer, data [][]byte) error
	OnBlockAnnounces(peer *Peer, hashes []common.Hash, numbers []uint64) error
	OnBlockBroadcast(peer *Peer, block *types.Block, td *big.Int) error
	OnTxAnnounces(peer *Peer, hashes []common.Hash) error
	OnTxBroadcasts(peer *Peer, txs []*types.Transaction) error
}

const (
	softResponseLimit = 2 * 1024 * 1024
	maxHeadersServe   = 1024
	maxBodiesServe    = 1024
	maxReceiptsServe  = 1024
	estHeaderSize     = 500
)

// Handler implements p2p.ProtocolHandler for one negotiated eth/N
// session. It owns the Peer bookkeeping and drives the heavy message
// kinds through the session's backpressure Queue, adapting the teacher's
// "read message, switch on code, discard" shape from
// eth/protocols/eth/handler.go into a routed-rather-than-inline design:
// HandleMessage dispatches by relative packet id instead of pulling
// frames off a blocking MsgReadWriter itself.
type Handler struct {
	backend Backend
	peer    *Peer

	statusOnce sync.Once
	statusErr  error
	ready      chan struct{}
}

// NewHandlerFactory returns a p2p.HandlerFactory that builds an eth
// Handler for the negotiated version, suitable for
// Multiplexer.RegisterProtocol(eth.ProtocolName, ..., factory). The
// handler sends its own Status immediately and requires the remote's
// Status to be the very first frame it receives through HandleMessage,
// matching the "status messages never arrive after the handshake"
// invariant without needing a blocking read of its own.
func NewHandlerFactory(backend Backend) p2p.HandlerFactory {
	return func(session *p2p.Session, version uint) (p2p.ProtocolHandler, uint64, error) {
		peer := NewPeer(session, version)
		h := &Handler{backend: backend, peer: peer, ready: make(chan struct{})}

		chain := backend.Chain()
		var headHash common.Hash
		var headNumber, headTime uint64
		if head := chain.HeadHeader(); head != nil {
			headHash, headNumber, headTime = head.Hash(), head.Number.Uint64(), head.Time
		}
		local := StatusPacket{
			ProtocolVersion: uint32(version),
			NetworkID:       backend.NetworkID(),
			TD:              chain.TotalDifficulty(headHash),
			Head:            headHash,
			Genesis:         chain.Genesis().Hash(),
			ForkID:          backend.ForkFilter().IDAt(headNumber, headTime),
		}
		if err := peer.send(StatusMsg, &local); err != nil {
			peer.queue.Close()
			return nil, 0, err
		}
		return h, protocolLengths[version], nil
	}
}

// Close releases the peer's backpressure queue, cancelling in-flight
// eth/66 requests and stopping its drain workers.
func (h *Handler) Close() {
	if h.peer.dispatcher != nil {
		h.peer.dispatcher.CancelAll()
	}
	h.peer.queue.Close()
}

// HandleMessage implements p2p.ProtocolHandler. packetID is already
// protocol-relative (the multiplexer subtracted this session's eth
// packet-id offset before calling in).
func (h *Handler) HandleMessage(packetID uint64, payload io.Reader, size uint32) error {
	if size > maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMsgTooLarge, size, maxMessageSize)
	}
	data, err := io.ReadAll(io.LimitReader(payload, int64(size)))
	if err != nil {
		return err
	}
	markReceived(packetID)

	if packetID != StatusMsg {
		select {
		case <-h.ready:
			if h.statusErr != nil {
				return h.statusErr
			}
		default:
			return fmt.Errorf("%w", ErrNoStatusMsg)
		}
	}

	switch packetID {
	case StatusMsg:
		return h.handleStatus(data)

	case GetBlockHeadersMsg:
		return h.peer.queue.Enqueue(func() error { return h.serveGetBlockHeaders(data) })

	case BlockHeadersMsg:
		id, headers, err := decodeEnvelope[BlockHeadersPacket](h.peer.version, data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		h.completeRequest(id, headers, netstats.Headers, len(data))
		return h.backend.OnHeaders(h.peer, headers)

	case GetBlockBodiesMsg:
		return h.peer.queue.Enqueue(func() error { return h.serveGetBlockBodies(data) })

	case BlockBodiesMsg:
		id, bodies, err := decodeEnvelope[BlockBodiesPacket](h.peer.version, data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		h.completeRequest(id, bodies, netstats.Bodies, len(data))
		return h.backend.OnBodies(h.peer, bodies)

	case GetReceiptsMsg:
		return h.peer.queue.Enqueue(func() error { return h.serveGetReceipts(data) })

	case ReceiptsMsg:
		id, receipts, err := decodeEnvelope[ReceiptsPacket](h.peer.version, data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		flat := make([]*types.Receipt, 0, len(receipts))
		for _, batch := range receipts {
			flat = append(flat, batch...)
		}
		h.completeRequest(id, receipts, netstats.Receipts, len(data))
		return h.backend.OnReceipts(h.peer, flat)

	case GetNodeDataMsg:
		return h.peer.queue.Enqueue(func() error { return h.serveGetNodeData(data) })

	case NodeDataMsg:
		id, nodes, err := decodeEnvelope[NodeDataPacket](h.peer.version, data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		h.completeRequest(id, nodes, netstats.NodeData, len(data))
		return h.backend.OnNodeData(h.peer, nodes)

	case NewBlockHashesMsg:
		var announce NewBlockHashesPacket
		if err := rlp.DecodeBytes(data, &announce); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		hashes := make([]common.Hash, len(announce))
		numbers := make([]uint64, len(announce))
		for i, a := range announce {
			h.peer.MarkBlock(a.Hash)
			hashes[i], numbers[i] = a.Hash, a.Number
		}
		return h.backend.OnBlockAnnounces(h.peer, hashes, numbers)

	case NewBlockMsg:
		var packet NewBlockPacket
		if err := rlp.DecodeBytes(data, &packet); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		h.peer.MarkBlock(packet.Block.Hash())
		return h.backend.OnBlockBroadcast(h.peer, packet.Block, packet.TD)

	case NewPooledTransactionHashesMsg:
		if h.peer.version < ETH65 {
			return fmt.Errorf("%w: %d", ErrInvalidMsgCode, packetID)
		}
		if !h.backend.AcceptTxs() {
			return nil
		}
		var hashes NewPooledTransactionHashesPacket
		if err := rlp.DecodeBytes(data, &hashes); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		for _, hash := range hashes {
			h.peer.MarkTransaction(hash)
		}
		return h.backend.OnTxAnnounces(h.peer, hashes)

	case GetPooledTransactionsMsg:
		if h.peer.version < ETH65 {
			return fmt.Errorf("%w: %d", ErrInvalidMsgCode, packetID)
		}
		return h.peer.queue.Enqueue(func() error { return h.serveGetPooledTransactions(data) })

	case TransactionsMsg:
		if !h.backend.AcceptTxs() {
			return nil
		}
		var txs TransactionsPacket
		if err := rlp.DecodeBytes(data, &txs); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		for i, tx := range txs {
			if tx == nil {
				return fmt.Errorf("%w: transaction %d is nil", ErrDecode, i)
			}
			h.peer.MarkTransaction(tx.Hash())
		}
		return h.backend.OnTxBroadcasts(h.peer, txs)

	case PooledTransactionsMsg:
		if !h.backend.AcceptTxs() {
			return nil
		}
		id, txs, err := decodeEnvelope[PooledTransactionsPacket](h.peer.version, data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		// No netstats.TransferKind is defined for pooled transactions; only
		// the correlator is fed here.
		if h.peer.dispatcher != nil {
			h.peer.dispatcher.Complete(id, txs)
		}
		for i, tx := range txs {
			if tx == nil {
				return fmt.Errorf("%w: transaction %d is nil", ErrDecode, i)
			}
			h.peer.MarkTransaction(tx.Hash())
		}
		return h.backend.OnTxBroadcasts(h.peer, txs)

	default:
		return fmt.Errorf("%w: %d", ErrInvalidMsgCode, packetID)
	}
}

// handleStatus completes the handshake gate exactly once. A second Status
// arriving later is rejected with ErrExtraStatusMsg without disturbing the
// already-completed gate.
func (h *Handler) handleStatus(data []byte) error {
	select {
	case <-h.ready:
		return fmt.Errorf("%w", ErrExtraStatusMsg)
	default:
	}

	var remote StatusPacket
	err := rlp.DecodeBytes(data, &remote)
	ingress := meters.get(true)
	h.statusOnce.Do(func() {
		if err != nil {
			ingress.peerError.Mark(1)
			h.statusErr = fmt.Errorf("%w: %v", ErrDecode, err)
			close(h.ready)
			return
		}
		chain := h.backend.Chain()
		head := chain.HeadHeader()
		var headNumber, headTime uint64
		if head != nil {
			headNumber, headTime = head.Number.Uint64(), head.Time
		}
		if remote.NetworkID != h.backend.NetworkID() {
			ingress.networkIDMismatch.Mark(1)
			h.statusErr = fmt.Errorf("%w: network id mismatch (remote %d, local %d)", ErrForkIDRejected, remote.NetworkID, h.backend.NetworkID())
		} else if remote.Genesis != chain.Genesis().Hash() {
			ingress.genesisMismatch.Mark(1)
			h.statusErr = fmt.Errorf("%w: genesis mismatch", ErrForkIDRejected)
		} else if validity := h.backend.ForkFilter().Validate(remote.ForkID, headNumber, headTime, head != nil); validity != forkid.Valid {
			ingress.forkidRejected.Mark(1)
			h.statusErr = fmt.Errorf("%w: %s", ErrForkIDRejected, validity)
		} else {
			h.peer.SetHead(remote.Head, remote.TD)
		}
		close(h.ready)
	})
	return h.statusErr
}

// decodeEnvelope decodes data as an eth/66+ Envelope66[T], returning the
// carried request id alongside the unwrapped payload. Peers negotiated
// below eth/66 carry no envelope, so the payload decodes directly as T
// and the returned id is always zero.
func decodeEnvelope[T any](version uint, data []byte) (uint64, T, error) {
	var payload T
	if version >= ETH66 {
		var env Envelope66[T]
		if err := rlp.DecodeBytes(data, &env); err != nil {
			return 0, payload, err
		}
		return env.RequestId, env.Data, nil
	}
	err := rlp.DecodeBytes(data, &payload)
	return 0, payload, err
}

// respond writes a served response, echoing requestID in an Envelope66
// for eth/66+ peers so the remote's own dispatcher can resolve the
// matching pending slot; legacy peers get the bare packet.
func respond[T any](h *Handler, code uint64, requestID uint64, payload T) error {
	if h.peer.version >= ETH66 {
		return h.peer.send(code, &Envelope66[T]{RequestId: requestID, Data: payload})
	}
	return h.peer.send(code, payload)
}

// completeRequest resolves a pending eth/66 request issued by this peer,
// then folds the round-trip time and response size into a node-stats
// transfer-speed sample for kind. Responses from peers below eth/66 (no
// dispatcher) and unknown/already-resolved ids are silently ignored,
// matching the "unknown/duplicate ids are dropped" rule.
func (h *Handler) completeRequest(id uint64, result any, kind netstats.TransferKind, payloadSize int) {
	if h.peer.dispatcher == nil {
		return
	}
	elapsed, err := h.peer.dispatcher.Complete(id, result)
	if err != nil {
		return
	}
	stats := h.backend.Stats(h.peer.RemoteID())
	if stats == nil {
		return
	}
	ms := elapsed.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	stats.AddTransferSpeed(kind, uint64(payloadSize)/uint64(ms))
}

func (h *Handler) serveGetBlockHeaders(data []byte) error {
	id, query, err := decodeEnvelope[GetBlockHeadersPacket](h.peer.version, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	chain := h.backend.Chain()
	hashMode := query.Origin.Hash != (common.Hash{})
	first := true

	var (
		bytesServed int
		headers     []*types.Header
		unknown     bool
	)
	for !unknown && uint64(len(headers)) < query.Amount && bytesServed < softResponseLimit && len(headers) < maxHeadersServe {
		var origin *types.Header
		if hashMode {
			if first {
				first = false
				origin = chain.GetHeaderByHash(query.Origin.Hash)
				if origin != nil {
					query.Origin.Number = origin.Number.Uint64()
				}
			} else {
				origin = chain.GetHeader(query.Origin.Hash, query.Origin.Number)
			}
		} else {
			origin = chain.GetHeaderByNumber(query.Origin.Number)
		}
		if origin == nil {
			break
		}
		headers = append(headers, origin)
		bytesServed += estHeaderSize

		if query.Reverse {
			if query.Origin.Number >= query.Skip+1 {
				query.Origin.Number -= query.Skip + 1
			} else {
				unknown = true
			}
		} else {
			query.Origin.Number += query.Skip + 1
		}
		if hashMode && !unknown {
			next := chain.GetHeaderByNumber(query.Origin.Number)
			if next == nil {
				unknown = true
			} else {
				query.Origin.Hash = next.Hash()
			}
		}
	}
	return respond(h, BlockHeadersMsg, id, BlockHeadersPacket(headers))
}

func (h *Handler) serveGetBlockBodies(data []byte) error {
	id, request, err := decodeEnvelope[GetBlockBodiesPacket](h.peer.version, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	chain := h.backend.Chain()
	var (
		bytesServed int
		bodies      []rlp.RawValue
	)
	for _, hash := range request {
		if bytesServed >= softResponseLimit || len(bodies) >= maxBodiesServe {
			break
		}
		if raw := chain.GetBodyRLP(hash); len(raw) != 0 {
			bodies = append(bodies, raw)
			bytesServed += len(raw)
		}
	}
	return respond(h, BlockBodiesMsg, id, bodies)
}

func (h *Handler) serveGetReceipts(data []byte) error {
	id, request, err := decodeEnvelope[GetReceiptsPacket](h.peer.version, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	chain := h.backend.Chain()
	var (
		bytesServed int
		receipts    ReceiptsPacket
	)
	for _, hash := range request {
		if bytesServed >= softResponseLimit || len(receipts) >= maxReceiptsServe {
			break
		}
		rs := chain.GetReceipts(hash)
		if rs == nil {
			continue
		}
		receipts = append(receipts, rs)
		bytesServed += len(rs) * 200
	}
	return respond(h, ReceiptsMsg, id, receipts)
}

func (h *Handler) serveGetNodeData(data []byte) error {
	id, _, err := decodeEnvelope[GetNodeDataPacket](h.peer.version, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	// State-trie node serving over eth is retained for backward
	// compatibility; snap/1 is the primary state-sync path so this
	// intentionally returns nothing it cannot serve cheaply.
	return respond(h, NodeDataMsg, id, NodeDataPacket{})
}

func (h *Handler) serveGetPooledTransactions(data []byte) error {
	id, request, err := decodeEnvelope[GetPooledTransactionsPacket](h.peer.version, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	pool := h.backend.TxPool()
	var (
		bytesServed int
		txs         PooledTransactionsPacket
	)
	for _, hash := range request {
		if bytesServed >= softResponseLimit {
			break
		}
		tx := pool.Get(hash)
		if tx == nil {
			continue
		}
		txs = append(txs, tx)
		bytesServed += int(tx.Size())
	}
	log.Trace("eth: served pooled transactions", "requested", len(request), "sent", len(txs))
	return respond(h, PooledTransactionsMsg, id, txs)
}
