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
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/gethsync/corenet/p2p"
)

const (
	softResponseLimit  = 2 * 1024 * 1024
	maxCodeLookups     = 1024
	maxTrieNodeLookups = 1024
)

// SnapServer fulfills the serving side of the four snap/1 request kinds.
// The handler's role is message framing and budget bookkeeping, not trie
// traversal (spec.md §4.G); traversal itself belongs to this external
// collaborator.
type SnapServer interface {
	AccountRange(root, origin, limit common.Hash, bytes uint64) (accounts []*AccountData, proof [][]byte)
	StorageRanges(root common.Hash, accounts []common.Hash, origin, limit []byte, bytes uint64) (slots [][]*StorageData, proof [][]byte)
	ByteCodes(hashes []common.Hash, bytes uint64) [][]byte
	TrieNodes(root common.Hash, paths []TrieNodePathSet, bytes uint64) [][]byte
}

// Backend wires the snap handler to the rest of the node.
type Backend interface {
	Server() SnapServer

	OnAccounts(peer *Peer, hashes []common.Hash, accounts [][]byte, proof [][]byte) error
	OnStorage(peer *Peer, hashes [][]common.Hash, slots [][][]byte, proof [][]byte) error
	OnByteCodes(peer *Peer, codes [][]byte) error
	OnTrieNodes(peer *Peer, nodes [][]byte) error
}

// Handler implements p2p.ProtocolHandler for one negotiated snap/1
// session, adapted from the teacher's handle/handleMessage read-loop-and-
// switch shape into the routed HandleMessage form the multiplexer calls.
type Handler struct {
	backend Backend
	peer    *Peer
}

// NewHandlerFactory returns a p2p.HandlerFactory constructing a snap
// Handler for the negotiated version.
func NewHandlerFactory(backend Backend) p2p.HandlerFactory {
	return func(session *p2p.Session, version uint) (p2p.ProtocolHandler, uint64, error) {
		peer := NewPeer(session, version)
		return &Handler{backend: backend, peer: peer}, protocolLengths[version], nil
	}
}

// Close cancels every outstanding FIFO request on session disposal.
func (h *Handler) Close() {
	h.peer.pending.CancelAll()
}

// HandleMessage implements p2p.ProtocolHandler.
func (h *Handler) HandleMessage(packetID uint64, payload io.Reader, size uint32) error {
	if size > maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMsgTooLarge, size, maxMessageSize)
	}
	data, err := io.ReadAll(io.LimitReader(payload, int64(size)))
	if err != nil {
		return err
	}

	switch packetID {
	case GetAccountRangeMsg:
		var req GetAccountRangePacket
		if err := rlp.DecodeBytes(data, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if req.Bytes > softResponseLimit {
			req.Bytes = softResponseLimit
		}
		accounts, proof := h.backend.Server().AccountRange(req.Root, req.Origin, req.Limit, req.Bytes)
		return h.peer.send(AccountRangeMsg, &AccountRangePacket{Accounts: accounts, Proof: proof})

	case AccountRangeMsg:
		var res AccountRangePacket
		if err := rlp.DecodeBytes(data, &res); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		hashes := make([]common.Hash, len(res.Accounts))
		bodies := make([][]byte, len(res.Accounts))
		for i, a := range res.Accounts {
			hashes[i], bodies[i] = a.Hash, a.Body
		}
		if err := h.peer.pending.Complete(&res); err != nil {
			return err
		}
		return h.backend.OnAccounts(h.peer, hashes, bodies, res.Proof)

	case GetStorageRangesMsg:
		var req GetStorageRangesPacket
		if err := rlp.DecodeBytes(data, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if req.Bytes > softResponseLimit {
			req.Bytes = softResponseLimit
		}
		slots, proof := h.backend.Server().StorageRanges(req.Root, req.Accounts, req.Origin, req.Limit, req.Bytes)
		return h.peer.send(StorageRangesMsg, &StorageRangesPacket{Slots: slots, Proof: proof})

	case StorageRangesMsg:
		var res StorageRangesPacket
		if err := rlp.DecodeBytes(data, &res); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		hashes := make([][]common.Hash, len(res.Slots))
		bodies := make([][][]byte, len(res.Slots))
		for i, group := range res.Slots {
			hs := make([]common.Hash, len(group))
			bs := make([][]byte, len(group))
			for j, s := range group {
				hs[j], bs[j] = s.Hash, s.Body
			}
			hashes[i], bodies[i] = hs, bs
		}
		if err := h.peer.pending.Complete(&res); err != nil {
			return err
		}
		return h.backend.OnStorage(h.peer, hashes, bodies, res.Proof)

	case GetByteCodesMsg:
		var req GetByteCodesPacket
		if err := rlp.DecodeBytes(data, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if req.Bytes > softResponseLimit {
			req.Bytes = softResponseLimit
		}
		if len(req.Hashes) > maxCodeLookups {
			req.Hashes = req.Hashes[:maxCodeLookups]
		}
		codes := h.backend.Server().ByteCodes(req.Hashes, req.Bytes)
		return h.peer.send(ByteCodesMsg, &ByteCodesPacket{Codes: codes})

	case ByteCodesMsg:
		var res ByteCodesPacket
		if err := rlp.DecodeBytes(data, &res); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if err := h.peer.pending.Complete(&res); err != nil {
			return err
		}
		return h.backend.OnByteCodes(h.peer, res.Codes)

	case GetTrieNodesMsg:
		var req GetTrieNodesPacket
		if err := rlp.DecodeBytes(data, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if req.Bytes > softResponseLimit {
			req.Bytes = softResponseLimit
		}
		if len(req.Paths) > maxTrieNodeLookups {
			req.Paths = req.Paths[:maxTrieNodeLookups]
		}
		nodes := h.backend.Server().TrieNodes(req.Root, req.Paths, req.Bytes)
		return h.peer.send(TrieNodesMsg, &TrieNodesPacket{Nodes: nodes})

	case TrieNodesMsg:
		var res TrieNodesPacket
		if err := rlp.DecodeBytes(data, &res); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if err := h.peer.pending.Complete(&res); err != nil {
			return err
		}
		return h.backend.OnTrieNodes(h.peer, res.Nodes)

	default:
		return fmt.Errorf("%w: %d", ErrInvalidMsgCode, packetID)
	}
}

// RequestAccountRange issues a GetAccountRange request under the current
// budget and returns the pending slot to Await on.
func (p *Peer) RequestAccountRange(root, origin, limit common.Hash) (*pendingRequest, error) {
	return p.request(GetAccountRangeMsg, &GetAccountRangePacket{Root: root, Origin: origin, Limit: limit, Bytes: p.budget.Current()})
}

// RequestStorageRanges issues a GetStorageRanges request under the
// current budget.
func (p *Peer) RequestStorageRanges(root common.Hash, accounts []common.Hash, origin, limit []byte) (*pendingRequest, error) {
	return p.request(GetStorageRangesMsg, &GetStorageRangesPacket{Root: root, Accounts: accounts, Origin: origin, Limit: limit, Bytes: p.budget.Current()})
}

// RequestByteCodes issues a GetByteCodes request under the current budget.
func (p *Peer) RequestByteCodes(hashes []common.Hash) (*pendingRequest, error) {
	return p.request(GetByteCodesMsg, &GetByteCodesPacket{Hashes: hashes, Bytes: p.budget.Current()})
}

// RequestTrieNodes issues a GetTrieNodes request under the current budget.
func (p *Peer) RequestTrieNodes(root common.Hash, paths []TrieNodePathSet) (*pendingRequest, error) {
	return p.request(GetTrieNodesMsg, &GetTrieNodesPacket{Root: root, Paths: paths, Bytes: p.budget.Current()})
}
