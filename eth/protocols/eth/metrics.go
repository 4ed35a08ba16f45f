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

import "github.com/ethereum/go-ethereum/metrics"

// meters stores ingress and egress handshake meters, kept from the
// teacher's original shape since Status validation failures are still
// tracked the same way (handleStatus in handler.go).
var meters bidirectionalMeters

// bidirectionalMeters stores ingress and egress handshake meters.
type bidirectionalMeters struct {
	ingress *hsMeters
	egress  *hsMeters
}

func (h *bidirectionalMeters) get(ingress bool) *hsMeters {
	if ingress {
		return h.ingress
	}
	return h.egress
}

// hsMeters is a collection of meters which track metrics related to the
// eth subprotocol handshake.
type hsMeters struct {
	peerError               metrics.Meter
	timeoutError             metrics.Meter
	networkIDMismatch       metrics.Meter
	protocolVersionMismatch metrics.Meter
	genesisMismatch         metrics.Meter
	forkidRejected          metrics.Meter
}

func newHandshakeMeters(base string) *hsMeters {
	return &hsMeters{
		peerError:               metrics.NewRegisteredMeter(base+"error/peer", nil),
		timeoutError:            metrics.NewRegisteredMeter(base+"error/timeout", nil),
		networkIDMismatch:       metrics.NewRegisteredMeter(base+"error/network", nil),
		protocolVersionMismatch: metrics.NewRegisteredMeter(base+"error/version", nil),
		genesisMismatch:         metrics.NewRegisteredMeter(base+"error/genesis", nil),
		forkidRejected:          metrics.NewRegisteredMeter(base+"error/forkid", nil),
	}
}

// messageMeters is one (received, sent) meter pair for a single message
// kind, registered per protocol version family the way the teacher's
// newHandshakeMeters registers one meter per failure kind.
type messageMeters struct {
	received metrics.Meter
	sent     metrics.Meter
}

func newMessageMeters(base string) *messageMeters {
	return &messageMeters{
		received: metrics.NewRegisteredMeter(base+"received", nil),
		sent:     metrics.NewRegisteredMeter(base+"sent", nil),
	}
}

// packetMeters holds one messageMeters per eth/66 packet kind this
// handler dispatches, named literally after the message (e.g.
// "eth/protocols/eth/66/getblockheaders/..."), the counterpart to
// component F's per-message-kind metrics.
var packetMeters map[uint64]*messageMeters

func init() {
	meters = bidirectionalMeters{
		ingress: newHandshakeMeters("eth/protocols/eth/ingress/handshake/"),
		egress:  newHandshakeMeters("eth/protocols/eth/egress/handshake/"),
	}

	packetMeters = map[uint64]*messageMeters{
		GetBlockHeadersMsg:            newMessageMeters("eth/protocols/eth/66/getblockheaders/"),
		BlockHeadersMsg:               newMessageMeters("eth/protocols/eth/66/blockheaders/"),
		GetBlockBodiesMsg:             newMessageMeters("eth/protocols/eth/66/getblockbodies/"),
		BlockBodiesMsg:                newMessageMeters("eth/protocols/eth/66/blockbodies/"),
		GetReceiptsMsg:                newMessageMeters("eth/protocols/eth/66/getreceipts/"),
		ReceiptsMsg:                   newMessageMeters("eth/protocols/eth/66/receipts/"),
		GetNodeDataMsg:                newMessageMeters("eth/protocols/eth/66/getnodedata/"),
		NodeDataMsg:                   newMessageMeters("eth/protocols/eth/66/nodedata/"),
		NewBlockHashesMsg:             newMessageMeters("eth/protocols/eth/newblockhashes/"),
		NewBlockMsg:                   newMessageMeters("eth/protocols/eth/newblock/"),
		TransactionsMsg:               newMessageMeters("eth/protocols/eth/transactions/"),
		NewPooledTransactionHashesMsg: newMessageMeters("eth/protocols/eth/newpooledtransactionhashes/"),
		GetPooledTransactionsMsg:      newMessageMeters("eth/protocols/eth/66/getpooledtransactions/"),
		PooledTransactionsMsg:         newMessageMeters("eth/protocols/eth/66/pooledtransactions/"),
	}
}

// markReceived marks one inbound message of the given kind, a no-op if
// code names a kind with no registered meter (StatusMsg is handshake-only
// and tracked via hsMeters instead).
func markReceived(code uint64) {
	if m, ok := packetMeters[code]; ok {
		m.received.Mark(1)
	}
}

// markSent marks one outbound message of the given kind.
func markSent(code uint64) {
	if m, ok := packetMeters[code]; ok {
		m.sent.Mark(1)
	}
}
