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

package p2p

import "fmt"

// DiscReason is the code carried on the wire when a session is torn down.
// The values and their wire encoding match the classic devp2p disconnect
// reason list referenced in the protocol GLOSSARY.
type DiscReason uint

const (
	DiscRequested DiscReason = iota
	DiscNetworkError
	DiscProtocolError
	DiscUselessPeer
	DiscTooManyPeers
	DiscAlreadyConnected
	DiscIncompatibleVersion
	DiscInvalidIdentity
	DiscQuitting
	DiscUnexpectedIdentity
	DiscSelf
	DiscReadTimeout
	DiscSubprotocolError
	DiscBreachOfProtocol
	DiscMessageHandlingException
	DiscQueueFull
	DiscOther
)

var discReasonToString = map[DiscReason]string{
	DiscRequested:                "disconnect requested",
	DiscNetworkError:             "network error",
	DiscProtocolError:            "breach of protocol",
	DiscUselessPeer:              "useless peer",
	DiscTooManyPeers:             "too many peers",
	DiscAlreadyConnected:         "already connected",
	DiscIncompatibleVersion:      "incompatible p2p protocol version",
	DiscInvalidIdentity:          "invalid node identity",
	DiscQuitting:                 "client quitting",
	DiscUnexpectedIdentity:       "unexpected identity",
	DiscSelf:                     "connected to self",
	DiscReadTimeout:              "read timeout",
	DiscSubprotocolError:         "subprotocol error",
	DiscBreachOfProtocol:         "breach of protocol",
	DiscMessageHandlingException: "message handling exception",
	DiscQueueFull:                "incoming queue full",
	DiscOther:                    "unknown reason",
}

func (d DiscReason) String() string {
	if s, ok := discReasonToString[d]; ok {
		return s
	}
	return fmt.Sprintf("unknown disconnect reason %d", uint(d))
}

func (d DiscReason) Error() string { return d.String() }

// DisconnectRequest is the parameters passed to Session.Disconnect.
type DisconnectRequest struct {
	Reason  DiscReason
	Details string
}
