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

import (
	"bytes"
	"errors"
	"io"

	"github.com/ethereum/go-ethereum/rlp"
)

// Base protocol ("p2p") message codes and the packet-id space it
// unconditionally occupies, per the frame-dispatch specification.
const (
	baseProtocolCode   = "p2p"
	baseProtocolLength = uint64(16)

	handshakeMsg = 0x00
	discMsg      = 0x01
	pingMsg      = 0x02
	pongMsg      = 0x03
	addCapMsg    = 0x04
)

var (
	ErrNoCommonCapabilities = errors.New("p2p: no common capabilities")
	ErrHandshakeBadMsg      = errors.New("p2p: expected Hello as first message")
)

// capRLP is the wire encoding of one advertised capability.
type capRLP struct {
	Code    string
	Version uint
}

// helloRLP is the devp2p handshake payload:
// [protocol_version, client_id, capabilities, listen_port, node_id].
type helloRLP struct {
	Version    uint64
	ClientID   string
	Caps       []capRLP
	ListenPort uint64
	NodeID     []byte
	Rest       []rlp.RawValue `rlp:"tail"`
}

// LocalHello describes the identity this node advertises to every peer.
type LocalHello struct {
	Version    uint
	ClientID   string
	Caps       []Capability
	ListenPort uint16
	NodeID     NodeID
}

// WriteHello sends this node's Hello frame on the base protocol.
func WriteHello(s *Session, local LocalHello) error {
	caps := make([]capRLP, len(local.Caps))
	for i, c := range local.Caps {
		caps[i] = capRLP{Code: c.Code, Version: c.Version}
	}
	payload, err := rlp.EncodeToBytes(&helloRLP{
		Version:    uint64(local.Version),
		ClientID:   local.ClientID,
		Caps:       caps,
		ListenPort: uint64(local.ListenPort),
		NodeID:     local.NodeID[:],
	})
	if err != nil {
		return err
	}
	return s.WriteFrame(Frame{Code: handshakeMsg, Size: uint32(len(payload)), Payload: bytes.NewReader(payload)})
}

// ReadHello blocks for the peer's Hello frame and decodes it. Per the
// state machine, the p2p handler is always the first thing instantiated,
// and Hello must be the first frame observed on a fresh connection.
func ReadHello(s *Session) (helloRLP, error) {
	var hello helloRLP
	f, err := s.rw.ReadFrame()
	if err != nil {
		return hello, err
	}
	if f.Code != handshakeMsg {
		return hello, ErrHandshakeBadMsg
	}
	data, err := io.ReadAll(io.LimitReader(f.Payload, int64(f.Size)))
	if err != nil {
		return hello, err
	}
	if err := rlp.DecodeBytes(data, &hello); err != nil {
		return hello, err
	}
	return hello, nil
}

// remoteCaps converts a decoded Hello's capability list into Capability
// values for negotiation.
func (h helloRLP) remoteCaps() []Capability {
	out := make([]Capability, len(h.Caps))
	for i, c := range h.Caps {
		out[i] = Capability{Code: c.Code, Version: c.Version}
	}
	return out
}

// remoteNodeID extracts the fixed-size node id from the variable-length
// RLP byte string, right-padding is never applied: a short id is an
// invalid identity.
func (h helloRLP) remoteNodeID() (NodeID, error) {
	var id NodeID
	if len(h.NodeID) != len(id) {
		return id, errors.New("p2p: invalid node id length")
	}
	copy(id[:], h.NodeID)
	return id, nil
}

// PerformHandshake runs the devp2p capability exchange: it writes our
// Hello, reads the remote's Hello, and records the outcome on the
// session. It does not perform capability negotiation against locally
// registered handler factories; that step belongs to the multiplexer,
// which knows the supported set and must instantiate handlers only while
// Initialized.
func PerformHandshake(s *Session, local LocalHello) (remoteCaps []Capability, remoteVersion uint, err error) {
	if err := WriteHello(s, local); err != nil {
		return nil, 0, err
	}
	hello, err := ReadHello(s)
	if err != nil {
		return nil, 0, err
	}
	remoteID, err := hello.remoteNodeID()
	if err != nil {
		return nil, 0, err
	}
	version := local.Version
	if uint(hello.Version) < version {
		version = uint(hello.Version)
	}
	s.CompleteHandshake(version, remoteID, hello.ClientID, hello.remoteCaps(), uint16(hello.ListenPort))
	return hello.remoteCaps(), uint(hello.Version), nil
}
