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
	"encoding/hex"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/google/uuid"
)

// NodeID is the raw 64-byte uncompressed secp256k1 public key exchanged in
// the devp2p Hello message. It is deliberately distinct from go-ethereum's
// enode.ID (a keccak256 digest used only for discovery/ENR).
type NodeID [64]byte

func (id NodeID) String() string { return hex.EncodeToString(id[:]) }

// SessionId uniquely identifies one live TCP connection's session.
type SessionId = uuid.UUID

// Direction records whether a session was dialed or accepted.
type Direction uint8

const (
	DirIn Direction = iota
	DirOut
)

func (d Direction) String() string {
	if d == DirOut {
		return "out"
	}
	return "in"
}

// State is a session's position in the lifecycle state machine described
// in the session-lifecycle specification. States are ordered; a session's
// State field only ever advances forward except for BestStateReached,
// which latches the maximum state ever observed.
type State uint8

const (
	StateNew State = iota
	StateHandshakeComplete
	StateInitialized
	StateDisconnectRequested
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateHandshakeComplete:
		return "HandshakeComplete"
	case StateInitialized:
		return "Initialized"
	case StateDisconnectRequested:
		return "DisconnectRequested"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Frame is one decoded devp2p message: a protocol-relative or absolute
// packet id (the caller decides which, see protoSpace.start) plus its
// RLP payload.
type Frame struct {
	Code    uint64
	Size    uint32
	Payload io.Reader
}

// FrameReadWriter is the abstraction over the lower-level RLPx transport
// this module consumes; it is satisfied by github.com/ethereum/go-
// ethereum/p2p/rlpx.Conn in production and by an in-memory pipe in tests.
type FrameReadWriter interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Close() error
}

// ProtocolHandler is implemented by every sub-protocol (eth/N, snap/1, ...)
// installed into a session.
type ProtocolHandler interface {
	HandleMessage(packetID uint64, payload io.Reader, size uint32) error
	// Close is invoked once, when the owning session disconnects.
	Close()
}

// HandlerFactory constructs a ProtocolHandler bound to the given session
// once a capability has been agreed at the given negotiated version,
// returning also the size of the packet-id space the protocol occupies.
// The session reference is retained only for the lifetime of the handler
// (broken by Close), avoiding a permanent session<->handler reference
// cycle per the design notes.
type HandlerFactory func(s *Session, version uint) (handler ProtocolHandler, packetSpace uint64, err error)

// protoSpace is one entry in a session's packet-id routing table.
type protoSpace struct {
	cap     Capability
	start   uint64
	size    uint64
	handler ProtocolHandler
}

// Session is the mutable per-connection record described in the data
// model: unique id, direction, monotonic state, installed handlers, and
// negotiated p2p parameters.
type Session struct {
	ID        SessionId
	Direction Direction
	rw        FrameReadWriter

	mu         sync.Mutex
	state      State
	bestState  State
	p2pVersion uint
	snappy     bool
	listenPort uint16
	remoteID   NodeID
	remoteName string
	caps       []Capability
	handlers   map[string]*protoSpace

	writeMu sync.Mutex

	disconnectOnce sync.Once
	closed         chan struct{}
	discReason     DiscReason
}

// NewSession wraps a connected transport into a New-state session.
func NewSession(id SessionId, dir Direction, rw FrameReadWriter) *Session {
	return &Session{
		ID:        id,
		Direction: dir,
		rw:        rw,
		state:     StateNew,
		bestState: StateNew,
		handlers:  make(map[string]*protoSpace),
		closed:    make(chan struct{}),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BestStateReached returns the maximum state this session has ever
// occupied, which never regresses even after Disconnected is reached.
func (s *Session) BestStateReached() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestState
}

// advance moves the session to newState if it is not a regression. It
// reports whether the transition was applied.
func (s *Session) advance(newState State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newState < s.state {
		return false
	}
	s.state = newState
	if newState > s.bestState {
		s.bestState = newState
	}
	return true
}

// CompleteHandshake records the outcome of the devp2p Hello exchange:
// negotiated p2p version, remote node id, remote-advertised capabilities
// and (for inbound sessions) the remote's claimed listen port.
func (s *Session) CompleteHandshake(version uint, remoteID NodeID, remoteName string, caps []Capability, listenPort uint16) {
	s.mu.Lock()
	s.p2pVersion = version
	s.snappy = version >= 5
	s.remoteID = remoteID
	s.remoteName = remoteName
	s.caps = caps
	s.listenPort = listenPort
	s.mu.Unlock()
	s.advance(StateHandshakeComplete)
}

// RemoteClientID returns the client identifier string the remote
// advertised during the handshake (e.g. "Geth/v1.13.5-.../linux-amd64").
func (s *Session) RemoteClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteName
}

// P2PVersion returns the negotiated base protocol version.
func (s *Session) P2PVersion() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p2pVersion
}

// SnappyEnabled reports whether frame payloads are snappy-compressed.
func (s *Session) SnappyEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snappy
}

// RemoteID returns the remote peer's advertised node id.
func (s *Session) RemoteID() NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// RemoteCapabilities returns the capability list the remote advertised
// during the handshake.
func (s *Session) RemoteCapabilities() []Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Capability, len(s.caps))
	copy(out, s.caps)
	return out
}

// ListenPort returns the remote's advertised listen port, or 0 if unknown
// (always the case for inbound sessions prior to Hello).
func (s *Session) ListenPort() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenPort
}

// installHandler registers a handler for a protocol code, allocating it
// the given packet-id space. It fails if the code is already installed,
// or if the session is not in the Initialized state, satisfying the
// invariant that handlers are added only while Initialized.
func (s *Session) installHandler(cap Capability, start, size uint64, h ProtocolHandler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitialized {
		return false
	}
	if _, exists := s.handlers[cap.Code]; exists {
		return false
	}
	s.handlers[cap.Code] = &protoSpace{cap: cap, start: start, size: size, handler: h}
	return true
}

// handlerForPacket finds the handler owning the given absolute packet id.
func (s *Session) handlerForPacket(packetID uint64) (*protoSpace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, space := range s.handlers {
		if packetID >= space.start && packetID < space.start+space.size {
			return space, true
		}
	}
	return nil, false
}

// WriteFrame serializes access to the underlying transport so that
// outbound frames from concurrent protocol handlers are never interleaved
// and are written in submission order. Once the handshake has negotiated
// p2pVersion >= 5, the frame payload is snappy-compressed first, matching
// spec.md §6's "snappy enabled post-handshake iff protocol_version >= 5".
func (s *Session) WriteFrame(f Frame) error {
	if s.SnappyEnabled() {
		raw, err := io.ReadAll(f.Payload)
		if err != nil {
			return err
		}
		compressed := snappy.Encode(nil, raw)
		f.Payload = bytes.NewReader(compressed)
		f.Size = uint32(len(compressed))
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.rw.WriteFrame(f)
}

// readFrame reads the next frame off the transport, snappy-decompressing
// its payload when the session has negotiated compression. Unlike
// WriteFrame it needs no lock: reads are driven by the single goroutine
// running Multiplexer.Serve.
func (s *Session) readFrame() (Frame, error) {
	f, err := s.rw.ReadFrame()
	if err != nil || !s.SnappyEnabled() {
		return f, err
	}
	raw, err := io.ReadAll(f.Payload)
	if err != nil {
		return Frame{}, err
	}
	decoded, err := snappy.Decode(nil, raw)
	if err != nil {
		return Frame{}, err
	}
	f.Payload = bytes.NewReader(decoded)
	f.Size = uint32(len(decoded))
	return f, nil
}

// RequestDisconnect transitions the session to DisconnectRequested exactly
// once; subsequent calls are no-ops, matching the "may be called once"
// contract in the lifecycle specification.
func (s *Session) RequestDisconnect(reason DiscReason) (first bool) {
	first = false
	s.disconnectOnce.Do(func() {
		first = true
		s.mu.Lock()
		s.discReason = reason
		s.mu.Unlock()
		s.advance(StateDisconnectRequested)
	})
	return first
}

// BeginDisconnecting moves the session into the Disconnecting state, the
// point at which protocol-specific teardown has started and only the
// transport close remains.
func (s *Session) BeginDisconnecting() {
	s.advance(StateDisconnecting)
}

// MarkDisconnected completes the lifecycle: removes every installed
// handler, returning them for the caller to Close, and closes the
// notification channel. It is idempotent; a repeated call returns nil.
func (s *Session) MarkDisconnected() []ProtocolHandler {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisconnected
	if s.bestState < StateDisconnected {
		s.bestState = StateDisconnected
	}
	handlers := make([]ProtocolHandler, 0, len(s.handlers))
	for _, space := range s.handlers {
		handlers = append(handlers, space.handler)
	}
	s.handlers = make(map[string]*protoSpace)
	s.mu.Unlock()
	close(s.closed)
	return handlers
}

// DisconnectReason returns the reason recorded by RequestDisconnect, valid
// once the session has left New/HandshakeComplete/Initialized.
func (s *Session) DisconnectReason() DiscReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discReason
}

// Done is closed once the session reaches Disconnected.
func (s *Session) Done() <-chan struct{} { return s.closed }
