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
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	ErrProtocolAlreadyRegistered = errors.New("p2p: protocol already registered")
	ErrNoP2PFactory              = errors.New("p2p: no factory registered for base protocol")
)

// sessionsGauge tracks the number of live sessions, grounded on the
// teacher's eth/protocols/eth/metrics.go meter-registration idiom.
var sessionsGauge = metrics.NewRegisteredGauge("p2p/sessions", nil)

// DisconnectEvent is published on a Multiplexer's disconnect feed whenever
// a session completes teardown.
type DisconnectEvent struct {
	Session *Session
	Reason  DiscReason
}

// Multiplexer owns the set of live sessions and the open protocol-factory
// registry, and routes inbound frames to the sub-protocol handler that
// owns their packet-id range. It is component D of the specification.
type Multiplexer struct {
	local LocalHello

	mu        sync.RWMutex
	factories map[string]HandlerFactory
	localCaps []Capability
	sessions  map[SessionId]*Session

	initFeed event.Feed
	discFeed event.Feed
}

// NewMultiplexer creates an empty multiplexer advertising the given local
// identity. Sub-protocols, including "p2p" itself, must be registered via
// RegisterProtocol before any session can complete initialization.
func NewMultiplexer(local LocalHello) *Multiplexer {
	return &Multiplexer{
		local:     local,
		factories: make(map[string]HandlerFactory),
		sessions:  make(map[SessionId]*Session),
	}
}

// RegisterProtocol installs a factory for a protocol code. It fails if the
// code is already present, matching the "fails if code already present"
// contract.
func (m *Multiplexer) RegisterProtocol(code string, version uint, factory HandlerFactory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.factories[code]; exists {
		return fmt.Errorf("%w: %s", ErrProtocolAlreadyRegistered, code)
	}
	m.factories[code] = factory
	if code != baseProtocolCode {
		m.localCaps = append(m.localCaps, Capability{Code: code, Version: version})
	}
	return nil
}

// AddSupportedCapability advertises an additional capability without
// installing a fresh factory (used when one factory serves multiple
// versions of a protocol, e.g. eth/62..66).
func (m *Multiplexer) AddSupportedCapability(c Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.localCaps {
		if existing == c {
			return
		}
	}
	m.localCaps = append(m.localCaps, c)
}

// SendNewCapability broadcasts an add-capability control message to every
// session that has not already agreed the given capability.
func (m *Multiplexer) SendNewCapability(c Capability) {
	m.AddSupportedCapability(c)

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if !hasCapability(s.RemoteCapabilities(), c) {
			_ = s.WriteFrame(newCapabilityFrame(c))
		}
	}
}

func hasCapability(caps []Capability, c Capability) bool {
	for _, existing := range caps {
		if existing.Code == c.Code {
			return true
		}
	}
	return false
}

// SubscribeInitialized registers a channel for on_p2p_initialized events,
// fired once the p2p handshake completes for a session.
func (m *Multiplexer) SubscribeInitialized(ch chan<- *Session) event.Subscription {
	return m.initFeed.Subscribe(ch)
}

// SubscribeDisconnect registers a channel for session teardown events.
func (m *Multiplexer) SubscribeDisconnect(ch chan<- DisconnectEvent) event.Subscription {
	return m.discFeed.Subscribe(ch)
}

// AddSession registers a session in the live-session table. It should be
// called immediately after the session is constructed, before RunHandshake.
func (m *Multiplexer) AddSession(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	sessionsGauge.Inc(1)
}

// Session looks up a live session by id.
func (m *Multiplexer) Session(id SessionId) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Multiplexer) removeSession(id SessionId) {
	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		sessionsGauge.Dec(1)
	}
	m.mu.Unlock()
}

func (m *Multiplexer) localCapsSnapshot() []Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Capability, len(m.localCaps))
	copy(out, m.localCaps)
	return out
}

func (m *Multiplexer) factory(code string) (HandlerFactory, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.factories[code]
	return f, ok
}

// RunHandshake performs the devp2p Hello exchange for a freshly connected
// session and drives it into Initialized, installing the base "p2p"
// handler first and then every agreed sub-protocol handler. It returns an
// error (never panics) if the handshake or capability negotiation fails;
// the caller is expected to disconnect the session with an appropriate
// reason.
func (m *Multiplexer) RunHandshake(s *Session) error {
	local := m.local
	local.Caps = m.localCapsSnapshot()

	remoteCaps, _, err := PerformHandshake(s, local)
	if err != nil {
		return err
	}
	agreed := NegotiateCapabilities(local.Caps, remoteCaps)
	if len(agreed) == 0 {
		return ErrNoCommonCapabilities
	}
	return m.initialize(s, agreed)
}

// initialize moves the session to Initialized first (installHandler only
// accepts handlers in that state), then installs the p2p handler and every
// agreed sub-protocol handler. Handler registration is idempotent per code.
func (m *Multiplexer) initialize(s *Session, agreed []Capability) error {
	if !s.advance(StateInitialized) {
		return errors.New("p2p: session not eligible for initialization")
	}

	p2pFactory, ok := m.factory(baseProtocolCode)
	if !ok {
		return ErrNoP2PFactory
	}
	p2pHandler, _, err := p2pFactory(s, s.P2PVersion())
	if err != nil {
		return err
	}
	if !s.installHandler(Capability{Code: baseProtocolCode, Version: s.P2PVersion()}, 0, baseProtocolLength, p2pHandler) {
		return fmt.Errorf("p2p: failed to install base protocol handler")
	}

	offset := baseProtocolLength
	for _, cap := range agreed {
		factory, ok := m.factory(cap.Code)
		if !ok {
			continue
		}
		handler, size, err := factory(s, cap.Version)
		if err != nil {
			return err
		}
		if !s.installHandler(cap, offset, size, handler) {
			handler.Close()
			continue
		}
		offset += size
	}

	m.initFeed.Send(s)
	return nil
}

// Dispatch routes one already-read frame to the handler owning its
// packet-id range. It returns an error when the handler fails or panics,
// or when no installed handler owns the packet id; Serve answers every
// such error with a MessageHandlingException disconnect.
func (m *Multiplexer) Dispatch(s *Session, f Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("p2p: handler panicked", "session", s.ID, "err", r)
			err = fmt.Errorf("p2p: handler panic: %v", r)
		}
	}()

	space, ok := s.handlerForPacket(f.Code)
	if !ok {
		return fmt.Errorf("p2p: no handler for packet %d", f.Code)
	}
	relative := f.Code - space.start
	return space.handler.HandleMessage(relative, f.Payload, f.Size)
}

// Serve runs a session's read loop until it disconnects. Any handler
// error causes disconnect with MessageHandlingException; the underlying
// error is logged, never re-raised past the multiplexer.
func (m *Multiplexer) Serve(s *Session) DiscReason {
	for {
		f, err := s.readFrame()
		if err != nil {
			s.RequestDisconnect(DiscNetworkError)
			break
		}
		if f.Code == discMsg {
			s.RequestDisconnect(DiscRequested)
			break
		}
		if f.Code == pingMsg {
			_ = s.WriteFrame(Frame{Code: pongMsg})
			continue
		}
		if err := m.Dispatch(s, f); err != nil {
			log.Debug("p2p: message handling failed", "session", s.ID, "err", err)
			s.RequestDisconnect(DiscMessageHandlingException)
			break
		}
	}
	return m.Teardown(s)
}

// Teardown moves a session through Disconnecting to Disconnected,
// disposing every installed handler, closing the transport, and
// publishing a DisconnectEvent. It is safe to call multiple times.
func (m *Multiplexer) Teardown(s *Session) DiscReason {
	reason := s.DisconnectReason()
	if reason == 0 && s.State() < StateDisconnectRequested {
		reason = DiscOther
	}
	s.BeginDisconnecting()
	handlers := s.MarkDisconnected()
	for _, h := range handlers {
		h.Close()
	}
	_ = s.rw.Close()
	m.removeSession(s.ID)
	m.discFeed.Send(DisconnectEvent{Session: s, Reason: reason})
	return reason
}

func newCapabilityFrame(c Capability) Frame {
	payload, _ := rlp.EncodeToBytes(&capRLP{Code: c.Code, Version: c.Version})
	return Frame{Code: addCapMsg, Size: uint32(len(payload)), Payload: bytes.NewReader(payload)}
}
