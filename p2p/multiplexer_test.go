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
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubHandler counts messages and close calls for one installed protocol.
type stubHandler struct {
	handled []uint64
	closed  bool
}

func (h *stubHandler) HandleMessage(packetID uint64, payload io.Reader, size uint32) error {
	h.handled = append(h.handled, packetID)
	return nil
}

func (h *stubHandler) Close() { h.closed = true }

func p2pOnlyFactory() HandlerFactory {
	return func(s *Session, version uint) (ProtocolHandler, uint64, error) {
		return &stubHandler{}, baseProtocolLength, nil
	}
}

func TestMultiplexerRegisterProtocolRejectsDuplicateCode(t *testing.T) {
	m := NewMultiplexer(LocalHello{})
	require.NoError(t, m.RegisterProtocol("eth", 66, p2pOnlyFactory()))
	require.ErrorIs(t, m.RegisterProtocol("eth", 66, p2pOnlyFactory()), ErrProtocolAlreadyRegistered)
}

func TestMultiplexerInitializeInstallsAgreedHandlers(t *testing.T) {
	m := NewMultiplexer(LocalHello{Version: 5, Caps: nil})
	require.NoError(t, m.RegisterProtocol(baseProtocolCode, 5, p2pOnlyFactory()))

	var installed *stubHandler
	require.NoError(t, m.RegisterProtocol("eth", 66, func(s *Session, version uint) (ProtocolHandler, uint64, error) {
		installed = &stubHandler{}
		return installed, 17, nil
	}))

	s := newTestSession(&fakeTransport{})
	s.CompleteHandshake(5, NodeID{}, "peer", nil, 0)

	err := m.initialize(s, []Capability{{Code: "eth", Version: 66}})
	require.NoError(t, err)
	require.Equal(t, StateInitialized, s.State())
	require.NotNil(t, installed)

	space, ok := s.handlerForPacket(baseProtocolLength)
	require.True(t, ok)
	require.Equal(t, "eth", space.cap.Code)
}

func TestMultiplexerInitializeFailsWithoutP2PFactory(t *testing.T) {
	m := NewMultiplexer(LocalHello{})
	s := newTestSession(&fakeTransport{})
	s.CompleteHandshake(5, NodeID{}, "peer", nil, 0)

	err := m.initialize(s, nil)
	require.ErrorIs(t, err, ErrNoP2PFactory)
}

func TestMultiplexerRunHandshakeFailsOnNoCommonCapabilities(t *testing.T) {
	m := NewMultiplexer(LocalHello{Version: 5, ClientID: "us", Caps: []Capability{{Code: "eth", Version: 66}}})
	require.NoError(t, m.RegisterProtocol(baseProtocolCode, 5, p2pOnlyFactory()))

	remoteHello := encodeHello(t, helloRLP{
		Version:  5,
		ClientID: "them",
		Caps:     []capRLP{{Code: "les", Version: 4}},
		NodeID:   make([]byte, 64),
	})
	rw := &fakeTransport{toRead: []Frame{remoteHello}}
	s := newTestSession(rw)
	m.AddSession(s)

	err := m.RunHandshake(s)
	require.ErrorIs(t, err, ErrNoCommonCapabilities)
}

func TestMultiplexerDispatchRoutesToOwningHandler(t *testing.T) {
	m := NewMultiplexer(LocalHello{})
	s := newTestSession(&fakeTransport{})
	s.advance(StateInitialized)

	handler := &stubHandler{}
	s.installHandler(Capability{Code: "eth", Version: 66}, 16, 17, handler)

	require.NoError(t, m.Dispatch(s, Frame{Code: 18}))
	require.Equal(t, []uint64{2}, handler.handled) // packet 18 is offset 2 within the eth space
}

func TestMultiplexerDispatchErrorsOnUnownedPacket(t *testing.T) {
	m := NewMultiplexer(LocalHello{})
	s := newTestSession(&fakeTransport{})
	s.advance(StateInitialized)

	require.Error(t, m.Dispatch(s, Frame{Code: 999}))
}

func TestMultiplexerTeardownClosesHandlersAndTransport(t *testing.T) {
	m := NewMultiplexer(LocalHello{})
	rw := &fakeTransport{}
	s := newTestSession(rw)
	s.advance(StateInitialized)

	handler := &stubHandler{}
	s.installHandler(Capability{Code: "eth", Version: 66}, 16, 17, handler)
	m.AddSession(s)

	reason := m.Teardown(s)
	require.Equal(t, DiscOther, reason)
	require.True(t, handler.closed)
	require.True(t, rw.closed)

	_, ok := m.Session(s.ID)
	require.False(t, ok)
}

func TestNewCapabilityFrameEncodesCapability(t *testing.T) {
	f := newCapabilityFrame(Capability{Code: "snap", Version: 1})
	require.Equal(t, uint64(addCapMsg), f.Code)
	data, err := io.ReadAll(f.Payload)
	require.NoError(t, err)
	require.NotEmpty(t, data)
}
