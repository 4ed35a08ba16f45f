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
	"sync"
	"testing"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// capturedFrame snapshots a written Frame's payload, since Frame.Payload
// is a one-shot io.Reader.
type capturedFrame struct {
	Code uint64
	Size uint32
	Data []byte
}

type fakeTransport struct {
	mu      sync.Mutex
	written []capturedFrame
	toRead  []Frame
	closed  bool
}

func (f *fakeTransport) WriteFrame(fr Frame) error {
	data, err := io.ReadAll(fr.Payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.written = append(f.written, capturedFrame{Code: fr.Code, Size: fr.Size, Data: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ReadFrame() (Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.toRead) == 0 {
		return Frame{}, errors.New("fakeTransport: no more frames")
	}
	next := f.toRead[0]
	f.toRead = f.toRead[1:]
	return next, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func newTestSession(rw *fakeTransport) *Session {
	return NewSession(uuid.New(), DirOut, rw)
}

func TestSessionStateNeverRegresses(t *testing.T) {
	s := newTestSession(&fakeTransport{})
	require.True(t, s.advance(StateInitialized))
	require.False(t, s.advance(StateHandshakeComplete))
	require.Equal(t, StateInitialized, s.State())
}

func TestSessionBestStateLatchesAfterDisconnect(t *testing.T) {
	s := newTestSession(&fakeTransport{})
	s.advance(StateInitialized)
	s.MarkDisconnected()
	require.Equal(t, StateDisconnected, s.BestStateReached())
}

func TestSessionRequestDisconnectFiresOnce(t *testing.T) {
	s := newTestSession(&fakeTransport{})
	require.True(t, s.RequestDisconnect(DiscUselessPeer))
	require.False(t, s.RequestDisconnect(DiscQuitting))
	require.Equal(t, DiscUselessPeer, s.DisconnectReason())
}

func TestSessionInstallHandlerRequiresInitializedState(t *testing.T) {
	s := newTestSession(&fakeTransport{})
	ok := s.installHandler(Capability{Code: "eth", Version: 66}, 16, 17, nil)
	require.False(t, ok)

	s.advance(StateInitialized)
	ok = s.installHandler(Capability{Code: "eth", Version: 66}, 16, 17, nil)
	require.True(t, ok)
}

func TestSessionInstallHandlerRejectsDuplicateCode(t *testing.T) {
	s := newTestSession(&fakeTransport{})
	s.advance(StateInitialized)
	require.True(t, s.installHandler(Capability{Code: "eth", Version: 66}, 16, 17, nil))
	require.False(t, s.installHandler(Capability{Code: "eth", Version: 66}, 33, 17, nil))
}

func TestSessionMarkDisconnectedIsIdempotent(t *testing.T) {
	s := newTestSession(&fakeTransport{})
	s.advance(StateInitialized)
	s.installHandler(Capability{Code: "eth", Version: 66}, 16, 17, nil)

	first := s.MarkDisconnected()
	require.Len(t, first, 1)

	second := s.MarkDisconnected()
	require.Nil(t, second)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done channel not closed")
	}
}

func TestSessionWriteFrameLeavesPayloadRawBelowVersion5(t *testing.T) {
	rw := &fakeTransport{}
	s := newTestSession(rw)
	s.CompleteHandshake(4, NodeID{}, "peer", nil, 0)

	payload := []byte("hello world")
	require.NoError(t, s.WriteFrame(Frame{Code: 0x10, Size: uint32(len(payload)), Payload: bytes.NewReader(payload)}))

	require.Len(t, rw.written, 1)
	require.Equal(t, payload, rw.written[0].Data)
}

func TestSessionWriteFrameCompressesFromVersion5(t *testing.T) {
	rw := &fakeTransport{}
	s := newTestSession(rw)
	s.CompleteHandshake(5, NodeID{}, "peer", nil, 0)

	payload := []byte("hello world, snappy compressed payload")
	require.NoError(t, s.WriteFrame(Frame{Code: 0x10, Size: uint32(len(payload)), Payload: bytes.NewReader(payload)}))

	require.Len(t, rw.written, 1)
	decoded, err := snappy.Decode(nil, rw.written[0].Data)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestSessionReadFrameDecompressesFromVersion5(t *testing.T) {
	payload := []byte("inbound compressed payload")
	compressed := snappy.Encode(nil, payload)
	rw := &fakeTransport{toRead: []Frame{{Code: 0x11, Size: uint32(len(compressed)), Payload: bytes.NewReader(compressed)}}}

	s := newTestSession(rw)
	s.CompleteHandshake(5, NodeID{}, "peer", nil, 0)

	f, err := s.readFrame()
	require.NoError(t, err)
	got, err := io.ReadAll(f.Payload)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestSessionHandlerForPacketFindsOwningSpace(t *testing.T) {
	s := newTestSession(&fakeTransport{})
	s.advance(StateInitialized)
	s.installHandler(Capability{Code: "eth", Version: 66}, 16, 17, nil)

	space, ok := s.handlerForPacket(16)
	require.True(t, ok)
	require.Equal(t, "eth", space.cap.Code)

	_, ok = s.handlerForPacket(100)
	require.False(t, ok)
}
