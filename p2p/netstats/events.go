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

// Package netstats implements component A of the peer-networking
// subsystem: per-peer rolling transfer-speed averages and a short event
// history used to throttle reconnection attempts. Grounded in the
// teacher's general mutex-guarded-struct idiom (core/tx_noncer.go's
// txNoncer), since no direct analog of this bookkeeping survived in the
// retrieved snapshot.
package netstats

import (
	"time"

	"github.com/gethsync/corenet/p2p"
)

// EventType classifies a node-stats event that is not itself a
// disconnect (those carry additional (Direction, Reason) detail and are
// represented by Disconnect instead).
type EventType uint8

const (
	Connecting EventType = iota
	ConnectionFailed
	ConnectionFailedTargetUnreachable
)

func (e EventType) String() string {
	switch e {
	case Connecting:
		return "Connecting"
	case ConnectionFailed:
		return "ConnectionFailed"
	case ConnectionFailedTargetUnreachable:
		return "ConnectionFailedTargetUnreachable"
	default:
		return "Unknown"
	}
}

// DisconnectSide records whether a disconnect was initiated by us or the
// remote peer.
type DisconnectSide uint8

const (
	Local DisconnectSide = iota
	Remote
)

func (s DisconnectSide) String() string {
	if s == Remote {
		return "Remote"
	}
	return "Local"
}

// Event is one entry in a node's event ring: either a bare connection
// lifecycle event, or a disconnect carrying the side and wire reason.
type Event struct {
	At   time.Time
	Kind EventType
	// IsDisconnect distinguishes a Disconnect(side, reason) entry from a
	// bare EventType entry; Kind is EventType(0) and ignored when true.
	IsDisconnect bool
	Side         DisconnectSide
	Reason       p2p.DiscReason
}
