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

package netstats

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/gethsync/corenet/p2p"
)

const (
	defaultDisconnectDelay = 100 * time.Millisecond
	failedDelay            = 10 * time.Second
)

// longDelayReasons extend the default Disconnect(_, reason) window to
// several minutes, matching the "UselessPeer, ClientQuitting => several
// minutes" rule.
var longDelayReasons = map[p2p.DiscReason]time.Duration{
	p2p.DiscUselessPeer: 30 * time.Minute,
	p2p.DiscQuitting:    10 * time.Minute,
}

// delayFor resolves the fixed lookup table from (type, reason) to the
// redial-delay duration.
func delayFor(e Event) time.Duration {
	if e.IsDisconnect {
		if d, ok := longDelayReasons[e.Reason]; ok {
			return d
		}
		return defaultDisconnectDelay
	}
	switch e.Kind {
	case Connecting, ConnectionFailed, ConnectionFailedTargetUnreachable:
		return failedDelay
	default:
		return 0
	}
}

// reconnectGate wraps a rate.Limiter sized to the duration of the most
// recent delay-relevant event, giving the "eligible immediately after the
// duration elapses" burst-of-one reservation semantics without hand-
// rolled timer bookkeeping.
type reconnectGate struct {
	limiter *rate.Limiter
	cause   Event
	armed   bool
}

// arm (re)configures the gate so that exactly one reservation becomes
// available duration d after now.
func (g *reconnectGate) arm(now time.Time, cause Event, d time.Duration) {
	if d <= 0 {
		g.armed = false
		return
	}
	g.limiter = rate.NewLimiter(rate.Every(d), 1)
	// Consume the initial full burst so the next reservation is due
	// exactly one window from now.
	g.limiter.AllowN(now, 1)
	g.cause = cause
	g.armed = true
}

// check reports whether the gate is still closed, peeking at the
// underlying limiter without consuming its token.
func (g *reconnectGate) check(now time.Time) (delayed bool, cause Event) {
	if !g.armed {
		return false, Event{}
	}
	r := g.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	if delay > 0 {
		return true, g.cause
	}
	g.armed = false
	return false, Event{}
}
