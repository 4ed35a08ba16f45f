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

// Contains the meters and connection wrapper used to track raw socket
// traffic, adapted from the teacher's p2p/metrics.go meteredConn/feed
// idiom (event.Feed for connect/handshake/disconnect notifications).

package p2p

import (
	"net"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/metrics"
)

const (
	MetricsInboundTraffic   = "p2p/traffic/ingress"
	MetricsInboundConnects  = "p2p/connects/ingress"
	MetricsOutboundTraffic  = "p2p/traffic/egress"
	MetricsOutboundConnects = "p2p/connects/egress"
)

var (
	ingressConnectMeter = metrics.NewRegisteredMeter(MetricsInboundConnects, nil)
	ingressTrafficMeter = metrics.NewRegisteredMeter(MetricsInboundTraffic, nil)
	egressConnectMeter  = metrics.NewRegisteredMeter(MetricsOutboundConnects, nil)
	egressTrafficMeter  = metrics.NewRegisteredMeter(MetricsOutboundTraffic, nil)

	connectFeed event.Feed
)

// ConnectEvent is published whenever a raw connection is accepted or
// dialed, before RLPx encryption or the devp2p Hello exchange.
type ConnectEvent struct {
	Addr      net.Addr
	Inbound   bool
	Connected time.Time
}

// SubscribeConnectEvent registers ch to receive raw-connection events.
func SubscribeConnectEvent(ch chan<- ConnectEvent) event.Subscription {
	return connectFeed.Subscribe(ch)
}

// meteredConn wraps a net.Conn so that all bytes crossing the socket are
// counted, independent of what RLPx framing layers on top of it.
type meteredConn struct {
	net.Conn
	ingress bool
}

// newMeteredConn wraps conn, bumping the appropriate connection-count
// meter and publishing a ConnectEvent. If metrics are disabled
// process-wide, it returns conn unchanged.
func newMeteredConn(conn net.Conn, ingress bool) net.Conn {
	if !metrics.Enabled {
		return conn
	}
	if ingress {
		ingressConnectMeter.Mark(1)
	} else {
		egressConnectMeter.Mark(1)
	}
	connectFeed.Send(ConnectEvent{Addr: conn.RemoteAddr(), Inbound: ingress, Connected: time.Now()})
	return &meteredConn{Conn: conn, ingress: ingress}
}

func (c *meteredConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if c.ingress {
		ingressTrafficMeter.Mark(int64(n))
	} else {
		egressTrafficMeter.Mark(int64(n))
	}
	return n, err
}

func (c *meteredConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if c.ingress {
		ingressTrafficMeter.Mark(int64(n))
	} else {
		egressTrafficMeter.Mark(int64(n))
	}
	return n, err
}
