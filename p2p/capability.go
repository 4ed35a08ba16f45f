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

import "sort"

// Capability is a (protocol code, version) pair advertised during the
// devp2p handshake, e.g. {"eth", 66}.
type Capability struct {
	Code    string
	Version uint
}

func (c Capability) String() string {
	return c.Code + "/" + itoa(c.Version)
}

func itoa(v uint) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// capsByCode sorts a capability slice lexicographically by protocol code,
// the ordering the wire encoding and packet-id space allocation both rely
// on. Adapted from the teacher's capsByName sort used before assigning
// per-protocol packet-id offsets.
type capsByCode []Capability

func (c capsByCode) Len() int      { return len(c) }
func (c capsByCode) Swap(i, j int) { c[i], c[j] = c[j], c[i] }
func (c capsByCode) Less(i, j int) bool {
	if c[i].Code == c[j].Code {
		return c[i].Version < c[j].Version
	}
	return c[i].Code < c[j].Code
}

// NegotiateCapabilities computes the agreed capability set between the
// locally advertised and remotely advertised capability lists: the
// intersection of protocol codes, keeping only the highest common version
// per code (ties broken in favor of the higher version, which is moot
// since versions are unique integers). The result is sorted
// lexicographically by protocol code.
func NegotiateCapabilities(local, remote []Capability) []Capability {
	remoteHas := make(map[Capability]bool, len(remote))
	bestRemote := make(map[string]uint)
	for _, c := range remote {
		remoteHas[c] = true
		if v, ok := bestRemote[c.Code]; !ok || c.Version > v {
			bestRemote[c.Code] = c.Version
		}
	}
	bestLocal := make(map[string]uint)
	for _, c := range local {
		if !remoteHas[c] {
			continue
		}
		if v, ok := bestLocal[c.Code]; !ok || c.Version > v {
			bestLocal[c.Code] = c.Version
		}
	}

	var agreed []Capability
	for code, lv := range bestLocal {
		rv, ok := bestRemote[code]
		if !ok {
			continue
		}
		v := lv
		if rv < v {
			v = rv
		}
		agreed = append(agreed, Capability{Code: code, Version: v})
	}
	sort.Sort(capsByCode(agreed))
	return agreed
}
