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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNegotiateCapabilitiesTakesIntersection(t *testing.T) {
	local := []Capability{{Code: "eth", Version: 66}, {Code: "snap", Version: 1}}
	remote := []Capability{{Code: "eth", Version: 66}, {Code: "les", Version: 4}}

	agreed := NegotiateCapabilities(local, remote)
	require.Equal(t, []Capability{{Code: "eth", Version: 66}}, agreed)
}

func TestNegotiateCapabilitiesPicksHighestCommonVersion(t *testing.T) {
	local := []Capability{{Code: "eth", Version: 65}, {Code: "eth", Version: 66}}
	remote := []Capability{{Code: "eth", Version: 62}, {Code: "eth", Version: 65}}

	agreed := NegotiateCapabilities(local, remote)
	require.Equal(t, []Capability{{Code: "eth", Version: 65}}, agreed)
}

func TestNegotiateCapabilitiesSortsLexicographically(t *testing.T) {
	local := []Capability{{Code: "snap", Version: 1}, {Code: "eth", Version: 66}, {Code: "les", Version: 4}}
	remote := local

	agreed := NegotiateCapabilities(local, remote)
	require.Equal(t, []Capability{
		{Code: "eth", Version: 66},
		{Code: "les", Version: 4},
		{Code: "snap", Version: 1},
	}, agreed)
}

func TestNegotiateCapabilitiesEmptyOnNoOverlap(t *testing.T) {
	local := []Capability{{Code: "eth", Version: 66}}
	remote := []Capability{{Code: "les", Version: 4}}

	require.Empty(t, NegotiateCapabilities(local, remote))
}

func TestCapabilityString(t *testing.T) {
	require.Equal(t, "eth/66", Capability{Code: "eth", Version: 66}.String())
	require.Equal(t, "snap/0", Capability{Code: "snap", Version: 0}.String())
}
