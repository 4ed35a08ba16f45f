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

package capabilities

import (
	"sort"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

func TestExchangeReturnsOnlyActiveMethods(t *testing.T) {
	ours := Table{
		"engine_newPayloadV1": true,
		"engine_newPayloadV2": true,
		"engine_oldMethod":    false,
	}
	peer := ParsePeerCapabilities([]string{"engine_newPayloadV1", "engine_newPayloadV2"})

	active := Exchange(ours, peer)
	sort.Strings(active)
	require.Equal(t, []string{"engine_newPayloadV1", "engine_newPayloadV2"}, active)
}

func TestExchangeWarnsButDoesNotFailOnMissingPeerCapability(t *testing.T) {
	ours := Table{"engine_newPayloadV3": true}
	peer := ParsePeerCapabilities(nil) // consensus client advertised nothing

	active := Exchange(ours, peer)
	require.Equal(t, []string{"engine_newPayloadV3"}, active)
}

func TestValidateAuthTokenAcceptsFreshToken(t *testing.T) {
	var secret [32]byte
	copy(secret[:], "0123456789abcdef0123456789abcdef")

	token, err := NewAuthToken(secret)
	require.NoError(t, err)

	err = ValidateAuthToken(secret, "Bearer "+token)
	require.NoError(t, err)
}

func TestValidateAuthTokenRejectsMissingHeader(t *testing.T) {
	var secret [32]byte
	err := ValidateAuthToken(secret, "")
	require.ErrorIs(t, err, ErrNoAuthHeader)
}

func TestValidateAuthTokenRejectsMalformedHeader(t *testing.T) {
	var secret [32]byte
	err := ValidateAuthToken(secret, "Basic dXNlcjpwYXNz")
	require.ErrorIs(t, err, ErrMalformedAuthHeader)
}

func TestValidateAuthTokenRejectsWrongSecret(t *testing.T) {
	var secret, other [32]byte
	copy(secret[:], "0123456789abcdef0123456789abcdef")
	copy(other[:], "ffffffffffffffffffffffffffffffff")

	token, err := NewAuthToken(secret)
	require.NoError(t, err)

	err = ValidateAuthToken(other, "Bearer "+token)
	require.Error(t, err)
}

func TestValidateAuthTokenRejectsStaleClaim(t *testing.T) {
	var secret [32]byte
	copy(secret[:], "0123456789abcdef0123456789abcdef")

	claims := jwt.MapClaims{jwtClaimIssuedAt: time.Now().Add(-time.Hour).Unix()}
	stale := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := stale.SignedString(secret[:])
	require.NoError(t, err)

	err = ValidateAuthToken(secret, "Bearer "+signed)
	require.ErrorIs(t, err, ErrStaleClaim)
}
