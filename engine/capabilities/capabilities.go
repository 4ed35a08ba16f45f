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

// Package capabilities implements the advisory engine-API capability
// exchange between this node and its attached consensus client, plus
// the JWT bearer-auth primitive that gates the engine transport.
package capabilities

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/golang-jwt/jwt/v4"
)

// Table maps an engine RPC method name to whether this node currently
// supports it. Disabled entries stay in the table so Exchange can still
// warn about a consensus client that still expects them.
type Table map[string]bool

// DefaultTable mirrors the method set the post-merge engine API exposes.
func DefaultTable() Table {
	return Table{
		"engine_newPayloadV1":                      true,
		"engine_newPayloadV2":                      true,
		"engine_newPayloadV3":                      true,
		"engine_forkchoiceUpdatedV1":                true,
		"engine_forkchoiceUpdatedV2":                true,
		"engine_forkchoiceUpdatedV3":                true,
		"engine_getPayloadV1":                       true,
		"engine_getPayloadV2":                       true,
		"engine_getPayloadV3":                       true,
		"engine_exchangeTransitionConfigurationV1": true,
		"engine_getPayloadBodiesByHashV1":           true,
		"engine_getPayloadBodiesByRangeV1":          true,
	}
}

// Exchange reconciles this node's active engine methods against the set
// advertised by the attached consensus client, per spec.md §4.I. It
// returns the names of every locally active method and logs a warning,
// one per method, for every locally active method the consensus client
// did not advertise. The exchange never rejects or disconnects a peer;
// a missing capability is a compatibility signal, not a fatal error.
func Exchange(ours Table, peerCapabilities map[string]struct{}) []string {
	var active []string
	for method, enabled := range ours {
		if !enabled {
			continue
		}
		active = append(active, method)
		if _, ok := peerCapabilities[method]; !ok {
			log.Warn("Consensus client missing engine capability", "method", method)
		}
	}
	return active
}

// ParsePeerCapabilities turns the flat list a consensus client advertises
// (e.g. from engine_exchangeCapabilities) into the set Exchange expects.
func ParsePeerCapabilities(methods []string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return set
}

const jwtClaimIssuedAt = "iat"

// jwtClockSkew bounds how far a token's "iat" claim may drift from this
// node's clock, per the Engine API authentication specification.
const jwtClockSkew = 5 * time.Second

var (
	// ErrNoAuthHeader reports a request with no Authorization header.
	ErrNoAuthHeader = errors.New("capabilities: missing Authorization header")
	// ErrMalformedAuthHeader reports a header that isn't "Bearer <token>".
	ErrMalformedAuthHeader = errors.New("capabilities: malformed Authorization header")
	// ErrStaleClaim reports an "iat" claim too far from the local clock.
	ErrStaleClaim = errors.New("capabilities: iat claim outside permitted clock skew")
)

// ValidateAuthToken checks the bearer token carried in an engine API
// request's Authorization header against the shared secret, per the
// Engine API's JWT authentication requirement. It validates the HS256
// signature and the "iat" claim's freshness; it does not interpret any
// other claim.
func ValidateAuthToken(secret [32]byte, header string) error {
	if header == "" {
		return ErrNoAuthHeader
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ErrMalformedAuthHeader
	}
	raw := strings.TrimPrefix(header, prefix)

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("capabilities: unexpected signing method %v", t.Header["alg"])
		}
		return secret[:], nil
	})
	if err != nil {
		return fmt.Errorf("capabilities: %w", err)
	}

	iat, ok := claims[jwtClaimIssuedAt].(float64)
	if !ok {
		return ErrStaleClaim
	}
	skew := time.Since(time.Unix(int64(iat), 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > jwtClockSkew {
		return ErrStaleClaim
	}
	return nil
}

// NewAuthToken mints a bearer token for outbound requests this node
// makes to a consensus client-side engine endpoint (the relationship is
// symmetric: either side may initiate the authenticated connection).
func NewAuthToken(secret [32]byte) (string, error) {
	claims := jwt.MapClaims{jwtClaimIssuedAt: time.Now().Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret[:])
}
