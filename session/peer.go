/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package session

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/qalandarov/bitchat/noise"
)

// PeerID is the canonical form of a peer identifier. NormalizePeerID
// reduces a 64-hex long id to its 16-hex short id and keeps every other
// valid identifier exactly as given (letter case included). Equality and
// hashing (it is used directly as a Go map key) compare the string as is.
type PeerID string

var validPeer = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
var pureHex = regexp.MustCompile(`^[0-9A-Fa-f]+$`)

// Valid reports whether s is an acceptable peer identifier: it must match
// [A-Za-z0-9_-]{1,64}, and if it is purely hex digits its length must be
// 16 (short id) or 64 (long id).
func Valid(s string) bool {
	if !validPeer.MatchString(s) {
		return false
	}
	if pureHex.MatchString(s) {
		return len(s) == 16 || len(s) == 64
	}
	return true
}

// NormalizePeerID accepts either a 16-hex-character short id or a
// 64-hex-character long id (the hex encoding of a 32-byte Curve25519
// public key) and returns the canonical short-id form. A long id is
// shortened to the first 8 bytes of SHA-256 of the decoded 32-byte key.
func NormalizePeerID(s string) (PeerID, error) {
	if !Valid(s) {
		return "", NewError(Malformed, nil)
	}
	if pureHex.MatchString(s) && len(s) == 64 {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return "", NewError(Malformed, err)
		}
		return PeerIDFromLongTermKey(raw), nil
	}
	return PeerID(s), nil
}

// PeerIDFromLongTermKey derives the canonical short id for a 32-byte
// long-term public key: the first 8 bytes of SHA-256(key), hex-encoded.
func PeerIDFromLongTermKey(pub []byte) PeerID {
	sum := sha256.Sum256(pub)
	return PeerID(hex.EncodeToString(sum[:8]))
}

// Fingerprint returns the lowercase hex SHA-256 of a 32-byte long-term
// public key, as used by the optional trust store (§4.8).
func Fingerprint(pub noise.PublicKey) string {
	sum := sha256.Sum256(pub[:])
	return hex.EncodeToString(sum[:])
}
