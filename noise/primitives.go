/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package noise implements the cryptographic core of the Noise_XX_25519_ChaChaPoly_SHA256
// handshake: symmetric primitives (C1), per-direction cipher state (C2), and the
// XX pattern handshake state machine (C3).
package noise

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	// KeySize is the size in bytes of a Curve25519 key (public or private),
	// a chaining key, a handshake hash, and a cipher key.
	KeySize = 32
	// TagSize is the size in bytes of the Poly1305 authentication tag.
	TagSize = chacha20poly1305.Overhead
	// NonceSize is the size in bytes of the AEAD nonce.
	NonceSize = chacha20poly1305.NonceSize

	protocolName = "Noise_XX_25519_ChaChaPoly_SHA256"
)

// PrivateKey is a Curve25519 scalar.
type PrivateKey [KeySize]byte

// PublicKey is a Curve25519 point.
type PublicKey [KeySize]byte

var (
	// ErrKeyAgreement is returned when a DH computation yields the all-zero
	// output, which the Noise specification treats as a fatal small-subgroup
	// result rather than a usable shared secret.
	ErrKeyAgreement = errors.New("noise: key agreement failure")
)

// GeneratePrivateKey returns a new clamped Curve25519 private key.
func GeneratePrivateKey() (PrivateKey, error) {
	var sk PrivateKey
	if _, err := rand.Read(sk[:]); err != nil {
		return PrivateKey{}, err
	}
	sk.clamp()
	return sk, nil
}

func (sk *PrivateKey) clamp() {
	sk[0] &= 248
	sk[31] &= 127
	sk[31] |= 64
}

// Public derives the Curve25519 public key for sk.
func (sk PrivateKey) Public() (PublicKey, error) {
	var pub PublicKey
	out, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, err
	}
	copy(pub[:], out)
	return pub, nil
}

// DH performs a Curve25519 key agreement between sk and pub. An all-zero
// result is rejected per the Noise specification.
func DH(sk PrivateKey, pub PublicKey) ([KeySize]byte, error) {
	var out [KeySize]byte
	raw, err := curve25519.X25519(sk[:], pub[:])
	if err != nil {
		return out, ErrKeyAgreement
	}
	copy(out[:], raw)
	if isZero(out[:]) {
		return out, ErrKeyAgreement
	}
	return out, nil
}

func isZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}

// Hash returns SHA-256(data).
func Hash(data ...[]byte) [KeySize]byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out [KeySize]byte
	copy(out[:], h.Sum(nil))
	return out
}

func hmacSHA256(key, data []byte) [KeySize]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	var out [KeySize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// HKDF2 implements the Noise protocol's two-output key derivation:
// temp_key = HMAC-SHA256(chainingKey, inputKeyMaterial)
// output1  = HMAC-SHA256(temp_key, 0x01)
// output2  = HMAC-SHA256(temp_key, output1 || 0x02)
//
// This is equivalent to RFC 5869 HKDF-Expand with an empty info string, but
// golang.org/x/crypto/hkdf exposes Expand only as a streaming io.Reader and
// does not give a clean way to ask for exactly the Noise-defined two-way
// split; the chained HMAC calls below are hand-rolled for that reason, the
// same way the teacher hand-rolls its own KDF2 rather than reaching for a
// generic HKDF package.
func HKDF2(chainingKey, inputKeyMaterial []byte) (out1, out2 [KeySize]byte) {
	tempKey := hmacSHA256(chainingKey, inputKeyMaterial)
	out1 = hmacSHA256(tempKey[:], []byte{0x01})
	out2 = hmacSHA256(tempKey[:], append(append([]byte{}, out1[:]...), 0x02))
	return out1, out2
}

// AEADEncrypt seals plaintext under key/nonce/associated-data, appending the
// result to dst and returning ciphertext||16-byte tag.
func AEADEncrypt(dst []byte, key [KeySize]byte, counter uint64, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(dst, nonceFor(counter), plaintext, ad), nil
}

// AEADDecrypt opens a ciphertext sealed by AEADEncrypt. A failed tag check
// returns ErrAuthTag and never modifies dst.
func AEADDecrypt(dst []byte, key [KeySize]byte, counter uint64, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	out, err := aead.Open(dst, nonceFor(counter), ciphertext, ad)
	if err != nil {
		return nil, ErrAuthTag
	}
	return out, nil
}

// ErrAuthTag is returned whenever an AEAD open fails authentication.
var ErrAuthTag = errors.New("noise: authentication tag mismatch")

// nonceFor builds the 12-byte Noise nonce: 4 zero bytes || little-endian
// 64-bit counter.
func nonceFor(counter uint64) []byte {
	var n [NonceSize]byte
	n[4] = byte(counter)
	n[5] = byte(counter >> 8)
	n[6] = byte(counter >> 16)
	n[7] = byte(counter >> 24)
	n[8] = byte(counter >> 32)
	n[9] = byte(counter >> 40)
	n[10] = byte(counter >> 48)
	n[11] = byte(counter >> 56)
	return n[:]
}

// ConstantTimeEqual reports whether a and b are identical without leaking
// timing information about the position of the first difference.
func ConstantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// SecureZero overwrites buf with zeros in a way the compiler cannot elide,
// mirroring the teacher's setZero helper.
func SecureZero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
