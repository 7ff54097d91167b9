/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package noise

import "errors"

// ErrNonceExhausted is returned by Encrypt when the 64-bit nonce counter
// would wrap. The direction is permanently unusable; the caller must force
// a rekey.
var ErrNonceExhausted = errors.New("noise: nonce counter exhausted")

// rejectAfter is the counter value that makes a direction unusable: the
// last message that can be encrypted uses nonce 2^64-2, and any attempt to
// encrypt once the counter has reached 2^64-1 fails. The value 2^64-1 is
// used only as the nonce of Rekey.
const rejectAfter = ^uint64(0)

// CipherState holds one direction's symmetric key and strictly monotone
// nonce counter, mirroring the teacher's per-direction Keypair but exposing
// the explicit rekey/clear operations the spec requires instead of
// discarding and re-handshaking a whole Keypair struct.
type CipherState struct {
	key     [KeySize]byte
	counter uint64
	valid   bool
}

// NewCipherState wraps an already-derived key.
func NewCipherState(key [KeySize]byte) *CipherState {
	return &CipherState{key: key, valid: true}
}

// EncryptWithAD encrypts plaintext under the next nonce and associated data,
// advancing the counter. It fails with ErrNonceExhausted once the counter
// has reached 2^64-1.
func (c *CipherState) EncryptWithAD(ad, plaintext []byte) ([]byte, error) {
	if !c.valid {
		return nil, ErrNonceExhausted
	}
	if c.counter == rejectAfter {
		c.valid = false
		return nil, ErrNonceExhausted
	}
	out, err := AEADEncrypt(nil, c.key, c.counter, ad, plaintext)
	if err != nil {
		return nil, err
	}
	c.counter++
	return out, nil
}

// DecryptWithAD authenticates and decrypts ciphertext under the next nonce.
// On an AEAD failure the counter is left unchanged, per the spec's "AuthTag
// failures don't alter session state" policy.
func (c *CipherState) DecryptWithAD(ad, ciphertext []byte) ([]byte, error) {
	out, err := AEADDecrypt(nil, c.key, c.counter, ad, ciphertext)
	if err != nil {
		return nil, err
	}
	c.counter++
	return out, nil
}

// Counter reports the current nonce counter (messages processed so far in
// this direction).
func (c *CipherState) Counter() uint64 {
	return c.counter
}

// Rekey replaces the key with AEAD(k, 2^64-1, "", zeros(32))[0:32] and resets
// the counter, per §4.4. The direction's nonce counter (and the "exhausted"
// latch) both reset; this is only called after the caller has decided to
// force a fresh handshake, so in practice the CipherState is discarded
// immediately afterward rather than reused — Rekey exists to match the spec
// contract precisely.
func (c *CipherState) Rekey() error {
	var zeros [KeySize]byte
	out, err := AEADEncrypt(nil, c.key, rejectAfter, nil, zeros[:])
	if err != nil {
		return err
	}
	copy(c.key[:], out[:KeySize])
	c.counter = 0
	c.valid = true
	return nil
}

// Clear zeroizes the key material.
func (c *CipherState) Clear() {
	SecureZero(c.key[:])
	c.counter = 0
	c.valid = false
}

// Key exposes the raw key for testing and for deriving channel-binding
// comparisons in tests; not used by the handshake/session logic itself.
func (c *CipherState) Key() [KeySize]byte {
	return c.key
}
