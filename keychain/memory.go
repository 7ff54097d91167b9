/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package keychain defines the abstract long-term key store the session
// core consumes (spec.md §6), plus a reference in-memory implementation
// for tests and the demo binary. A production deployment is expected to
// supply its own KeyChain backed by a secure enclave or OS keystore.
package keychain

import (
	"sync"

	"github.com/qalandarov/bitchat/noise"
)

// KeyChain is the contract session.Manager is constructed with.
// TrustedFingerprint is optional: a reference implementation may always
// return (false, nil) and still satisfy the contract.
type KeyChain interface {
	LoadOrCreateStatic() (noise.PrivateKey, error)
	SecureClear(buf []byte)
	TrustedFingerprint(fp string) (bool, error)
}

// Memory is a reference KeyChain backed by process memory only. It
// generates a Curve25519 static keypair on first use and holds the
// private half for the lifetime of the Memory value; SecureClear zeroes
// only the buffer passed to it and does not wipe the held key. It never
// logs or returns the private key by value outside LoadOrCreateStatic.
type Memory struct {
	mu       sync.Mutex
	static   noise.PrivateKey
	haveKey  bool
	trusted  map[string]bool
}

// NewMemory constructs an empty in-memory keychain.
func NewMemory() *Memory {
	return &Memory{trusted: make(map[string]bool)}
}

// LoadOrCreateStatic returns the keychain's Curve25519 static private key,
// generating one on first call.
func (m *Memory) LoadOrCreateStatic() (noise.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.haveKey {
		return m.static, nil
	}
	sk, err := noise.GeneratePrivateKey()
	if err != nil {
		return noise.PrivateKey{}, err
	}
	m.static = sk
	m.haveKey = true
	return m.static, nil
}

// SecureClear overwrites buf with zeros in a way the compiler cannot
// elide, mirroring noise.SecureZero for callers that only import
// keychain.
func (m *Memory) SecureClear(buf []byte) {
	noise.SecureZero(buf)
}

// MarkTrusted records fp as a manually-verified fingerprint, for use by
// the demo CLI and tests. This does not persist across process restarts;
// trust.Store (C8) is the persisted alternative.
func (m *Memory) MarkTrusted(fp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trusted[fp] = true
}

// TrustedFingerprint reports whether fp was previously marked trusted.
func (m *Memory) TrustedFingerprint(fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trusted[fp], nil
}
