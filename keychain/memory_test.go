/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package keychain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLoadOrCreateStaticIsStable(t *testing.T) {
	m := NewMemory()
	a, err := m.LoadOrCreateStatic()
	require.NoError(t, err)
	b, err := m.LoadOrCreateStatic()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMemoryTrustedFingerprint(t *testing.T) {
	m := NewMemory()
	trusted, err := m.TrustedFingerprint("abc123")
	require.NoError(t, err)
	assert.False(t, trusted)

	m.MarkTrusted("abc123")
	trusted, err = m.TrustedFingerprint("abc123")
	require.NoError(t, err)
	assert.True(t, trusted)
}

func TestMemorySecureClearZeroizes(t *testing.T) {
	m := NewMemory()
	buf := []byte("sensitive")
	m.SecureClear(buf)
	for _, b := range buf {
		assert.Zero(t, b)
	}
}
