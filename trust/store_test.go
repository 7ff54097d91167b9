/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRecordAndVerify(t *testing.T) {
	s := newTestStore(t)
	const fp = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"

	require.NoError(t, s.Record(fp))

	verified, err := s.IsVerified(fp)
	require.NoError(t, err)
	assert.False(t, verified)

	require.NoError(t, s.Verify(fp))

	verified, err = s.IsVerified(fp)
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestStoreIsVerifiedUnknownFingerprint(t *testing.T) {
	s := newTestStore(t)
	verified, err := s.IsVerified("0000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, verified)
}

func TestStoreVerifyWithoutPriorRecord(t *testing.T) {
	s := newTestStore(t)
	const fp = "cafebabecafebabecafebabecafebabecafebabecafebabecafebabecafebab"

	require.NoError(t, s.Verify(fp))

	verified, err := s.IsVerified(fp)
	require.NoError(t, err)
	assert.True(t, verified)
}
