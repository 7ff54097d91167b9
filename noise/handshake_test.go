/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustStatic(t *testing.T) PrivateKey {
	t.Helper()
	sk, err := GeneratePrivateKey()
	require.NoError(t, err)
	return sk
}

func TestXXHandshakeHappyPath(t *testing.T) {
	iStatic := mustStatic(t)
	rStatic := mustStatic(t)

	i, err := NewHandshakeState(Initiator, iStatic)
	require.NoError(t, err)
	r, err := NewHandshakeState(Responder, rStatic)
	require.NoError(t, err)

	msg1, err := i.WriteMessage()
	require.NoError(t, err)
	assert.Len(t, msg1, Message1Size)

	require.NoError(t, r.ReadMessage(msg1))
	msg2, err := r.WriteMessage()
	require.NoError(t, err)
	assert.Len(t, msg2, Message2Size)

	require.NoError(t, i.ReadMessage(msg2))
	msg3, err := i.WriteMessage()
	require.NoError(t, err)
	assert.Len(t, msg3, Message3Size)

	require.NoError(t, r.ReadMessage(msg3))

	assert.True(t, i.IsComplete())
	assert.True(t, r.IsComplete())
	assert.Equal(t, i.HandshakeHash(), r.HandshakeHash())

	iSend, iRecv, err := i.Split()
	require.NoError(t, err)
	rSend, rRecv, err := r.Split()
	require.NoError(t, err)

	assert.Equal(t, iSend.Key(), rRecv.Key())
	assert.Equal(t, iRecv.Key(), rSend.Key())

	iPub, err := iStatic.Public()
	require.NoError(t, err)
	rRemote, err := r.RemoteStatic()
	require.NoError(t, err)
	assert.Equal(t, iPub, rRemote)
}

func TestHandshakeSelfDial(t *testing.T) {
	shared := mustStatic(t)

	i, err := NewHandshakeState(Initiator, shared)
	require.NoError(t, err)
	r, err := NewHandshakeState(Responder, shared)
	require.NoError(t, err)

	msg1, _ := i.WriteMessage()
	require.NoError(t, r.ReadMessage(msg1))
	msg2, _ := r.WriteMessage()
	require.NoError(t, i.ReadMessage(msg2))
	msg3, _ := i.WriteMessage()
	require.NoError(t, r.ReadMessage(msg3))

	assert.True(t, i.SelfDial())
	assert.True(t, r.SelfDial())
}

func TestReadMessage1RejectsWrongLength(t *testing.T) {
	r, err := NewHandshakeState(Responder, mustStatic(t))
	require.NoError(t, err)
	err = r.ReadMessage(make([]byte, Message1Size-1))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSplitBeforeCompleteFails(t *testing.T) {
	i, err := NewHandshakeState(Initiator, mustStatic(t))
	require.NoError(t, err)
	_, _, err = i.Split()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestWriteMessageOutOfTurnFails(t *testing.T) {
	i, err := NewHandshakeState(Initiator, mustStatic(t))
	require.NoError(t, err)
	_, err = i.WriteMessage()
	require.NoError(t, err)
	// it is now the responder's turn; the initiator must not write again.
	_, err = i.WriteMessage()
	assert.ErrorIs(t, err, ErrInvalidState)
}
