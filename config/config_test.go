/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qalandarov/bitchat/session"
)

func TestDefaultMatchesSessionDefaultRekeyPolicy(t *testing.T) {
	cfg := Default()
	want := session.DefaultRekeyPolicy()
	assert.Equal(t, want, cfg.RekeyPolicy())
}

func TestDefaultManagerCallbackBuffer(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 64, cfg.Manager.CallbackBuffer)
}

func TestLoadParsesHumanReadableMaxAge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bitchat.yaml")
	doc := "rekey:\n  max_messages: 100\n  max_bytes: 2048\n  max_age: 1h\nmanager:\n  callback_buffer: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, time.Duration(cfg.Rekey.MaxAge))
	assert.Equal(t, uint64(100), cfg.Rekey.MaxMessages)
	assert.Equal(t, uint64(2048), cfg.Rekey.MaxBytes)
	assert.Equal(t, 8, cfg.Manager.CallbackBuffer)
}
