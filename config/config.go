/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package config loads the operational knobs spec.md leaves to the
// deployer: rekey thresholds and manager tuning, read from YAML so an
// operator can override SPEC_FULL.md §4.4's defaults without recompiling.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qalandarov/bitchat/session"
)

// Duration wraps time.Duration so it can be written as a human-readable
// string in YAML (e.g. "1h30m") instead of a raw nanosecond integer, which
// yaml.v3 cannot coerce into an int64-backed field on its own.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler, accepting either a duration
// string ("1h") or a bare integer number of nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler, writing the duration back out in
// its human-readable form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Rekey mirrors session.RekeyPolicy in YAML-friendly form.
type Rekey struct {
	MaxMessages uint64   `yaml:"max_messages"`
	MaxBytes    uint64   `yaml:"max_bytes"`
	MaxAge      Duration `yaml:"max_age"`
}

// Manager holds manager-level tuning.
type Manager struct {
	// CallbackBuffer bounds how many pending on_established/on_failed
	// dispatches session.Manager's single ordered dispatcher goroutine
	// will queue before a caller's Initiate/HandleIncoming call blocks;
	// pass it to session.NewManager via session.WithCallbackBuffer.
	CallbackBuffer int `yaml:"callback_buffer"`
}

// Config is the top-level document loaded from YAML.
type Config struct {
	Rekey   Rekey   `yaml:"rekey"`
	Manager Manager `yaml:"manager"`
}

// Default returns the configuration matching SPEC_FULL.md §4.10's stated
// defaults, identical to session.DefaultRekeyPolicy().
func Default() *Config {
	d := session.DefaultRekeyPolicy()
	return &Config{
		Rekey: Rekey{
			MaxMessages: d.MaxMessages,
			MaxBytes:    d.MaxBytes,
			MaxAge:      Duration(d.MaxAge),
		},
		Manager: Manager{CallbackBuffer: 64},
	}
}

// Load reads and parses a YAML config file at path. Fields absent from
// the file keep Default()'s values.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RekeyPolicy converts the loaded configuration into a session.RekeyPolicy.
func (c *Config) RekeyPolicy() session.RekeyPolicy {
	return session.RekeyPolicy{
		MaxMessages: c.Rekey.MaxMessages,
		MaxBytes:    c.Rekey.MaxBytes,
		MaxAge:      time.Duration(c.Rekey.MaxAge),
	}
}
