/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package trust implements the optional persisted store of verified
// long-term fingerprints mentioned in spec.md §6 ("optional trust storage
// for verified fingerprints, not required by the session core"). Nothing
// in package session or package noise imports this package; it is wired
// up only by the demo CLI and by tests that want persisted verification
// state across runs.
package trust

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Fingerprint is the persisted record of one long-term key's hex
// SHA-256 fingerprint (see session.Fingerprint) and whether a human has
// verified it out-of-band.
type Fingerprint struct {
	Hex        string `gorm:"primaryKey"`
	Verified   bool
	VerifiedAt time.Time
}

// Store wraps a *gorm.DB holding the Fingerprint table.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) a SQLite-backed trust store at path.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Fingerprint{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Record inserts fp as a known, unverified fingerprint if it is not
// already present. Recording an already-present fingerprint is a no-op
// and does not clear an existing Verified flag.
func (s *Store) Record(fp string) error {
	return s.db.FirstOrCreate(&Fingerprint{Hex: fp}, Fingerprint{Hex: fp}).Error
}

// Verify marks fp as verified at the current time, recording it first if
// it was not already known.
func (s *Store) Verify(fp string) error {
	rec := Fingerprint{Hex: fp, Verified: true, VerifiedAt: time.Now()}
	return s.db.Save(&rec).Error
}

// IsVerified reports whether fp has been recorded and marked verified.
// An unknown fingerprint reports (false, nil), not an error.
func (s *Store) IsVerified(fp string) (bool, error) {
	var rec Fingerprint
	err := s.db.First(&rec, "hex = ?", fp).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Verified, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
