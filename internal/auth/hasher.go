// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

// Package auth provides the authentication core: accounts, sessions,
// credential hashing, the brute-force guard, and the business-rule service.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported hashing algorithm tags.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// Default argon2id parameters (OWASP-recommended).
const (
	DefaultArgon2Time    = 1         // iterations
	DefaultArgon2Memory  = 64 * 1024 // KiB
	DefaultArgon2Threads = 4
	argon2SaltLen        = 16
	argon2KeyLen         = 32
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides credential hashing and verification.
type PasswordHasher interface {
	// Algorithm returns the hasher's algorithm tag.
	Algorithm() string

	// Hash produces an encoded hash of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error on
	// an invalid hash.
	Verify(password, hash string) (bool, error)

	// NeedsRehash returns true if the hash's embedded parameters differ from
	// the hasher's current configuration, or if the hash was produced by a
	// different algorithm.
	NeedsRehash(hash string) bool
}

// HasherConfig selects the hashing algorithm and its cost parameters.
type HasherConfig struct {
	Algorithm     string
	Argon2Time    uint32
	Argon2Memory  uint32 // KiB
	Argon2Threads uint8
	BcryptCost    int
}

// NewHasher constructs the configured hasher. Unknown algorithm choices log
// a warning and fall back to argon2id with default parameters.
func NewHasher(cfg HasherConfig, logger *slog.Logger) PasswordHasher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch cfg.Algorithm {
	case AlgorithmArgon2id, "":
		return newArgon2idHasher(cfg)
	case AlgorithmBcrypt:
		cost := cfg.BcryptCost
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			cost = bcrypt.DefaultCost
		}
		return &BcryptHasher{cost: cost}
	default:
		logger.Warn("unknown hashing algorithm, falling back to argon2id",
			"algorithm", cfg.Algorithm)
		return NewArgon2idHasher()
	}
}

// Argon2idHasher implements PasswordHasher using argon2id with configurable
// cost parameters.
type Argon2idHasher struct {
	time    uint32
	memory  uint32
	threads uint8
}

// NewArgon2idHasher creates an Argon2idHasher with default parameters.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{
		time:    DefaultArgon2Time,
		memory:  DefaultArgon2Memory,
		threads: DefaultArgon2Threads,
	}
}

func newArgon2idHasher(cfg HasherConfig) *Argon2idHasher {
	h := NewArgon2idHasher()
	if cfg.Argon2Time > 0 {
		h.time = cfg.Argon2Time
	}
	if cfg.Argon2Memory > 0 {
		h.memory = cfg.Argon2Memory
	}
	if cfg.Argon2Threads > 0 {
		h.threads = cfg.Argon2Threads
	}
	return h
}

// Algorithm returns the argon2id tag.
func (h *Argon2idHasher) Algorithm() string { return AlgorithmArgon2id }

// Hash produces a PHC-format argon2id hash of the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	hash := argon2.IDKey([]byte(password), salt, h.time, h.memory, h.threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.time,
		h.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// Verify checks if the password matches the hash, using the parameters
// embedded in the hash itself.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	memory, time, threads, salt, expected, err := parseArgon2Hash(encodedHash)
	if err != nil {
		return false, err
	}

	keyLen := len(expected)
	if keyLen <= 0 || keyLen > 1<<30 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", keyLen)
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(keyLen))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// NeedsRehash returns true when the hash was produced by another algorithm or
// with cost parameters that differ from the current configuration.
func (h *Argon2idHasher) NeedsRehash(encodedHash string) bool {
	memory, time, threads, _, _, err := parseArgon2Hash(encodedHash)
	if err != nil {
		return true
	}
	return memory != h.memory || time != h.time || threads != h.threads
}

// parseArgon2Hash decodes a PHC-format argon2id hash.
func parseArgon2Hash(encodedHash string) (memory, timeCost uint32, threads uint8, salt, hash []byte, err error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return 0, 0, 0, nil, nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return 0, 0, 0, nil, nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	var threads32 uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads32); err != nil {
		return 0, 0, 0, nil, nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if threads32 > 255 {
		return 0, 0, 0, nil, nil, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d exceeds uint8 max", threads32)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return 0, 0, 0, nil, nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	return memory, timeCost, uint8(threads32), salt, hash, nil
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher with the given cost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Algorithm returns the bcrypt tag.
func (h *BcryptHasher) Algorithm() string { return AlgorithmBcrypt }

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return string(hash), nil
}

// Verify checks if the password matches the hash.
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
}

// NeedsRehash returns true when the hash is not bcrypt or was produced with
// a different cost.
func (h *BcryptHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.cost
}
