// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

//go:build integration

package auth_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/wardstone/wardstone/internal/auth"
)

var _ = Describe("AccountRepository", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		truncateAll(ctx)
	})

	It("creates and retrieves an account", func() {
		createTestAccount(ctx, "arwen", "hash-1")

		account, err := env.dataStore.Accounts().Get(ctx, "arwen")
		Expect(err).NotTo(HaveOccurred())
		Expect(account.Name).To(Equal("arwen"))
		Expect(account.PasswordHash).To(Equal("hash-1"))
		Expect(account.Algorithm).To(Equal(auth.AlgorithmBcrypt))
		Expect(account.Locked).To(BeFalse())
		Expect(account.BlockedUntil.IsZero()).To(BeTrue())
	})

	It("returns ErrNotFound for an unknown name", func() {
		_, err := env.dataStore.Accounts().Get(ctx, "nobody")
		Expect(err).To(MatchError(auth.ErrNotFound))
	})

	It("rejects a duplicate name", func() {
		createTestAccount(ctx, "arwen", "hash-1")

		err := env.dataStore.Accounts().Create(ctx, &auth.Account{
			Name:         "arwen",
			PasswordHash: "hash-2",
			Algorithm:    auth.AlgorithmBcrypt,
			RegisteredAt: time.Now(),
		})
		Expect(err).To(MatchError(auth.ErrAlreadyRegistered))
	})

	It("reports existence", func() {
		createTestAccount(ctx, "arwen", "hash-1")

		exists, err := env.dataStore.Accounts().Exists(ctx, "arwen")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())

		exists, err = env.dataStore.Accounts().Exists(ctx, "elrond")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeFalse())
	})

	It("updates the credential hash and algorithm tag", func() {
		createTestAccount(ctx, "arwen", "hash-1")

		err := env.dataStore.Accounts().UpdatePassword(ctx, "arwen", "hash-2", auth.AlgorithmArgon2id)
		Expect(err).NotTo(HaveOccurred())

		account, err := env.dataStore.Accounts().Get(ctx, "arwen")
		Expect(err).NotTo(HaveOccurred())
		Expect(account.PasswordHash).To(Equal("hash-2"))
		Expect(account.Algorithm).To(Equal(auth.AlgorithmArgon2id))
	})

	It("round-trips the lock flag", func() {
		createTestAccount(ctx, "arwen", "hash-1")

		Expect(env.dataStore.Accounts().SetLocked(ctx, "arwen", true)).To(Succeed())

		account, err := env.dataStore.Accounts().Get(ctx, "arwen")
		Expect(err).NotTo(HaveOccurred())
		Expect(account.Locked).To(BeTrue())

		Expect(env.dataStore.Accounts().SetLocked(ctx, "arwen", false)).To(Succeed())

		account, err = env.dataStore.Accounts().Get(ctx, "arwen")
		Expect(err).NotTo(HaveOccurred())
		Expect(account.Locked).To(BeFalse())
	})

	It("persists and clears the block deadline", func() {
		createTestAccount(ctx, "arwen", "hash-1")

		until := time.Now().Add(10 * time.Minute).Truncate(time.Millisecond)
		Expect(env.dataStore.Accounts().SetBlockedUntil(ctx, "arwen", until)).To(Succeed())

		got, err := env.dataStore.Accounts().GetBlockedUntil(ctx, "arwen")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Unix()).To(Equal(until.Unix()))

		Expect(env.dataStore.Accounts().SetBlockedUntil(ctx, "arwen", time.Time{})).To(Succeed())

		got, err = env.dataStore.Accounts().GetBlockedUntil(ctx, "arwen")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.IsZero()).To(BeTrue())
	})

	It("deletes an account and cascades to its sessions", func() {
		createTestAccount(ctx, "arwen", "hash-1")
		createTestSession(ctx, "arwen", "10.0.0.1", "telnet", time.Now().Add(time.Hour))

		Expect(env.dataStore.Accounts().Delete(ctx, "arwen")).To(Succeed())

		_, err := env.dataStore.Accounts().Get(ctx, "arwen")
		Expect(err).To(MatchError(auth.ErrNotFound))

		var count int
		err = env.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sessions WHERE account = $1", "arwen").Scan(&count)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(BeZero())
	})

	It("counts registrations per source address", func() {
		now := time.Now()
		for _, name := range []string{"one", "two"} {
			err := env.dataStore.Accounts().Create(ctx, &auth.Account{
				Name:             name,
				PasswordHash:     "hash",
				Algorithm:        auth.AlgorithmBcrypt,
				RegisteredAt:     now,
				RegistrationAddr: "10.0.0.9",
			})
			Expect(err).NotTo(HaveOccurred())
		}

		count, err := env.dataStore.Accounts().CountByRegistrationAddr(ctx, "10.0.0.9")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(2))
	})
})

var _ = Describe("SessionRepository", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		truncateAll(ctx)
		createTestAccount(ctx, "arwen", "hash-1")
	})

	It("creates and retrieves a session by plaintext token", func() {
		expires := time.Now().Add(time.Hour)
		token := createTestSession(ctx, "arwen", "10.0.0.1", "telnet", expires)

		session, err := env.dataStore.Sessions().Get(ctx, token)
		Expect(err).NotTo(HaveOccurred())
		Expect(session.Account).To(Equal("arwen"))
		Expect(session.Address).To(Equal("10.0.0.1"))
		Expect(session.Device).To(Equal("telnet"))
	})

	It("returns ErrSessionNotFound for an unknown token", func() {
		_, err := env.dataStore.Sessions().Get(ctx, "deadbeef")
		Expect(err).To(MatchError(auth.ErrSessionNotFound))
	})

	It("evicts the least-recently-active session at the cap", func() {
		// The suite store is opened with MaxSessionsPerAccount = 2.
		first := createTestSession(ctx, "arwen", "10.0.0.1", "telnet", time.Now().Add(time.Hour))
		second := createTestSession(ctx, "arwen", "10.0.0.2", "web", time.Now().Add(time.Hour))

		// Make the first session the most recently active.
		firstSession, err := env.dataStore.Sessions().Get(ctx, first)
		Expect(err).NotTo(HaveOccurred())
		Expect(env.dataStore.Sessions().Touch(ctx, firstSession.TokenHash, time.Now().Add(time.Minute))).To(Succeed())

		third := createTestSession(ctx, "arwen", "10.0.0.3", "mobile", time.Now().Add(time.Hour))

		_, err = env.dataStore.Sessions().Get(ctx, second)
		Expect(err).To(MatchError(auth.ErrSessionNotFound))

		_, err = env.dataStore.Sessions().Get(ctx, first)
		Expect(err).NotTo(HaveOccurred())
		_, err = env.dataStore.Sessions().Get(ctx, third)
		Expect(err).NotTo(HaveOccurred())
	})

	It("lists sessions most recently active first", func() {
		older := createTestSession(ctx, "arwen", "10.0.0.1", "telnet", time.Now().Add(time.Hour))
		newer := createTestSession(ctx, "arwen", "10.0.0.2", "web", time.Now().Add(time.Hour))

		newerSession, err := env.dataStore.Sessions().Get(ctx, newer)
		Expect(err).NotTo(HaveOccurred())
		Expect(env.dataStore.Sessions().Touch(ctx, newerSession.TokenHash, time.Now().Add(time.Minute))).To(Succeed())

		sessions, err := env.dataStore.Sessions().ListByAccount(ctx, "arwen")
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(2))
		Expect(sessions[0].Address).To(Equal("10.0.0.2"))
		Expect(sessions[1].Address).To(Equal("10.0.0.1"))

		olderSession, err := env.dataStore.Sessions().Get(ctx, older)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions[1].TokenHash).To(Equal(olderSession.TokenHash))
	})

	It("refreshes expiry and last activity", func() {
		token := createTestSession(ctx, "arwen", "10.0.0.1", "telnet", time.Now().Add(time.Hour))

		session, err := env.dataStore.Sessions().Get(ctx, token)
		Expect(err).NotTo(HaveOccurred())

		newExpiry := time.Now().Add(24 * time.Hour)
		newActivity := time.Now().Add(time.Minute)
		Expect(env.dataStore.Sessions().Refresh(ctx, session.TokenHash, newExpiry, newActivity)).To(Succeed())

		refreshed, err := env.dataStore.Sessions().Get(ctx, token)
		Expect(err).NotTo(HaveOccurred())
		Expect(refreshed.ExpiresAt.Unix()).To(Equal(newExpiry.Unix()))
		Expect(refreshed.LastActivityAt.Unix()).To(Equal(newActivity.Unix()))
	})

	It("deletes all sessions for an account", func() {
		createTestSession(ctx, "arwen", "10.0.0.1", "telnet", time.Now().Add(time.Hour))
		createTestSession(ctx, "arwen", "10.0.0.2", "web", time.Now().Add(time.Hour))

		removed, err := env.dataStore.Sessions().DeleteByAccount(ctx, "arwen")
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(int64(2)))

		sessions, err := env.dataStore.Sessions().ListByAccount(ctx, "arwen")
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(BeEmpty())
	})

	It("sweeps expired sessions only", func() {
		expired := createTestSession(ctx, "arwen", "10.0.0.1", "telnet", time.Now().Add(-time.Minute))
		live := createTestSession(ctx, "arwen", "10.0.0.2", "web", time.Now().Add(time.Hour))

		removed, err := env.dataStore.Sessions().SweepExpired(ctx, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(int64(1)))

		_, err = env.dataStore.Sessions().Get(ctx, expired)
		Expect(err).To(MatchError(auth.ErrSessionNotFound))
		_, err = env.dataStore.Sessions().Get(ctx, live)
		Expect(err).NotTo(HaveOccurred())
	})
})
