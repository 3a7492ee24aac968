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

var _ = Describe("Service over postgres", func() {
	var (
		ctx     context.Context
		service *auth.Service
	)

	guardCfg := auth.GuardConfig{
		Enabled:       true,
		MaxAttempts:   3,
		BlockDuration: 10 * time.Minute,
	}
	serviceCfg := auth.ServiceConfig{
		AutoLoginEnabled: true,
		SessionLifetime:  time.Hour,
	}

	BeforeEach(func() {
		ctx = context.Background()
		truncateAll(ctx)
		service = newTestService(guardCfg, serviceCfg)
	})

	It("registers and logs in", func() {
		Expect(service.Register(ctx, "Frodo", "underhill9", "underhill9", "10.0.0.1")).To(Succeed())

		registered, err := service.IsRegistered(ctx, "frodo")
		Expect(err).NotTo(HaveOccurred())
		Expect(registered).To(BeTrue())

		Expect(service.Login(ctx, "Frodo", "underhill9")).To(Succeed())
	})

	It("rejects a duplicate registration across service instances", func() {
		Expect(service.Register(ctx, "frodo", "underhill9", "underhill9", "")).To(Succeed())

		other := newTestService(guardCfg, serviceCfg)
		err := other.Register(ctx, "frodo", "different9", "different9", "")
		Expect(err).To(MatchError(auth.ErrAlreadyRegistered))
	})

	It("imposes a persisted block after repeated failures", func() {
		Expect(service.Register(ctx, "frodo", "underhill9", "underhill9", "")).To(Succeed())

		for range 2 {
			err := service.Login(ctx, "frodo", "wrong-password")
			Expect(err).To(MatchError(auth.ErrIncorrectPassword))
		}

		var blockedErr *auth.BlockedError
		err := service.Login(ctx, "frodo", "wrong-password")
		Expect(err).To(BeAssignableToTypeOf(blockedErr))

		// The deadline lives in the accounts table, so a fresh service
		// sees the block too.
		fresh := newTestService(guardCfg, serviceCfg)
		err = fresh.Login(ctx, "frodo", "underhill9")
		Expect(err).To(BeAssignableToTypeOf(blockedErr))

		until, repoErr := env.dataStore.Accounts().GetBlockedUntil(ctx, "frodo")
		Expect(repoErr).NotTo(HaveOccurred())
		Expect(until.After(time.Now())).To(BeTrue())
	})

	It("creates a session on manual finalize and resumes it", func() {
		Expect(service.Register(ctx, "frodo", "underhill9", "underhill9", "")).To(Succeed())
		Expect(service.Login(ctx, "frodo", "underhill9")).To(Succeed())

		token, err := service.FinalizeAuthentication(ctx, "frodo", auth.LoginManual, "10.0.0.1", "telnet")
		Expect(err).NotTo(HaveOccurred())
		Expect(token).NotTo(BeEmpty())
		Expect(service.IsAuthenticated("frodo")).To(BeTrue())

		session, err := env.dataStore.Sessions().Get(ctx, token)
		Expect(err).NotTo(HaveOccurred())
		Expect(session.Account).To(Equal("frodo"))

		// A later connection from the same address resumes without a
		// password.
		fresh := newTestService(guardCfg, serviceCfg)
		Expect(fresh.ResumeSession(ctx, "frodo", "10.0.0.1", "telnet")).To(Succeed())

		err = fresh.ResumeSession(ctx, "frodo", "192.168.0.99", "telnet")
		Expect(err).To(MatchError(auth.ErrSessionNotFound))
	})

	It("logout terminates standing sessions", func() {
		Expect(service.Register(ctx, "frodo", "underhill9", "underhill9", "")).To(Succeed())
		Expect(service.Login(ctx, "frodo", "underhill9")).To(Succeed())

		token, err := service.FinalizeAuthentication(ctx, "frodo", auth.LoginManual, "10.0.0.1", "telnet")
		Expect(err).NotTo(HaveOccurred())
		Expect(token).NotTo(BeEmpty())

		Expect(service.Logout(ctx, "frodo")).To(Succeed())
		Expect(service.IsAuthenticated("frodo")).To(BeFalse())

		_, err = env.dataStore.Sessions().Get(ctx, token)
		Expect(err).To(MatchError(auth.ErrSessionNotFound))
	})

	It("unregister removes the account and its sessions", func() {
		Expect(service.Register(ctx, "frodo", "underhill9", "underhill9", "")).To(Succeed())
		Expect(service.Login(ctx, "frodo", "underhill9")).To(Succeed())
		_, err := service.FinalizeAuthentication(ctx, "frodo", auth.LoginManual, "10.0.0.1", "telnet")
		Expect(err).NotTo(HaveOccurred())

		_, err = service.BeginUnregister(ctx, "frodo")
		Expect(err).NotTo(HaveOccurred())
		Expect(service.ConfirmUnregister(ctx, "frodo")).To(Succeed())

		registered, err := service.IsRegistered(ctx, "frodo")
		Expect(err).NotTo(HaveOccurred())
		Expect(registered).To(BeFalse())

		var count int
		err = env.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sessions WHERE account = $1", "frodo").Scan(&count)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(BeZero())
	})

	It("enforces the per-address registration quota", func() {
		limited := newTestService(guardCfg, auth.ServiceConfig{
			AutoLoginEnabled:        true,
			SessionLifetime:         time.Hour,
			MaxRegistrationsPerAddr: 1,
		})

		Expect(limited.Register(ctx, "frodo", "underhill9", "underhill9", "10.0.0.1")).To(Succeed())

		err := limited.Register(ctx, "sam", "gamgee-nine", "gamgee-nine", "10.0.0.1")
		Expect(err).To(MatchError(auth.ErrRateLimited))

		Expect(limited.Register(ctx, "sam", "gamgee-nine", "gamgee-nine", "10.0.0.2")).To(Succeed())
	})
})
