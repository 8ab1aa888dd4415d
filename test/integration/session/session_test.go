// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

//go:build integration

package session_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/flowfarm/flowfarm/internal/apierr"
	"github.com/flowfarm/flowfarm/internal/auth"
	"github.com/flowfarm/flowfarm/internal/session"
	"github.com/flowfarm/flowfarm/internal/transport"
)

var _ = Describe("Session lifecycle", func() {
	var s *stack

	AfterEach(func() {
		s.close()
	})

	Describe("login", func() {
		BeforeEach(func() {
			s = newStack()
		})

		It("rejects short identifiers without a network call", func() {
			_, err := s.login("ab", "secret1")

			Expect(err).To(HaveOccurred())
			Expect(apierr.KindOf(err)).To(Equal(apierr.Validation))
			Expect(s.backend.total()).To(BeZero())
			Expect(s.coord.State().Phase).To(Equal(session.PhaseAnonymous))
		})

		It("stores the session with the default one hour lifetime", func() {
			s.backend.script("/auth/login", loginOK("t1", "r1"))

			sess, err := s.login("erin", "secret1")

			Expect(err).NotTo(HaveOccurred())
			Expect(sess.AccessToken).To(Equal("t1"))
			Expect(sess.User.Role).To(Equal(auth.RoleEmployee))
			Expect(s.store.RemainingSeconds()).To(BeNumerically("~", 3600, 1))
			Expect(s.coord.State().Phase).To(Equal(session.PhaseAuthenticated))

			token, ok := s.store.ValidAccessToken()
			Expect(ok).To(BeTrue())
			Expect(token).To(Equal("t1"))
		})

		It("never sends the bearer on the login request", func() {
			s.backend.script("/auth/login", loginOK("t1", "r1"), loginOK("t2", "r2"))

			_, err := s.login("erin", "secret1")
			Expect(err).NotTo(HaveOccurred())
			_, err = s.login("erin", "secret1")
			Expect(err).NotTo(HaveOccurred())

			for _, r := range s.backend.requestsTo("/auth/login") {
				Expect(r.authorization).To(BeEmpty())
			}
		})
	})

	Describe("lockout", func() {
		BeforeEach(func() {
			s = newStack(session.WithLockoutPolicy(auth.LockoutPolicy{MaxAttempts: 3, Duration: 10 * time.Minute}))
			s.backend.script("/auth/login", unauthorized, unauthorized, unauthorized)
		})

		It("locks after the configured number of rejections and unlocks after the duration", func() {
			for range 3 {
				_, err := s.login("erin", "wrong12")
				Expect(apierr.KindOf(err)).To(Equal(apierr.Unauthorized))
			}
			Expect(s.coord.State().Phase).To(Equal(session.PhaseLocked))

			s.clock.Advance(90 * time.Second)
			_, err := s.login("erin", "secret1")
			locked, ok := apierr.As(err)
			Expect(ok).To(BeTrue())
			Expect(locked.Kind).To(Equal(apierr.Locked))
			Expect(locked.Message).To(ContainSubstring("8m30s"))
			Expect(s.backend.requestsTo("/auth/login")).To(HaveLen(3))

			s.clock.Advance(9 * time.Minute)
			s.backend.script("/auth/login", loginOK("t1", "r1"))
			_, err = s.login("erin", "secret1")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.coord.State().LoginAttempts).To(BeZero())
		})
	})

	Describe("authenticated calls", func() {
		BeforeEach(func() {
			s = newStack()
			s.backend.script("/auth/login", loginOK("t1", "r1"))
			_, err := s.login("erin", "secret1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("refreshes once on 401 and retries with the new token", func() {
			s.backend.script("/farms",
				reply{http.StatusUnauthorized, `{"success":false}`},
				reply{http.StatusOK, `{"success":true,"data":[]}`},
			)
			s.backend.script("/auth/refresh", refreshOK("t2"))

			resp, err := s.gateway.Do(s.ctx, transport.NewRequest(http.MethodGet, "/farms", nil))

			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			farms := s.backend.requestsTo("/farms")
			Expect(farms).To(HaveLen(2))
			Expect(farms[0].authorization).To(Equal("Bearer t1"))
			Expect(farms[1].authorization).To(Equal("Bearer t2"))

			refreshes := s.backend.requestsTo("/auth/refresh")
			Expect(refreshes).To(HaveLen(1))
			Expect(refreshes[0].authorization).To(BeEmpty())
			Expect(refreshes[0].body).To(MatchJSON(`{"refresh_token":"r1"}`))
		})

		It("retries at most once when the retried call is also rejected", func() {
			s.backend.script("/farms",
				reply{http.StatusUnauthorized, `{"success":false}`},
				reply{http.StatusUnauthorized, `{"success":false}`},
			)
			s.backend.script("/auth/refresh", refreshOK("t2"))

			_, err := s.gateway.Do(s.ctx, transport.NewRequest(http.MethodGet, "/farms", nil))

			Expect(apierr.KindOf(err)).To(Equal(apierr.Unauthorized))
			Expect(s.backend.requestsTo("/farms")).To(HaveLen(2))
			Expect(s.backend.requestsTo("/auth/refresh")).To(HaveLen(1))
		})

		It("signs out when the refresh token is rejected", func() {
			s.backend.script("/farms", reply{http.StatusUnauthorized, `{"success":false}`})
			s.backend.script("/auth/refresh", reply{http.StatusUnauthorized, `{"success":false,"message":"refresh token invalid"}`})

			_, err := s.gateway.Do(s.ctx, transport.NewRequest(http.MethodGet, "/farms", nil))

			Expect(apierr.KindOf(err)).To(Equal(apierr.Unauthorized))
			Expect(s.backend.requestsTo("/farms")).To(HaveLen(1))
			Expect(s.coord.State().Phase).To(Equal(session.PhaseAnonymous))
			_, ok := s.store.Read()
			Expect(ok).To(BeFalse())
		})

		It("keeps the session when the server is unreachable", func() {
			s.server.Close()

			_, err := s.coord.Refresh(s.ctx)

			Expect(apierr.KindOf(err)).To(Equal(apierr.Network))
			Expect(s.coord.State().Phase).To(Equal(session.PhaseAuthenticated))
			Expect(s.store.IsValid()).To(BeTrue())
		})

		It("revokes the token on logout and clears local state", func() {
			s.backend.script("/auth/logout", reply{http.StatusOK, `{"success":true}`})

			Expect(s.coord.Logout(s.ctx)).To(Succeed())

			logouts := s.backend.requestsTo("/auth/logout")
			Expect(logouts).To(HaveLen(1))
			Expect(logouts[0].authorization).To(Equal("Bearer t1"))
			Expect(s.coord.State().Phase).To(Equal(session.PhaseAnonymous))
		})
	})

	Describe("a session without a refresh token", func() {
		BeforeEach(func() {
			s = newStack()
			s.backend.script("/auth/login", reply{http.StatusOK,
				`{"success":true,"data":{"token":"t1","user":` + userJSON + `}}`})
			_, err := s.login("erin", "secret1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("is cleared on 401 without calling refresh", func() {
			s.backend.script("/farms", reply{http.StatusUnauthorized, `{"success":false}`})

			_, err := s.gateway.Do(s.ctx, transport.NewRequest(http.MethodGet, "/farms", nil))

			Expect(apierr.KindOf(err)).To(Equal(apierr.Unauthorized))
			Expect(s.backend.requestsTo("/auth/refresh")).To(BeEmpty())
			Expect(s.coord.State().Phase).To(Equal(session.PhaseAnonymous))
			Expect(s.store.IsValid()).To(BeFalse())
		})

		It("is cleared by a status check once expired", func() {
			s.clock.Advance(2 * time.Hour)

			state, err := s.coord.CheckStatus(s.ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(state.Phase).To(Equal(session.PhaseAnonymous))
			Expect(s.backend.requestsTo("/auth/me")).To(BeEmpty())
		})
	})
})
