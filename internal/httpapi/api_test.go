// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package httpapi_test

import (
	"net/http"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

const password = "correct-horse-battery"

var _ = Describe("Auth API", func() {
	var env *apiEnv

	BeforeEach(func() {
		env = newAPIEnv()
	})

	Describe("health", func() {
		It("reports ok", func() {
			resp := env.do(http.MethodGet, "/health", nil)
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.body).To(HaveKeyWithValue("status", "ok"))
		})
	})

	Describe("unknown routes", func() {
		It("answers with a JSON 404", func() {
			resp := env.do(http.MethodGet, "/nope", nil)
			Expect(resp.status).To(Equal(http.StatusNotFound))
			Expect(resp.errorKind()).To(Equal("NOT_FOUND"))
		})

		It("answers with a JSON 405 for the wrong method", func() {
			resp := env.do(http.MethodDelete, "/users/login", nil)
			Expect(resp.status).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("POST /users/register", func() {
		It("creates the account and returns a session", func() {
			resp := env.do(http.MethodPost, "/users/register", map[string]string{
				"name": "Alice", "email": " Alice@Example.com ", "password": password,
			})
			Expect(resp.status).To(Equal(http.StatusCreated))
			Expect(resp.body).To(HaveKeyWithValue("email", "alice@example.com"))
			Expect(resp.body).To(HaveKeyWithValue("username", "alice"))
			Expect(resp.body).To(HaveKeyWithValue("isAdmin", false))
			Expect(resp.body).To(HaveKey("token"))
			Expect(resp.body).To(HaveKey("expiresAt"))
			Expect(resp.body).NotTo(HaveKey("passwordHash"))

			id, _ := resp.body["id"].(string)
			_, err := ulid.Parse(id)
			Expect(err).NotTo(HaveOccurred())

			Expect(resp.cookies).To(ContainElement(HaveField("Name", "token")))
		})

		It("rejects a duplicate email without naming the field", func() {
			env.register("Alice", "alice@example.com", password)
			resp := env.do(http.MethodPost, "/users/register", map[string]string{
				"name": "Other", "email": "alice@example.com", "username": "other", "password": password,
			})
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorKind()).To(Equal("AUTH_ALREADY_EXISTS"))
			Expect(resp.errorMessage()).NotTo(ContainSubstring("email"))
		})

		It("rejects a duplicate username regardless of case", func() {
			env.register("Alice", "alice@example.com", password)
			resp := env.do(http.MethodPost, "/users/register", map[string]string{
				"name": "Other", "email": "other@example.com", "username": "ALICE", "password": password,
			})
			Expect(resp.errorKind()).To(Equal("AUTH_ALREADY_EXISTS"))
		})

		DescribeTable("rejects invalid bodies",
			func(body any) {
				resp := env.do(http.MethodPost, "/users/register", body)
				Expect(resp.status).To(Equal(http.StatusBadRequest))
				Expect(resp.errorKind()).To(Equal("AUTH_VALIDATION"))
			},
			Entry("malformed JSON", `{"name":`),
			Entry("empty body", ""),
			Entry("missing password", map[string]string{"name": "A", "email": "a@example.com"}),
			Entry("unknown field", map[string]string{"name": "A", "email": "a@example.com", "password": password, "isAdmin": "true"}),
			Entry("bad email", map[string]string{"name": "A", "email": "not-an-email", "password": password}),
			Entry("short password", map[string]string{"name": "A", "email": "a@example.com", "password": "short"}),
			Entry("blank name", map[string]string{"name": "   ", "email": "a@example.com", "password": password}),
		)
	})

	Describe("POST /users/login", func() {
		BeforeEach(func() {
			env.register("Alice", "alice@example.com", password)
		})

		It("returns a session for valid credentials", func() {
			resp := env.do(http.MethodPost, "/users/login", map[string]string{
				"email": "ALICE@example.com", "password": password,
			})
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.body).To(HaveKeyWithValue("email", "alice@example.com"))
			Expect(resp.body).To(HaveKey("token"))
		})

		It("gives unknown email and wrong password the same answer", func() {
			wrong := env.do(http.MethodPost, "/users/login", map[string]string{
				"email": "alice@example.com", "password": "wrong-password",
			})
			unknown := env.do(http.MethodPost, "/users/login", map[string]string{
				"email": "nobody@example.com", "password": password,
			})
			Expect(wrong.status).To(Equal(http.StatusUnauthorized))
			Expect(unknown.status).To(Equal(http.StatusUnauthorized))
			Expect(wrong.body).To(Equal(unknown.body))
			Expect(wrong.errorKind()).To(Equal("AUTH_INVALID_CREDENTIALS"))
		})

		It("requires both fields", func() {
			resp := env.do(http.MethodPost, "/users/login", map[string]string{"email": "alice@example.com"})
			Expect(resp.status).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("profile", func() {
		var token string

		BeforeEach(func() {
			token = env.register("Alice", "alice@example.com", password)
		})

		It("returns the authenticated user", func() {
			resp := env.do(http.MethodGet, "/users/profile", nil, bearer(token)...)
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.body).To(HaveKeyWithValue("name", "Alice"))
			Expect(resp.body).To(HaveKeyWithValue("isAdmin", false))
		})

		It("accepts the session cookie", func() {
			resp := env.do(http.MethodGet, "/users/profile", nil, "Cookie", "token="+token)
			Expect(resp.status).To(Equal(http.StatusOK))
		})

		It("rejects a missing token", func() {
			resp := env.do(http.MethodGet, "/users/profile", nil)
			Expect(resp.status).To(Equal(http.StatusUnauthorized))
			Expect(resp.errorKind()).To(Equal("AUTH_UNAUTHENTICATED"))
			Expect(resp.errorMessage()).To(Equal("not authorized, no token provided"))
		})

		It("rejects a tampered token", func() {
			resp := env.do(http.MethodGet, "/users/profile", nil, bearer(token+"x")...)
			Expect(resp.status).To(Equal(http.StatusUnauthorized))
			Expect(resp.errorMessage()).To(Equal("not authorized, token verification failed"))
		})

		It("rejects a non-bearer scheme", func() {
			resp := env.do(http.MethodGet, "/users/profile", nil, "Authorization", "Basic "+token)
			Expect(resp.status).To(Equal(http.StatusUnauthorized))
		})

		It("updates profile fields", func() {
			resp := env.do(http.MethodPut, "/users/profile", map[string]string{"name": "Alice B"}, bearer(token)...)
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.body).To(HaveKeyWithValue("name", "Alice B"))
		})

		It("changes the password", func() {
			resp := env.do(http.MethodPut, "/users/profile", map[string]string{"password": "a-brand-new-secret"}, bearer(token)...)
			Expect(resp.status).To(Equal(http.StatusOK))

			login := env.do(http.MethodPost, "/users/login", map[string]string{
				"email": "alice@example.com", "password": "a-brand-new-secret",
			})
			Expect(login.status).To(Equal(http.StatusOK))
		})

		It("rejects an empty update", func() {
			resp := env.do(http.MethodPut, "/users/profile", map[string]string{}, bearer(token)...)
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorKind()).To(Equal("AUTH_VALIDATION"))
		})

		It("rejects taking another user's email", func() {
			env.register("Bob", "bob@example.com", password)
			resp := env.do(http.MethodPut, "/users/profile", map[string]string{"email": "bob@example.com"}, bearer(token)...)
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorKind()).To(Equal("AUTH_ALREADY_EXISTS"))
		})
	})

	Describe("admin", func() {
		var userToken, adminToken, userID string

		BeforeEach(func() {
			userToken = env.register("Alice", "alice@example.com", password)
			adminToken = env.register("Root", "root@example.com", password)
			env.promote("root@example.com")

			profile := env.do(http.MethodGet, "/users/profile", nil, bearer(userToken)...)
			userID, _ = profile.body["id"].(string)
		})

		It("lets an admin look up a user", func() {
			resp := env.do(http.MethodGet, "/admin/users/"+userID, nil, bearer(adminToken)...)
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.body).To(HaveKeyWithValue("email", "alice@example.com"))
		})

		It("forbids non-admins", func() {
			resp := env.do(http.MethodGet, "/admin/users/"+userID, nil, bearer(userToken)...)
			Expect(resp.status).To(Equal(http.StatusForbidden))
			Expect(resp.errorKind()).To(Equal("AUTH_FORBIDDEN"))
			Expect(resp.errorMessage()).To(Equal("access denied, admin privileges required"))
		})

		It("requires authentication first", func() {
			resp := env.do(http.MethodGet, "/admin/users/"+userID, nil)
			Expect(resp.status).To(Equal(http.StatusUnauthorized))
		})

		It("reports unknown and malformed ids as not found", func() {
			resp := env.do(http.MethodGet, "/admin/users/"+ulid.Make().String(), nil, bearer(adminToken)...)
			Expect(resp.status).To(Equal(http.StatusNotFound))
			Expect(resp.errorKind()).To(Equal("AUTH_USER_NOT_FOUND"))

			resp = env.do(http.MethodGet, "/admin/users/not-an-id", nil, bearer(adminToken)...)
			Expect(resp.status).To(Equal(http.StatusNotFound))
		})
	})

	Describe("password reset", func() {
		BeforeEach(func() {
			env.register("Alice", "alice@example.com", password)
		})

		It("gives the same answer for known and unknown emails", func() {
			known := env.do(http.MethodPost, "/users/forgot-password", map[string]string{"email": "alice@example.com"})
			unknown := env.do(http.MethodPost, "/users/forgot-password", map[string]string{"email": "nobody@example.com"})
			Expect(known.status).To(Equal(http.StatusOK))
			Expect(unknown.status).To(Equal(http.StatusOK))
			Expect(known.body).To(Equal(unknown.body))
			Expect(env.mail.count()).To(Equal(1))
		})

		It("requires an email", func() {
			resp := env.do(http.MethodPost, "/users/forgot-password", map[string]string{"email": ""})
			Expect(resp.status).To(Equal(http.StatusBadRequest))
		})

		It("reports delivery failure and withdraws the challenge", func() {
			Expect(env.do(http.MethodPost, "/users/forgot-password", map[string]string{"email": "alice@example.com"}).status).
				To(Equal(http.StatusOK))
			userID, token := env.mail.lastResetLink()

			env.mail.failNext(true)
			resp := env.do(http.MethodPost, "/users/forgot-password", map[string]string{"email": "alice@example.com"})
			Expect(resp.status).To(Equal(http.StatusBadGateway))
			Expect(resp.errorKind()).To(Equal("AUTH_EMAIL_DELIVERY_FAILED"))

			// The earlier link was replaced by the withdrawn one.
			check := env.do(http.MethodGet, "/users/reset-password/"+userID+"?token="+token, nil)
			Expect(check.status).To(Equal(http.StatusBadRequest))
		})

		It("completes the full flow once", func() {
			Expect(env.do(http.MethodPost, "/users/forgot-password", map[string]string{"email": "alice@example.com"}).status).
				To(Equal(http.StatusOK))
			userID, token := env.mail.lastResetLink()

			check := env.do(http.MethodGet, "/users/reset-password/"+userID+"?token="+token, nil)
			Expect(check.status).To(Equal(http.StatusOK))
			Expect(check.body).To(HaveKeyWithValue("valid", true))

			resp := env.do(http.MethodPost, "/users/reset-password/"+userID, map[string]string{
				"token": token, "newPassword": "a-brand-new-secret",
			})
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.body).To(HaveKey("message"))
			Expect(resp.body).NotTo(HaveKey("token"))

			oldLogin := env.do(http.MethodPost, "/users/login", map[string]string{"email": "alice@example.com", "password": password})
			Expect(oldLogin.status).To(Equal(http.StatusUnauthorized))
			newLogin := env.do(http.MethodPost, "/users/login", map[string]string{"email": "alice@example.com", "password": "a-brand-new-secret"})
			Expect(newLogin.status).To(Equal(http.StatusOK))

			replay := env.do(http.MethodPost, "/users/reset-password/"+userID, map[string]string{
				"token": token, "newPassword": "yet-another-secret",
			})
			Expect(replay.status).To(Equal(http.StatusBadRequest))
			Expect(replay.errorKind()).To(Equal("AUTH_INVALID_RESET_TOKEN"))
		})

		It("accepts the unscoped route", func() {
			env.do(http.MethodPost, "/users/forgot-password", map[string]string{"email": "alice@example.com"})
			_, token := env.mail.lastResetLink()

			resp := env.do(http.MethodPost, "/users/reset-password", map[string]string{
				"token": token, "newPassword": "a-brand-new-secret",
			})
			Expect(resp.status).To(Equal(http.StatusOK))
		})

		It("rejects a token scoped to another user", func() {
			env.do(http.MethodPost, "/users/forgot-password", map[string]string{"email": "alice@example.com"})
			_, token := env.mail.lastResetLink()

			resp := env.do(http.MethodPost, "/users/reset-password/"+ulid.Make().String(), map[string]string{
				"token": token, "newPassword": "a-brand-new-secret",
			})
			Expect(resp.errorKind()).To(Equal("AUTH_INVALID_RESET_TOKEN"))

			malformed := env.do(http.MethodPost, "/users/reset-password/not-a-ulid", map[string]string{
				"token": token, "newPassword": "a-brand-new-secret",
			})
			Expect(malformed.errorKind()).To(Equal("AUTH_INVALID_RESET_TOKEN"))
		})

		It("only honours the newest link", func() {
			env.do(http.MethodPost, "/users/forgot-password", map[string]string{"email": "alice@example.com"})
			userID, first := env.mail.lastResetLink()
			env.do(http.MethodPost, "/users/forgot-password", map[string]string{"email": "alice@example.com"})
			_, second := env.mail.lastResetLink()
			Expect(second).NotTo(Equal(first))

			stale := env.do(http.MethodGet, "/users/reset-password/"+userID+"?token="+first, nil)
			Expect(stale.status).To(Equal(http.StatusBadRequest))
			fresh := env.do(http.MethodGet, "/users/reset-password/"+userID+"?token="+second, nil)
			Expect(fresh.status).To(Equal(http.StatusOK))
		})

		It("validates the new password", func() {
			env.do(http.MethodPost, "/users/forgot-password", map[string]string{"email": "alice@example.com"})
			userID, token := env.mail.lastResetLink()

			resp := env.do(http.MethodPost, "/users/reset-password/"+userID, map[string]string{
				"token": token, "newPassword": "short",
			})
			Expect(resp.errorKind()).To(Equal("AUTH_VALIDATION"))

			// The challenge survives a rejected attempt.
			check := env.do(http.MethodGet, "/users/reset-password/"+userID+"?token="+token, nil)
			Expect(check.status).To(Equal(http.StatusOK))
		})
	})
})
