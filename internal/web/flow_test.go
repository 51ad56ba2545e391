// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web_test

import (
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/authtest"
	"github.com/gatehouse/gatehouse/internal/web"
)

var _ = Describe("Visitor journey", func() {
	var (
		ts     *httptest.Server
		client *http.Client
	)

	get := func(path string) (*http.Response, string) {
		resp, err := client.Get(ts.URL + path)
		Expect(err).NotTo(HaveOccurred())
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Body.Close()).To(Succeed())
		return resp, string(body)
	}

	postForm := func(path string, form url.Values) (*http.Response, string) {
		resp, err := client.PostForm(ts.URL+path, form)
		Expect(err).NotTo(HaveOccurred())
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Body.Close()).To(Succeed())
		return resp, string(body)
	}

	BeforeEach(func() {
		users := authtest.NewUserRepository()
		sessions := authtest.NewSessionRepository()

		minter, err := auth.NewTokenMinter("test-secret")
		Expect(err).NotTo(HaveOccurred())

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		svc, err := auth.NewServiceWithLogger(users, sessions, auth.NewArgon2idHasher(), minter, logger)
		Expect(err).NotTo(HaveOccurred())

		gate, err := auth.NewGate(svc, "/")
		Expect(err).NotTo(HaveOccurred())

		srv, err := web.NewServer("127.0.0.1:0", svc, gate, nil, logger)
		Expect(err).NotTo(HaveOccurred())

		ts = httptest.NewServer(srv.Handler())
		DeferCleanup(ts.Close)

		jar, err := cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
		client = &http.Client{Jar: jar}
	})

	It("walks a visitor from sign-up to logout", func() {
		By("visiting the landing page anonymously")
		resp, body := get("/")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring("Log in"))
		Expect(body).NotTo(ContainSubstring("Logged in as"))

		By("being turned away from the restricted page")
		_, body = get("/restricted")
		// The template escapes the apostrophe in the denial message.
		Expect(body).To(ContainSubstring(html.EscapeString(auth.DeniedMessage)))

		By("the denial message appearing only once")
		_, body = get("/")
		Expect(body).NotTo(ContainSubstring(html.EscapeString(auth.DeniedMessage)))

		By("signing up")
		resp, _ = postForm("/sign-up", url.Values{
			"username": {"alice"},
			"password": {"secret123"},
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		By("failing a login with the wrong password")
		_, body = postForm("/log-in", url.Values{
			"username": {"alice"},
			"password": {"badpassword"},
		})
		Expect(body).To(ContainSubstring("Incorrect password."))

		By("logging in with the right credentials")
		_, body = postForm("/log-in", url.Values{
			"username": {"alice"},
			"password": {"secret123"},
		})
		Expect(body).To(ContainSubstring("Logged in as alice."))

		By("reaching the restricted page with a per-session counter")
		_, body = get("/restricted")
		Expect(body).To(ContainSubstring("Hello alice."))
		Expect(body).To(ContainSubstring("viewed this page 1 time(s)"))

		_, body = get("/restricted")
		Expect(body).To(ContainSubstring("viewed this page 2 time(s)"))

		By("logging out")
		resp, body = get("/log-out")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).NotTo(ContainSubstring("Logged in as"))

		By("being anonymous again")
		_, body = get("/restricted")
		Expect(body).To(ContainSubstring(html.EscapeString(auth.DeniedMessage)))
	})
})
