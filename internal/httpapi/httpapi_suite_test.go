// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/auth/memory"
	"github.com/storefront/storefront/internal/httpapi"
	"github.com/storefront/storefront/internal/mail"
)

func TestHTTPAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HTTP API Suite")
}

var resetLinkPattern = regexp.MustCompile(`/reset-password/([0-9A-Z]{26})\?token=([0-9a-f]{64})`)

// outbox records sent mail and can be switched to fail.
type outbox struct {
	mu   sync.Mutex
	sent []mail.Message
	fail bool
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return io.ErrUnexpectedEOF
	}
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) failNext(fail bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail = fail
}

// lastResetLink returns the user id and token of the most recent reset mail.
func (o *outbox) lastResetLink() (userID, token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	Expect(o.sent).NotTo(BeEmpty())
	m := resetLinkPattern.FindStringSubmatch(o.sent[len(o.sent)-1].Body)
	Expect(m).To(HaveLen(3))
	return m[1], m[2]
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

// apiEnv is a running API over an in-memory store.
type apiEnv struct {
	server *httptest.Server
	users  *memory.UserRepository
	mail   *outbox
}

func newAPIEnv() *apiEnv {
	users := memory.NewUserRepository()
	box := &outbox{}
	tokens, err := auth.NewJWTIssuer(auth.TokenConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		TTL:    time.Hour,
		Issuer: "storefront-test",
	}, nil)
	Expect(err).NotTo(HaveOccurred())

	svc, err := auth.NewService(auth.ServiceDeps{
		Users:  users,
		Hasher: auth.NewArgon2idHasher(),
		Tokens: tokens,
		Mailer: box,
	}, auth.ServiceConfig{ResetURLBase: "https://shop.example.com/reset-password"})
	Expect(err).NotTo(HaveOccurred())

	api, err := httpapi.New(svc, httpapi.Options{})
	Expect(err).NotTo(HaveOccurred())

	env := &apiEnv{server: httptest.NewServer(api.Routes()), users: users, mail: box}
	DeferCleanup(env.server.Close)
	return env
}

type response struct {
	status  int
	body    map[string]any
	cookies []*http.Cookie
}

func (r response) errorKind() string {
	e, ok := r.body["error"].(map[string]any)
	if !ok {
		return ""
	}
	kind, _ := e["kind"].(string)
	return kind
}

func (r response) errorMessage() string {
	e, ok := r.body["error"].(map[string]any)
	if !ok {
		return ""
	}
	msg, _ := e["message"].(string)
	return msg
}

// do sends a request. body may be a string (sent verbatim) or a value to be
// JSON encoded. Extra headers are passed as name, value pairs.
func (e *apiEnv) do(method, path string, body any, headers ...string) response {
	GinkgoHelper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := e.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	out := response{status: resp.StatusCode, cookies: resp.Cookies()}
	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	if len(raw) > 0 {
		Expect(json.Unmarshal(raw, &out.body)).To(Succeed(), "body: %s", raw)
	}
	return out
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

// register creates an account and returns its token.
func (e *apiEnv) register(name, email, password string) string {
	GinkgoHelper()
	resp := e.do(http.MethodPost, "/users/register", map[string]string{
		"name": name, "email": email, "password": password,
	})
	Expect(resp.status).To(Equal(http.StatusCreated), "body: %v", resp.body)
	token, _ := resp.body["token"].(string)
	Expect(token).NotTo(BeEmpty())
	return token
}

// promote makes the account with email an administrator.
func (e *apiEnv) promote(email string) {
	GinkgoHelper()
	ctx := context.Background()
	u, err := e.users.GetByEmail(ctx, email)
	Expect(err).NotTo(HaveOccurred())
	Expect(e.users.SetAdmin(ctx, u.ID, true)).To(Succeed())
}
