// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

//go:build integration

package session_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/flowfarm/flowfarm/internal/api"
	"github.com/flowfarm/flowfarm/internal/auth"
	"github.com/flowfarm/flowfarm/internal/session"
	"github.com/flowfarm/flowfarm/internal/tokenstore"
	"github.com/flowfarm/flowfarm/internal/transport"
)

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Integration Suite")
}

// reply is one scripted HTTP response.
type reply struct {
	status int
	body   string
}

// recorded is one request the backend saw.
type recorded struct {
	path          string
	authorization string
	body          string
}

// backend serves scripted replies per path. A path with no script left
// answers 404.
type backend struct {
	mu       sync.Mutex
	scripts  map[string][]reply
	requests []recorded
}

func newBackend() *backend {
	return &backend{scripts: map[string][]reply{}}
}

func (b *backend) script(path string, replies ...reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[path] = append(b.scripts[path], replies...)
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")

	b.mu.Lock()
	b.requests = append(b.requests, recorded{path: path, authorization: r.Header.Get("Authorization"), body: string(body)})
	var next reply
	if queue := b.scripts[path]; len(queue) > 0 {
		next, b.scripts[path] = queue[0], queue[1:]
	} else {
		next = reply{status: http.StatusNotFound, body: `{"success":false,"message":"no script"}`}
	}
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(next.status)
	_, _ = io.WriteString(w, next.body)
}

// requestsTo returns the requests seen for path.
func (b *backend) requestsTo(path string) []recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recorded
	for _, r := range b.requests {
		if r.path == path {
			out = append(out, r)
		}
	}
	return out
}

func (b *backend) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

// clock is a settable time source shared by the store and the coordinator.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stack is a fully wired client against the scripted backend.
type stack struct {
	ctx     context.Context
	server  *httptest.Server
	backend *backend
	clock   *clock
	store   *tokenstore.Store
	gateway *transport.Gateway
	coord   *session.Coordinator
}

func newStack(opts ...session.Option) *stack {
	s := &stack{
		ctx:     context.Background(),
		backend: newBackend(),
		clock:   &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	s.server = httptest.NewServer(s.backend)

	logger := slog.New(slog.NewTextHandler(GinkgoWriter, nil))
	s.store = tokenstore.NewMemory(tokenstore.WithNowFunc(s.clock.Now))

	gw, err := transport.New(s.server.URL+"/api/v1", s.store,
		transport.WithPublicPaths(api.DefaultEndpoints().PublicPaths()...),
		transport.WithLogger(logger),
	)
	Expect(err).NotTo(HaveOccurred())
	s.gateway = gw

	base := []session.Option{session.WithNowFunc(s.clock.Now), session.WithLogger(logger)}
	s.coord = session.New(api.NewClient(gw, api.DefaultEndpoints()), s.store, append(base, opts...)...)
	gw.SetRefresher(s.coord)
	return s
}

func (s *stack) close() {
	s.gateway.Close()
	s.server.Close()
}

func (s *stack) login(identifier, secret string) (*auth.Session, error) {
	return s.coord.Login(s.ctx, auth.Credentials{Identifier: identifier, Secret: secret})
}

const userJSON = `{"id":7,"username":"erin","role":"employee","status":"active","created_at":"2026-01-05T10:00:00"}`

func loginOK(token, refresh string) reply {
	return reply{http.StatusOK, `{"success":true,"data":{"token":"` + token + `","refreshToken":"` + refresh + `","user":` + userJSON + `}}`}
}

func refreshOK(token string) reply {
	return reply{http.StatusOK, `{"success":true,"data":{"token":"` + token + `","expiresIn":3600}}`}
}

var unauthorized = reply{http.StatusUnauthorized, `{"success":false,"message":"invalid username or password"}`}
