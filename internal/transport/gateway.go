// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

// Package transport wraps outbound API calls with bearer injection,
// preemptive refresh, and a single silent refresh-and-retry on 401.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowfarm/flowfarm/internal/apierr"
)

// Defaults.
const (
	DefaultTimeout = 10 * time.Second

	// maxBodySize bounds how much of a response is read.
	maxBodySize = 4 << 20
)

// HeaderRequestID correlates a call with server logs.
const HeaderRequestID = "X-Request-ID"

// DefaultPublicPaths never carry a bearer and are never retried.
var DefaultPublicPaths = []string{"/auth/login", "/auth/refresh"}

var tracer = otel.Tracer("flowfarm/transport")

// TokenSource is the gateway's read-only view of the token store.
type TokenSource interface {
	ValidAccessToken() (string, bool)
	ShouldPreemptivelyRefresh() bool
}

// SessionRefresher is the part of the session coordinator the gateway
// calls back into.
type SessionRefresher interface {
	// RefreshStale refreshes the session unless the current token already
	// differs from staleToken and is valid.
	RefreshStale(ctx context.Context, staleToken string) error
	// Invalidate tears the session down after an unrecoverable 401 on
	// rejectedToken. A session that has since moved to another token stays.
	Invalidate(ctx context.Context, rejectedToken string)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithTimeout sets the fixed per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithPublicPaths replaces the glob patterns of unauthenticated paths.
func WithPublicPaths(patterns ...string) Option {
	return func(g *Gateway) { g.publicPatterns = patterns }
}

// WithRefresher sets the session refresher. See also SetRefresher.
func WithRefresher(r SessionRefresher) Option {
	return func(g *Gateway) { g.SetRefresher(r) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// Gateway performs authenticated remote calls.
type Gateway struct {
	baseURL        *url.URL
	client         *http.Client
	tokens         TokenSource
	timeout        time.Duration
	publicPatterns []string
	public         []glob.Glob
	logger         *slog.Logger

	refresher atomic.Pointer[SessionRefresher]

	bg           sync.WaitGroup
	bgRefreshing atomic.Bool
	closed       atomic.Bool
}

// New creates a Gateway for baseURL.
func New(baseURL string, tokens TokenSource, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, oops.Code("TRANSPORT_INVALID_BASE_URL").With("base_url", baseURL).Wrap(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, oops.Code("TRANSPORT_INVALID_BASE_URL").With("base_url", baseURL).
			Errorf("base URL must be http or https")
	}
	if tokens == nil {
		return nil, oops.Code("TRANSPORT_INVALID_CONFIG").Errorf("token source is required")
	}

	g := &Gateway{
		baseURL:        u,
		client:         http.DefaultClient,
		tokens:         tokens,
		timeout:        DefaultTimeout,
		publicPatterns: DefaultPublicPaths,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.timeout <= 0 {
		return nil, oops.Code("TRANSPORT_INVALID_CONFIG").With("timeout", g.timeout).Errorf("timeout must be positive")
	}

	for _, p := range g.publicPatterns {
		compiled, err := glob.Compile(p, '/')
		if err != nil {
			return nil, oops.Code("TRANSPORT_INVALID_CONFIG").With("pattern", p).Wrap(err)
		}
		g.public = append(g.public, compiled)
	}
	return g, nil
}

// SetRefresher wires the session refresher after construction, breaking
// the coordinator/gateway construction cycle.
func (g *Gateway) SetRefresher(r SessionRefresher) {
	if r == nil {
		g.refresher.Store(nil)
		return
	}
	g.refresher.Store(&r)
}

// BaseURL returns the API base URL.
func (g *Gateway) BaseURL() string { return g.baseURL.String() }

// Close waits for background refreshes to finish. No new ones start after
// Close is called.
func (g *Gateway) Close() {
	g.closed.Store(true)
	g.bg.Wait()
}

// Do sends req. Non-2xx replies and transport failures are returned as
// *apierr.Error. A 401 on a non-public request that has not been retried
// triggers one refresh and one resend. Requests that set their own
// Authorization header never touch the session.
func (g *Gateway) Do(ctx context.Context, req *Request) (*Response, error) {
	public := g.isPublic(req)
	explicit := req.Header.Get("Authorization") != ""
	refresher := g.currentRefresher()

	var resp *Response
	backoff := retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, usedToken, err := g.send(ctx, req, public)
		if err != nil {
			return err
		}
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r
			return nil
		}

		failure := apierr.Classify(apierr.Failure{Response: &apierr.Response{StatusCode: r.StatusCode, Body: r.Body}})
		if failure.Kind != apierr.Unauthorized || public || explicit || req.retried || refresher == nil {
			return failure
		}

		req.retried = true
		if rerr := refresher.RefreshStale(ctx, usedToken); rerr != nil {
			g.logger.WarnContext(ctx, "refresh after 401 failed",
				"operation", "refresh_after_unauthorized",
				"path", req.Path,
				"error", rerr,
			)
			if !isTransient(rerr) {
				refresher.Invalidate(ctx, usedToken)
			}
			return failure
		}
		Retries.Inc()
		return retry.RetryableError(failure)
	})
	if err != nil {
		return nil, classified(err)
	}
	return resp, nil
}

// classified keeps Do's *apierr.Error contract. go-retry returns the bare
// context error when ctx ends between attempts.
func classified(err error) error {
	if _, ok := apierr.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apierr.Classify(apierr.Failure{Err: err})
	}
	return apierr.Wrap(apierr.Unknown, "", err)
}

// send performs one HTTP round-trip and returns the bearer it used.
func (g *Gateway) send(ctx context.Context, req *Request, public bool) (_ *Response, usedToken string, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "transport.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.Bool("auth.retry", req.retried),
		),
	)
	start := time.Now()
	outcome := OutcomeSuccess
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			outcome = string(apierr.KindOf(err))
		}
		RecordRequest(req.Method, outcome, time.Since(start))
		span.End()
	}()

	httpReq, err := g.buildRequest(ctx, req)
	if err != nil {
		return nil, "", err
	}

	if !public {
		if explicit := httpReq.Header.Get("Authorization"); explicit != "" {
			usedToken = strings.TrimPrefix(explicit, "Bearer ")
		} else {
			if tok, ok := g.tokens.ValidAccessToken(); ok {
				usedToken = tok
				httpReq.Header.Set("Authorization", "Bearer "+tok)
			}
			if !req.retried {
				g.maybePreemptiveRefresh(ctx, usedToken)
			}
		}
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, usedToken, apierr.Classify(apierr.Failure{Err: err})
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, usedToken, apierr.Classify(apierr.Failure{Err: err})
	}

	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))
	if httpResp.StatusCode >= 400 {
		outcome = string(apierr.FromStatus(httpResp.StatusCode, body).Kind)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, usedToken, nil
}

func (g *Gateway) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	u := g.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, oops.Code("TRANSPORT_ENCODE_FAILED").With("path", req.Path).Wrap(err)
		}
		body = bytes.NewReader(raw)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, oops.Code("TRANSPORT_INVALID_REQUEST").With("path", req.Path).Wrap(err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get(HeaderRequestID) == "" {
		httpReq.Header.Set(HeaderRequestID, ulid.Make().String())
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
	return httpReq, nil
}

// maybePreemptiveRefresh starts at most one background refresh at a time.
// It never blocks the current request.
func (g *Gateway) maybePreemptiveRefresh(ctx context.Context, token string) {
	refresher := g.currentRefresher()
	if refresher == nil || g.closed.Load() || !g.tokens.ShouldPreemptivelyRefresh() {
		return
	}
	if !g.bgRefreshing.CompareAndSwap(false, true) {
		return
	}

	PreemptiveRefreshes.Inc()
	g.bg.Add(1)
	go func() {
		defer g.bg.Done()
		defer g.bgRefreshing.Store(false)

		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		if err := refresher.RefreshStale(bgCtx, token); err != nil {
			g.logger.Warn("best-effort preemptive refresh failed",
				"operation", "preemptive_refresh",
				"error", err,
			)
		}
	}()
}

func (g *Gateway) currentRefresher() SessionRefresher {
	if p := g.refresher.Load(); p != nil {
		return *p
	}
	return nil
}

func (g *Gateway) isPublic(req *Request) bool {
	if req.Public {
		return true
	}
	path := "/" + strings.TrimLeft(req.Path, "/")
	for _, p := range g.public {
		if p.Match(path) {
			return true
		}
	}
	return false
}

func isTransient(err error) bool {
	e, ok := apierr.As(err)
	return ok && e.Transient()
}
