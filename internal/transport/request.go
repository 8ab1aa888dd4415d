// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package transport

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/samber/oops"
)

// Request is one logical remote call. The retried flag travels with the
// request so concurrent calls never share a retry budget.
type Request struct {
	Method string
	// Path is relative to the gateway base URL, e.g. "/auth/me".
	Path   string
	Query  url.Values
	Body   any // JSON-encoded when non-nil
	Header http.Header

	// Public requests carry no bearer and are never retried.
	Public bool

	retried bool
}

// NewRequest creates a request for method and path.
func NewRequest(method, path string, body any) *Request {
	return &Request{Method: method, Path: path, Body: body, Header: http.Header{}}
}

// Retried reports whether this request was already resent once.
func (r *Request) Retried() bool { return r.retried }

// Response is a successful reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return oops.Code("TRANSPORT_EMPTY_BODY").With("status", r.StatusCode).Errorf("response body is empty")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return oops.Code("TRANSPORT_DECODE_FAILED").With("status", r.StatusCode).Wrap(err)
	}
	return nil
}
