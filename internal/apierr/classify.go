// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
)

// maxPlainBody caps how much of a non-JSON body becomes a message.
const maxPlainBody = 200

// Response is the part of a server reply the classifier looks at.
type Response struct {
	StatusCode int
	Body       []byte
}

// Failure is a remote call that did not succeed. Response is nil when no
// reply arrived, in which case Err carries the transport error.
type Failure struct {
	Err      error
	Response *Response
}

// Classify maps a failure to a classified Error. It never returns nil.
func Classify(f Failure) *Error {
	if f.Response == nil {
		return classifyTransport(f.Err)
	}

	status := f.Response.StatusCode
	b := parseBody(f.Response.Body)
	e := &Error{Status: status, Code: b.code, cause: f.Err}

	switch {
	case status == http.StatusBadRequest && b.validationShaped():
		e.Kind = Validation
		e.Fields = b.fields
		e.Message = b.validationMessage()
	case status == http.StatusUnauthorized:
		e.Kind = Unauthorized
		e.Message = b.text()
	case status == http.StatusForbidden:
		e.Kind = Forbidden
		e.Message = b.text()
	case status == http.StatusNotFound:
		e.Kind = NotFound
		e.Message = b.text()
	case status == http.StatusUnprocessableEntity:
		e.Kind = Validation
		e.Fields = b.fields
		e.Message = b.validationMessage()
	case status == http.StatusTooManyRequests:
		e.Kind = RateLimited
		e.Message = b.text()
	case status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		// The body of a proxy error page is noise; always suggest a retry.
		e.Kind = Unavailable
	case status >= http.StatusInternalServerError:
		e.Kind = ServerError
	default:
		e.Kind = Unknown
		e.Message = b.text()
	}

	if e.Message == "" {
		e.Message = DefaultMessage(e.Kind)
	}
	e.RequiresReauth = e.Kind == Unauthorized || b.code == CodeTokenExpired || b.code == CodeTokenInvalid
	return e
}

// FromStatus classifies a status code with a raw body.
func FromStatus(status int, body []byte) *Error {
	return Classify(Failure{Response: &Response{StatusCode: status, Body: body}})
}

func classifyTransport(err error) *Error {
	if err == nil {
		return New(Unknown, "")
	}
	if e, ok := As(err); ok {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return Wrap(Timeout, "", err)
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(Network, "request canceled", err)
	}
	return Wrap(Network, "", err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// body is the union of the error shapes the backends emit.
type body struct {
	plain      string
	message    string
	errText    string
	detailText string
	code       string
	details    []string
	fields     map[string]string
}

func parseBody(raw []byte) body {
	var b body
	if len(raw) == 0 {
		return b
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		text := strings.TrimSpace(string(raw))
		if !strings.HasPrefix(text, "<") {
			b.plain = truncate(text, maxPlainBody)
		}
		return b
	}

	switch t := v.(type) {
	case string:
		b.plain = t
	case map[string]any:
		b.message = stringField(t, "message")
		b.code = stringField(t, "code")
		switch ev := t["error"].(type) {
		case string:
			b.errText = ev
		case map[string]any:
			b.errText = stringField(ev, "message")
			if b.code == "" {
				b.code = stringField(ev, "code")
			}
		}
		switch dv := t["detail"].(type) {
		case string:
			b.detailText = dv
		case []any:
			b.parseDetailList(dv)
		}
		if ev, ok := t["errors"].([]any); ok {
			b.parseFieldList(ev)
		}
	}
	return b
}

// parseDetailList handles [{loc: [...], msg|message}, ...].
func (b *body) parseDetailList(items []any) {
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		msg := stringField(m, "msg")
		if msg == "" {
			msg = stringField(m, "message")
		}
		if msg == "" {
			msg = "field failed validation"
		}
		b.details = append(b.details, msg)
		if field := locField(m["loc"]); field != "" {
			b.setField(field, msg)
		}
	}
}

// parseFieldList handles [{field, message}, ...].
func (b *body) parseFieldList(items []any) {
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		field, msg := stringField(m, "field"), stringField(m, "message")
		if msg == "" {
			continue
		}
		if field == "" {
			b.details = append(b.details, msg)
			continue
		}
		b.setField(field, msg)
	}
}

func (b *body) setField(field, msg string) {
	if b.fields == nil {
		b.fields = map[string]string{}
	}
	if prev, ok := b.fields[field]; ok {
		msg = prev + ", " + msg
	}
	b.fields[field] = msg
}

func (b body) validationShaped() bool {
	return len(b.details) > 0 || len(b.fields) > 0
}

func (b body) text() string {
	for _, s := range []string{b.plain, b.message, b.errText, b.detailText} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (b body) validationMessage() string {
	switch {
	case b.message != "":
		return b.message
	case len(b.details) > 0:
		return strings.Join(b.details, ", ")
	case b.detailText != "":
		return b.detailText
	case len(b.fields) > 0:
		return joinFields(b.fields)
	case b.plain != "":
		return b.plain
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// locField returns the innermost string element of a loc path, skipping
// the leading "body"/"query" segment.
func locField(v any) string {
	parts, ok := v.([]any)
	if !ok {
		return ""
	}
	for i := len(parts) - 1; i >= 0; i-- {
		if s, ok := parts[i].(string); ok && s != "body" && s != "query" {
			return s
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
