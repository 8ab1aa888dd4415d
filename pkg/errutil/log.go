// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package errutil

import (
	"log/slog"

	"github.com/samber/oops"

	"github.com/flowfarm/flowfarm/internal/apierr"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code, and context.
// Classified remote failures also log their kind and HTTP status.
// For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, Attrs(err)...)
}

// LogWarn is LogError at warning level, for failures the caller tolerates.
func LogWarn(logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, Attrs(err)...)
}

// Attrs returns the structured attributes describing err.
func Attrs(err error) []any {
	var attrs []any
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs = append(attrs, "error", oopsErr.Error())
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
	} else {
		attrs = append(attrs, "error", err)
	}

	if classified, ok := apierr.As(err); ok {
		attrs = append(attrs, "kind", string(classified.Kind))
		if classified.Status > 0 {
			attrs = append(attrs, "status", classified.Status)
		}
	}
	return attrs
}
