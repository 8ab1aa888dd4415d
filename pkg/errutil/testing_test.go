// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/flowfarm/flowfarm/internal/apierr"
	"github.com/flowfarm/flowfarm/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("MY_CODE").Errorf("test error")
	// Should not fail
	errutil.AssertErrorCode(t, err, "MY_CODE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("user_id", "123").Errorf("test error")
	// Should not fail
	errutil.AssertErrorContext(t, err, "user_id", "123")
}

func TestAssertKind_ThroughWrap(t *testing.T) {
	err := oops.Code("AUTH_LOGIN_FAILED").Wrap(apierr.New(apierr.Timeout, ""))
	classified := errutil.AssertKind(t, err, apierr.Timeout)
	assert.True(t, classified.Transient())
}
