// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err is an oops error whose code, as reported
// by Code, is code.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	require.Error(t, err)
	_, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext asserts that err carries key=value in its oops context.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	ctx := errorContext(t, err)
	require.Contains(t, ctx, key, "error: %v", err)
	assert.Equal(t, value, ctx[key], "context key %q", key)
}

// AssertNoErrorContext asserts that key is absent from err's oops context.
// Errors returned to API callers must not leak internal detail this way.
func AssertNoErrorContext(t testing.TB, err error, key string) {
	t.Helper()
	assert.NotContains(t, errorContext(t, err), key, "error: %v", err)
}

func errorContext(t testing.TB, err error) map[string]any {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr.Context()
}
