// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package denial

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("verify: %w", Wrap(ErrRevokedToken, errors.New("hit")))
	assert.ErrorIs(t, wrapped, ErrRevokedToken)
	assert.NotErrorIs(t, wrapped, ErrExpiredToken)
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
	}{
		{ErrMissingToken, http.StatusUnauthorized},
		{ErrRevokedToken, http.StatusUnauthorized},
		{ErrUnauthenticated, http.StatusUnauthorized},
		{ErrInsufficientPrivileges, http.StatusForbidden},
		{ErrClientBlocked, http.StatusForbidden},
		{ErrOriginRejected, http.StatusForbidden},
		{ErrRateLimitExceeded, http.StatusTooManyRequests},
		{ErrBadRequestFraming, http.StatusBadRequest},
		{ErrAmbiguousPath, http.StatusBadRequest},
		{ErrHeaderInjection, http.StatusBadRequest},
		{ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{ErrInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Status())
		})
	}
}

func TestFrom(t *testing.T) {
	t.Run("keeps denials", func(t *testing.T) {
		d := From(fmt.Errorf("ctx: %w", ErrClientBlocked))
		assert.Equal(t, CodeClientBlocked, d.Code)
	})

	t.Run("other errors fail closed", func(t *testing.T) {
		d := From(errors.New("boom"))
		assert.Equal(t, CodeInternal, d.Code)
		assert.Equal(t, http.StatusInternalServerError, d.Status())
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, From(nil))
	})
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, (&Error{}).RetryAfterSeconds())
	assert.Equal(t, 1, RateLimited(10*time.Millisecond).RetryAfterSeconds())
	assert.Equal(t, 60, RateLimited(time.Minute).RetryAfterSeconds())
	assert.Equal(t, 61, RateLimited(time.Minute+time.Millisecond).RetryAfterSeconds())
}
