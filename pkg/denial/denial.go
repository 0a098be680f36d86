// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

// Package denial defines the typed errors returned by the gateway components
// when a request is refused, together with their HTTP status mapping.
package denial

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is the machine-readable denial type reported in the JSON body.
type Code string

const (
	CodeMissingToken           Code = "MISSING_TOKEN"
	CodeMalformedToken         Code = "MALFORMED_TOKEN"
	CodeRevokedToken           Code = "TOKEN_REVOKED"
	CodeExpiredToken           Code = "TOKEN_EXPIRED"
	CodeInvalidSignatureClaims Code = "INVALID_TOKEN"
	CodeUnauthenticated        Code = "UNAUTHENTICATED"
	CodeInsufficientPrivileges Code = "INSUFFICIENT_PRIVILEGES"
	CodeRateLimitExceeded      Code = "RATE_LIMIT_EXCEEDED"
	CodeClientBlocked          Code = "IP_BLOCKED"
	CodeBadRequestFraming      Code = "REQUEST_SMUGGLING"
	CodePayloadTooLarge        Code = "PAYLOAD_TOO_LARGE"
	CodeAmbiguousPath          Code = "INVALID_PATH"
	CodeHeaderInjection        Code = "HEADER_INJECTION"
	CodeNoSQLInjection         Code = "NOSQL_INJECTION"
	CodeMaliciousUserAgent     Code = "MALICIOUS_BOT"
	CodeMissingOrigin          Code = "MISSING_ORIGIN"
	CodeOriginRejected         Code = "INVALID_ORIGIN"
	CodeMissingAPIKey          Code = "MISSING_API_KEY"
	CodeInvalidAPIKey          Code = "INVALID_API_KEY"
	CodeInternal               Code = "INTERNAL_ERROR"
)

// Error is a denial decision. Two Errors match under errors.Is when their
// codes are equal, so the package-level sentinels can be used as targets.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Status returns the HTTP status for the error's code.
func (e *Error) Status() int { return Status(e.Code) }

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *Error) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int((e.RetryAfter + time.Second - 1) / time.Second)
}

var (
	ErrMissingToken           = &Error{Code: CodeMissingToken, Message: "authentication token required"}
	ErrMalformedToken         = &Error{Code: CodeMalformedToken, Message: "malformed authentication token"}
	ErrRevokedToken           = &Error{Code: CodeRevokedToken, Message: "token has been revoked"}
	ErrExpiredToken           = &Error{Code: CodeExpiredToken, Message: "token has expired"}
	ErrInvalidSignatureClaims = &Error{Code: CodeInvalidSignatureClaims, Message: "invalid token signature or claims"}
	ErrUnauthenticated        = &Error{Code: CodeUnauthenticated, Message: "authentication required"}
	ErrInsufficientPrivileges = &Error{Code: CodeInsufficientPrivileges, Message: "insufficient privileges"}
	ErrRateLimitExceeded      = &Error{Code: CodeRateLimitExceeded, Message: "too many requests, please retry later"}
	ErrClientBlocked          = &Error{Code: CodeClientBlocked, Message: "access denied: client blocked due to suspicious activity"}
	ErrBadRequestFraming      = &Error{Code: CodeBadRequestFraming, Message: "conflicting Content-Length and Transfer-Encoding headers"}
	ErrPayloadTooLarge        = &Error{Code: CodePayloadTooLarge, Message: "request payload exceeds the allowed size"}
	ErrAmbiguousPath          = &Error{Code: CodeAmbiguousPath, Message: "request path contains encoded or traversal segments"}
	ErrHeaderInjection        = &Error{Code: CodeHeaderInjection, Message: "malicious header content detected"}
	ErrNoSQLInjection         = &Error{Code: CodeNoSQLInjection, Message: "invalid characters in query parameters"}
	ErrMaliciousUserAgent     = &Error{Code: CodeMaliciousUserAgent, Message: "automated scanner detected"}
	ErrMissingOrigin          = &Error{Code: CodeMissingOrigin, Message: "origin header required"}
	ErrOriginRejected         = &Error{Code: CodeOriginRejected, Message: "origin not allowed"}
	ErrMissingAPIKey          = &Error{Code: CodeMissingAPIKey, Message: "API key required"}
	ErrInvalidAPIKey          = &Error{Code: CodeInvalidAPIKey, Message: "invalid API key"}
	ErrInternal               = &Error{Code: CodeInternal, Message: "internal error"}
)

// Wrap attaches cause to a copy of sentinel.
func Wrap(sentinel *Error, cause error) *Error {
	e := *sentinel
	e.Err = cause
	return &e
}

// RateLimited returns a RateLimitExceeded error carrying retry guidance.
func RateLimited(retryAfter time.Duration) *Error {
	e := *ErrRateLimitExceeded
	e.RetryAfter = retryAfter
	return &e
}

// From converts err into a denial. Errors that are not denials become
// Internal so that unexpected failures deny instead of passing through.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var d *Error
	if errors.As(err, &d) {
		return d
	}
	return Wrap(ErrInternal, err)
}

// Status maps a code to its HTTP status.
func Status(code Code) int {
	switch code {
	case CodeMissingToken, CodeMalformedToken, CodeRevokedToken, CodeExpiredToken,
		CodeInvalidSignatureClaims, CodeUnauthenticated, CodeMissingAPIKey:
		return http.StatusUnauthorized
	case CodeInsufficientPrivileges, CodeClientBlocked, CodeMaliciousUserAgent,
		CodeMissingOrigin, CodeOriginRejected, CodeInvalidAPIKey:
		return http.StatusForbidden
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeBadRequestFraming, CodeAmbiguousPath, CodeHeaderInjection, CodeNoSQLInjection:
		return http.StatusBadRequest
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// IsAuthentication reports whether code belongs to the token failures whose
// details are hidden in production.
func IsAuthentication(code Code) bool {
	switch code {
	case CodeMissingToken, CodeMalformedToken, CodeRevokedToken, CodeExpiredToken,
		CodeInvalidSignatureClaims, CodeUnauthenticated:
		return true
	}
	return false
}

// Category returns the short title used in the "error" field of responses.
func Category(code Code) string {
	switch code {
	case CodeMissingToken, CodeMalformedToken, CodeRevokedToken, CodeExpiredToken,
		CodeInvalidSignatureClaims, CodeUnauthenticated, CodeMissingAPIKey:
		return "Authentication required"
	case CodeInsufficientPrivileges, CodeMissingOrigin, CodeOriginRejected, CodeInvalidAPIKey:
		return "Access denied"
	case CodeRateLimitExceeded:
		return "Rate limit exceeded"
	case CodeClientBlocked, CodeHeaderInjection, CodeMaliciousUserAgent, CodeBadRequestFraming,
		CodeAmbiguousPath:
		return "Security violation"
	case CodePayloadTooLarge, CodeNoSQLInjection:
		return "Invalid request"
	default:
		return "Internal error"
	}
}
