// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/Kalypss/PortFolio/pkg/abuse"
	"github.com/Kalypss/PortFolio/pkg/alert"
	"github.com/Kalypss/PortFolio/pkg/audit"
	"github.com/Kalypss/PortFolio/pkg/authz"
	"github.com/Kalypss/PortFolio/pkg/denial"
	"github.com/Kalypss/PortFolio/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const clientIP = "203.0.113.5"

type captureSubmitter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (c *captureSubmitter) Submit(a alert.Alert) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return true
}

func (c *captureSubmitter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

type fixture struct {
	gw      *Gateway
	clk     *testingclock.FakePassiveClock
	events  *audit.MemorySink
	tokens  *token.Authority
	blocker *abuse.Blocker
	alerts  *alert.Aggregator
	fired   *captureSubmitter
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	clk := testingclock.NewFakePassiveClock(t0)
	events := audit.NewMemorySink()
	log := zaptest.NewLogger(t)
	rec := audit.NewRecorder(events, log, audit.WithClock(clk))

	tokens, err := token.New(token.Config{
		Secret:   "0123456789abcdef0123456789abcdef",
		Lifetime: time.Hour,
		Issuer:   "portfolio-backend",
		Audience: "portfolio-frontend",
	}, rec, clk)
	require.NoError(t, err)

	fired := &captureSubmitter{}
	aggregator := alert.NewAggregator(alert.DefaultRules(), fired, rec, clk, log.Sugar())
	blocker := abuse.NewBlocker(abuse.DefaultBlockerConfig(), rec, clk)

	gw, err := New(cfg, Components{
		Tokens:   tokens,
		Gate:     authz.NewGate(rec),
		Limiter:  abuse.NewRateLimiter(abuse.DefaultLimits(), clk),
		SlowDown: abuse.NewSlowDown(abuse.DefaultSlowDownConfig(), clk),
		Blocker:  blocker,
		Alerts:   aggregator,
		Recorder: rec,
	}, log.Sugar(), opts...)
	require.NoError(t, err)

	return &fixture{gw: gw, clk: clk, events: events, tokens: tokens, blocker: blocker, alerts: aggregator, fired: fired}
}

func (f *fixture) request(method, path string) *Request {
	return &Request{
		Method:   method,
		Path:     path,
		Header:   http.Header{},
		Query:    url.Values{},
		ClientIP: clientIP,
		Policy:   f.gw.Routes().Match(path),
	}
}

func (f *fixture) bearer(t *testing.T, role string) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(context.Background(), token.Claims{Subject: "user-" + role, Role: role})
	require.NoError(t, err)
	return "Bearer " + tok
}

func codeOf(t *testing.T, err error) denial.Code {
	t.Helper()
	require.Error(t, err)
	return denial.From(err).Code
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(DefaultConfig(), Components{}, nil)
	assert.Error(t, err)
}

func TestEvaluateAllowsPublicRoute(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	d, err := f.gw.Evaluate(context.Background(), f.request(http.MethodGet, "/health"))
	require.NoError(t, err)
	assert.Equal(t, "health", d.Policy.Name)
	assert.Nil(t, d.Principal)
	assert.Nil(t, d.RateLimit)
	assert.Zero(t, d.Delay)
	assert.Empty(t, f.events.Events())
}

func TestEvaluateBlockedClient(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.blocker.Block(context.Background(), clientIP, "manual")

	_, err := f.gw.Evaluate(context.Background(), f.request(http.MethodGet, "/health"))
	assert.Equal(t, denial.CodeClientBlocked, codeOf(t, err))
	assert.Equal(t, 1, f.events.Count(audit.EventBlockedClientRequest))
	assert.Equal(t, 1, f.alerts.Pending(alert.KindBlockedIP))

	req := f.request(http.MethodGet, "/health")
	req.ClientIP = "198.51.100.1"
	_, err = f.gw.Evaluate(context.Background(), req)
	assert.NoError(t, err, "other clients are not affected")
}

func TestEvaluateBlocksAfterSuspicionThreshold(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		d, err := f.gw.Evaluate(ctx, f.request(http.MethodGet, "/api/projects"))
		require.NoError(t, err, "request %d", i)
		if i == 51 {
			assert.Equal(t, 100*time.Millisecond, d.Delay, "slow-down starts after 50 requests")
		}
	}

	_, err := f.gw.Evaluate(ctx, f.request(http.MethodGet, "/api/projects"))
	assert.Equal(t, denial.CodeClientBlocked, codeOf(t, err))
	assert.Equal(t, 1, f.events.Count(audit.EventClientBlocked))

	f.clk.SetTime(t0.Add(2 * time.Hour))
	_, err = f.gw.Evaluate(ctx, f.request(http.MethodGet, "/health"))
	assert.Equal(t, denial.CodeClientBlocked, codeOf(t, err), "blocks outlive the suspicion window")
	assert.Equal(t, 1, f.events.Count(audit.EventBlockedClientRequest))
}

func TestEvaluateUnprotectedRoutesAreNotTracked(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	for i := 0; i < 150; i++ {
		_, err := f.gw.Evaluate(context.Background(), f.request(http.MethodGet, "/health"))
		require.NoError(t, err)
	}
	assert.False(t, f.blocker.IsBlocked(clientIP))
}

func TestEvaluateFraming(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		code   denial.Code
	}{
		{
			name: "content-length and transfer-encoding headers",
			mutate: func(r *Request) {
				r.Header.Set("Content-Length", "5")
				r.Header.Set("Transfer-Encoding", "chunked")
				r.ContentLength = 5
			},
			code: denial.CodeBadRequestFraming,
		},
		{
			name: "parsed transfer encoding with a length",
			mutate: func(r *Request) {
				r.TransferEncoding = []string{"chunked"}
				r.ContentLength = 5
			},
			code: denial.CodeBadRequestFraming,
		},
		{
			name:   "declared length over the limit",
			mutate: func(r *Request) { r.ContentLength = 11 << 20 },
			code:   denial.CodePayloadTooLarge,
		},
		{
			name:   "small body",
			mutate: func(r *Request) { r.ContentLength = 1024 },
		},
		{
			name:   "chunked without a length",
			mutate: func(r *Request) { r.TransferEncoding = []string{"chunked"}; r.ContentLength = -1 },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			req := f.request(http.MethodPost, "/health")
			tt.mutate(req)
			_, err := f.gw.Evaluate(context.Background(), req)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, codeOf(t, err))
		})
	}
}

// net/http drops Content-Length when a chunked Transfer-Encoding is present,
// so a conflicting pair sent on the wire reaches the gateway as a plain
// chunked request.
func TestMiddlewareConflictingFramingOnTheWire(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	type seenRequest struct {
		contentLength int64
		header        string
		te            []string
		body          string
	}
	seen := make(chan seenRequest, 1)
	r := gin.New()
	r.Use(f.gw.Middleware())
	r.POST("/health", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		seen <- seenRequest{
			contentLength: c.Request.ContentLength,
			header:        c.GetHeader("Content-Length"),
			te:            c.Request.TransferEncoding,
			body:          string(body),
		}
		c.Status(http.StatusNoContent)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "POST /health HTTP/1.1\r\n"+
		"Host: localhost\r\n"+
		"Content-Length: 5\r\n"+
		"Transfer-Encoding: chunked\r\n"+
		"Connection: close\r\n"+
		"\r\n"+
		"0\r\n\r\n")
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	select {
	case got := <-seen:
		assert.Equal(t, int64(-1), got.contentLength)
		assert.Empty(t, got.header)
		assert.Equal(t, []string{"chunked"}, got.te)
		assert.Empty(t, got.body)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not reached")
	}
	assert.Zero(t, f.events.Count(audit.EventRequestSmuggling))
}

func TestEvaluateAmbiguousPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		rawPath string
		denied  bool
	}{
		{name: "plain path", path: "/api/projects", rawPath: "/api/projects"},
		{name: "encoded space", path: "/api/projects/my project", rawPath: "/api/projects/my%20project"},
		{name: "dot segments", path: "/api/github/../admin/blocked", rawPath: "/api/github/../admin/blocked", denied: true},
		{name: "encoded dot segments", path: "/api/github/../admin", rawPath: "/api/github/%2E%2E/admin", denied: true},
		{name: "encoded slash", path: "/api/admin/blocked", rawPath: "/api/admin%2Fblocked", denied: true},
		{name: "encoded backslash", path: `/api\admin`, rawPath: "/api%5cadmin", denied: true},
		{name: "double encoding", path: "/api/%2e%2e/admin", rawPath: "/api/%252e%252e/admin", denied: true},
		{name: "nul byte", path: "/api/admin\x00", rawPath: "/api/admin%00", denied: true},
		{name: "no raw form", path: "/api/projects"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			req := f.request(http.MethodGet, tt.path)
			req.RawPath = tt.rawPath
			_, err := f.gw.Evaluate(context.Background(), req)
			if !tt.denied {
				assert.NoError(t, err)
				assert.Zero(t, f.events.Count(audit.EventAmbiguousPath))
				return
			}
			assert.Equal(t, denial.CodeAmbiguousPath, codeOf(t, err))
			assert.Equal(t, http.StatusBadRequest, denial.From(err).Status())
			assert.Equal(t, 1, f.events.Count(audit.EventAmbiguousPath))
		})
	}
}

func TestEvaluateRateLimit(t *testing.T) {
	f := newFixture(t, DefaultConfig(), WithRoutes(Routes{
		{Pattern: "/api/contact", Policy: Policy{Name: "contact", Classes: []abuse.Class{abuse.ClassStrict}}},
	}))
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		d, err := f.gw.Evaluate(ctx, f.request(http.MethodPost, "/api/contact"))
		require.NoError(t, err)
		require.NotNil(t, d.RateLimit)
		assert.Equal(t, abuse.ClassStrict, d.RateLimit.Class, "the tighter class is reported")
		assert.Equal(t, 20-i, d.RateLimit.Remaining)
	}

	_, err := f.gw.Evaluate(ctx, f.request(http.MethodPost, "/api/contact"))
	de := denial.From(err)
	require.Equal(t, denial.CodeRateLimitExceeded, de.Code)
	assert.Equal(t, 600, de.RetryAfterSeconds())
	assert.Equal(t, 1, f.events.Count(audit.EventRateLimitExceeded))
	assert.Equal(t, 1, f.alerts.Pending(alert.KindRateLimitHit))

	f.clk.SetTime(t0.Add(10 * time.Minute))
	_, err = f.gw.Evaluate(ctx, f.request(http.MethodPost, "/api/contact"))
	assert.NoError(t, err, "budget resets with the window")
}

func TestEvaluateSkipGlobal(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	for i := 0; i < 250; i++ {
		d, err := f.gw.Evaluate(context.Background(), f.request(http.MethodGet, "/weather-icons/sun.svg"))
		require.NoError(t, err)
		assert.Zero(t, d.Delay)
	}
}

func TestEvaluateScreening(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		code   denial.Code
		event  audit.EventType
	}{
		{
			name:   "script in header",
			mutate: func(r *Request) { r.Header.Set("X-Note", "<script>alert(1)</script>") },
			code:   denial.CodeHeaderInjection,
			event:  audit.EventHeaderInjection,
		},
		{
			name:   "CRLF in header",
			mutate: func(r *Request) { r.Header["X-Note"] = []string{"a\r\nSet-Cookie: x=1"} },
			code:   denial.CodeHeaderInjection,
			event:  audit.EventHeaderInjection,
		},
		{
			name:   "javascript scheme",
			mutate: func(r *Request) { r.Header.Set("Referer", "JavaScript:alert(1)") },
			code:   denial.CodeHeaderInjection,
			event:  audit.EventHeaderInjection,
		},
		{
			name:   "operator in query key",
			mutate: func(r *Request) { r.Query.Set("user[$ne]", "1") },
			code:   denial.CodeNoSQLInjection,
			event:  audit.EventNoSQLInjection,
		},
		{
			name:   "object in query value",
			mutate: func(r *Request) { r.Query.Set("q", `{"$gt":""}`) },
			code:   denial.CodeNoSQLInjection,
			event:  audit.EventNoSQLInjection,
		},
		{
			name:   "scanner user agent",
			mutate: func(r *Request) { r.UserAgent = "sqlmap/1.7.2#stable" },
			code:   denial.CodeMaliciousUserAgent,
			event:  audit.EventMaliciousBot,
		},
		{
			name: "browser",
			mutate: func(r *Request) {
				r.UserAgent = "Mozilla/5.0 (X11; Linux x86_64)"
				r.Query.Set("page", "2")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			req := f.request(http.MethodGet, "/health")
			tt.mutate(req)
			_, err := f.gw.Evaluate(context.Background(), req)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, codeOf(t, err))
			assert.Equal(t, 1, f.events.Count(tt.event))
		})
	}
}

func TestEvaluateSuspiciousHeadersAreReportedOnly(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	req := f.request(http.MethodGet, "/health")
	req.Header.Set("X-Forwarded-Host", "internal.local")

	_, err := f.gw.Evaluate(context.Background(), req)
	require.NoError(t, err)
	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventSuspiciousHeaders, events[0].Type)
	assert.Equal(t, []string{"x-forwarded-host"}, events[0].Details["headers"])
}

func TestEvaluateOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://portfolio.example", "https://*.example.org"}

	tests := []struct {
		name   string
		header string
		value  string
		code   denial.Code
		event  audit.EventType
	}{
		{name: "missing", code: denial.CodeMissingOrigin, event: audit.EventOriginMissing},
		{name: "foreign origin", header: "Origin", value: "https://evil.example", code: denial.CodeOriginRejected, event: audit.EventOriginRejected},
		{name: "allowed origin", header: "Origin", value: "https://portfolio.example"},
		{name: "subdomain referer", header: "Referer", value: "https://blog.example.org/post/1"},
		{name: "bare domain referer", header: "Referer", value: "https://example.org/", code: denial.CodeOriginRejected, event: audit.EventOriginRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, cfg)
			req := f.request(http.MethodPost, "/api/contact")
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			_, err := f.gw.Evaluate(context.Background(), req)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, codeOf(t, err))
			assert.Equal(t, 1, f.events.Count(tt.event))
		})
	}
}

func TestEvaluateAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKeys = []string{"key-one", "key-two"}
	routes := WithRoutes(Routes{{Pattern: "/api/**", Policy: Policy{Name: "keyed", RequireAPIKey: true}}})

	f := newFixture(t, cfg, routes)
	ctx := context.Background()

	_, err := f.gw.Evaluate(ctx, f.request(http.MethodGet, "/api/stats"))
	assert.Equal(t, denial.CodeMissingAPIKey, codeOf(t, err))
	assert.Equal(t, http.StatusUnauthorized, denial.From(err).Status())

	req := f.request(http.MethodGet, "/api/stats")
	req.Header.Set(APIKeyHeader, "key-three")
	_, err = f.gw.Evaluate(ctx, req)
	assert.Equal(t, denial.CodeInvalidAPIKey, codeOf(t, err))
	assert.Equal(t, http.StatusForbidden, denial.From(err).Status())
	require.Equal(t, 1, f.events.Count(audit.EventAPIKeyInvalid))
	for _, e := range f.events.Events() {
		if e.Type == audit.EventAPIKeyInvalid {
			assert.Equal(t, audit.Fingerprint("key-three"), e.Details["keyFingerprint"])
		}
	}

	// Keys are only read from the header.
	req = f.request(http.MethodGet, "/api/stats")
	req.Query.Set("apiKey", "key-two")
	_, err = f.gw.Evaluate(ctx, req)
	assert.Equal(t, denial.CodeMissingAPIKey, codeOf(t, err))

	req = f.request(http.MethodGet, "/api/stats")
	req.Header.Set(APIKeyHeader, "key-two")
	_, err = f.gw.Evaluate(ctx, req)
	assert.NoError(t, err)
}

func TestEvaluateAuthentication(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	t.Run("required without token", func(t *testing.T) {
		_, err := f.gw.Evaluate(ctx, f.request(http.MethodPost, "/api/auth/revoke"))
		assert.Equal(t, denial.CodeMissingToken, codeOf(t, err))
	})

	t.Run("required with token", func(t *testing.T) {
		req := f.request(http.MethodPost, "/api/auth/revoke")
		req.Header.Set(token.AuthHeaderKey, f.bearer(t, authz.RoleEditor))
		d, err := f.gw.Evaluate(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, d.Principal)
		assert.Equal(t, "user-editor", d.Principal.Subject)
	})

	t.Run("optional with a bad token continues anonymously", func(t *testing.T) {
		req := f.request(http.MethodGet, "/api/projects")
		req.Header.Set(token.AuthHeaderKey, "Bearer not-a-token")
		d, err := f.gw.Evaluate(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, d.Principal)
		assert.Equal(t, 1, f.events.Count(audit.EventAuthMalformedToken))
	})

	t.Run("optional with a valid token", func(t *testing.T) {
		req := f.request(http.MethodGet, "/api/github/repos")
		req.Header.Set(token.AuthHeaderKey, f.bearer(t, authz.RoleGuest))
		d, err := f.gw.Evaluate(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, d.Principal)
		assert.Equal(t, authz.RoleGuest, d.Principal.Role)
	})

	t.Run("admin route rejects editor", func(t *testing.T) {
		req := f.request(http.MethodGet, "/api/admin/blocked")
		req.Header.Set(token.AuthHeaderKey, f.bearer(t, authz.RoleEditor))
		_, err := f.gw.Evaluate(ctx, req)
		assert.Equal(t, denial.CodeInsufficientPrivileges, codeOf(t, err))
		assert.Equal(t, 1, f.events.Count(audit.EventAuthzDenied))
	})

	t.Run("admin route admits admin", func(t *testing.T) {
		req := f.request(http.MethodGet, "/api/admin/blocked")
		req.Header.Set(token.AuthHeaderKey, f.bearer(t, authz.RoleAdmin))
		_, err := f.gw.Evaluate(ctx, req)
		assert.NoError(t, err)
	})

	t.Run("revoked token", func(t *testing.T) {
		bearer := f.bearer(t, authz.RoleAdmin)
		require.NoError(t, f.tokens.Revoke(ctx, bearer))
		req := f.request(http.MethodGet, "/api/admin/blocked")
		req.Header.Set(token.AuthHeaderKey, bearer)
		_, err := f.gw.Evaluate(ctx, req)
		assert.Equal(t, denial.CodeRevokedToken, codeOf(t, err))
	})
}

func TestEvaluateAlertsOncePerBurst(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		req := f.request(http.MethodGet, "/health")
		req.Header.Set("X-Note", "<script>")
		_, err := f.gw.Evaluate(ctx, req)
		require.Error(t, err)
	}
	require.Equal(t, 1, f.fired.Len())
	assert.Equal(t, alert.KindInjectionAttempt, f.fired.alerts[0].Kind)
	assert.Equal(t, 5, f.fired.alerts[0].Count)
	assert.Equal(t, 0, f.alerts.Pending(alert.KindInjectionAttempt))

	req := f.request(http.MethodGet, "/health")
	req.Query.Set("q", "${x}")
	_, err := f.gw.Evaluate(ctx, req)
	require.Error(t, err)
	assert.Equal(t, 1, f.fired.Len(), "a new burst starts from zero")
	assert.Equal(t, 1, f.alerts.Pending(alert.KindInjectionAttempt))
}

func TestEvaluateInternalErrorFailsClosed(t *testing.T) {
	f := newFixture(t, DefaultConfig(), WithRoutes(Routes{
		{Pattern: "/**", Policy: Policy{Name: "broken", SkipGlobal: true, Classes: []abuse.Class{"missing"}}},
	}))

	_, err := f.gw.Evaluate(context.Background(), f.request(http.MethodGet, "/anything"))
	de := denial.From(err)
	assert.Equal(t, denial.CodeInternal, de.Code)
	assert.Equal(t, http.StatusInternalServerError, de.Status())
	assert.Equal(t, 1, f.events.Count(audit.EventInternalFailure))
	assert.Zero(t, f.fired.Len())
}

func TestKindForCode(t *testing.T) {
	tests := map[denial.Code]alert.Kind{
		denial.CodeClientBlocked:          alert.KindBlockedIP,
		denial.CodeHeaderInjection:        alert.KindInjectionAttempt,
		denial.CodeNoSQLInjection:         alert.KindInjectionAttempt,
		denial.CodeRateLimitExceeded:      alert.KindRateLimitHit,
		denial.CodeExpiredToken:           alert.KindAuthFailure,
		denial.CodeUnauthenticated:        alert.KindAuthFailure,
		denial.CodeInsufficientPrivileges: alert.KindPrivilegeEscalation,
		denial.CodeBadRequestFraming:      alert.KindRequestSmuggling,
		denial.CodeAmbiguousPath:          alert.KindInjectionAttempt,
		denial.CodePayloadTooLarge:        alert.KindPayloadTooLarge,
		denial.CodeMissingOrigin:          alert.KindOriginRejected,
		denial.CodeInvalidAPIKey:          alert.KindAPIKeyRejected,
		denial.CodeMaliciousUserAgent:     alert.KindMaliciousBot,
		denial.CodeInternal:               alert.KindUnknown,
	}
	for code, kind := range tests {
		assert.Equal(t, kind, KindForCode(code), string(code))
	}
}

func TestRoutesMatch(t *testing.T) {
	routes := DefaultRoutes()
	tests := map[string]string{
		"/health":                "health",
		"/weather-icons/01d.svg": "weather-icons",
		"/api/auth/revoke":       "auth-revoke",
		"/api/admin/blocked/1.2": "admin",
		"/api/github/repos":      "github",
		"/api/weather/current":   "weather",
		"/api/contact":           "contact",
		"/api/projects":          "api",
		"/apiary":                "default",
		"/":                      "default",
		"/API/github/repos":      "github",
		"/Api/Admin/blocked":     "admin",
		"/api//admin/blocked":    "admin",
		"/api/contact/":          "contact",
		"/HEALTH":                "health",
	}
	for path, name := range tests {
		assert.Equal(t, name, routes.Match(path).Name, path)
	}
}

func newEngine(f *fixture) *gin.Engine {
	r := gin.New()
	r.Use(f.gw.Middleware())
	handler := func(c *gin.Context) {
		resp := gin.H{"ok": true}
		if v, ok := c.Get(token.PrincipalContextKey); ok {
			resp["subject"] = v.(*token.Principal).Subject
		}
		if p := token.PrincipalFrom(c.Request.Context()); p != nil {
			resp["ctxSubject"] = p.Subject
		}
		c.JSON(http.StatusOK, resp)
	}
	r.GET("/health", handler)
	r.POST("/api/auth/revoke", handler)
	r.POST("/api/contact", handler)
	r.GET("/api/projects", handler)
	return r
}

func serve(r *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	req.RemoteAddr = clientIP + ":43120"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestMiddlewareDenialBody(t *testing.T) {
	t.Run("development", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		w, body := serve(newEngine(f), httptest.NewRequest(http.MethodPost, "/api/auth/revoke", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Authentication required", body["error"])
		assert.Equal(t, "authentication token required", body["message"])
		assert.Equal(t, "MISSING_TOKEN", body["type"])
		assert.NotEmpty(t, body["timestamp"])
		assert.NotContains(t, body, "retryAfter")
	})

	t.Run("production hides authentication detail", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Production = true
		f := newFixture(t, cfg)
		_, body := serve(newEngine(f), httptest.NewRequest(http.MethodPost, "/api/auth/revoke", nil))
		assert.Equal(t, "Authentication failed", body["message"])
		assert.Equal(t, "MISSING_TOKEN", body["type"])
	})

	t.Run("security violations keep their message", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Production = true
		f := newFixture(t, cfg)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("User-Agent", "Nikto/2.5")
		w, body := serve(newEngine(f), req)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "Security violation", body["error"])
		assert.Equal(t, "automated scanner detected", body["message"])
	})
}

func TestMiddlewareMatchesRoutesCaseInsensitively(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	r := newEngine(f)

	w, body := serve(r, httptest.NewRequest(http.MethodGet, "/API/Admin/blocked", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "MISSING_TOKEN", body["type"])

	w, body = serve(r, httptest.NewRequest(http.MethodGet, "/api/github/%2e%2e/admin/blocked", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PATH", body["type"])
}

func TestMiddlewareRateLimitHeaders(t *testing.T) {
	f := newFixture(t, DefaultConfig(), WithRoutes(Routes{
		{Pattern: "/api/contact", Policy: Policy{Name: "contact", SkipGlobal: true, Classes: []abuse.Class{abuse.ClassStrict}}},
	}))
	r := newEngine(f)

	w, _ := serve(r, httptest.NewRequest(http.MethodPost, "/api/contact", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "20", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "19", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1772367000", w.Header().Get("X-RateLimit-Reset"))

	for i := 0; i < 19; i++ {
		w, _ = serve(r, httptest.NewRequest(http.MethodPost, "/api/contact", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, body := serve(r, httptest.NewRequest(http.MethodPost, "/api/contact", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "600", w.Header().Get("Retry-After"))
	assert.Equal(t, float64(600), body["retryAfter"])
	assert.Equal(t, "Rate limit exceeded", body["error"])
}

func TestMiddlewarePropagatesPrincipal(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set(token.AuthHeaderKey, f.bearer(t, authz.RoleEditor))
	req.Header.Set(requestIDHeader, "req-42")

	w, body := serve(newEngine(f), req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-editor", body["subject"])
	assert.Equal(t, "user-editor", body["ctxSubject"])
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
}

func TestMiddlewareAssignsRequestID(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	w, _ := serve(newEngine(f), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, w.Header().Get(requestIDHeader), 36)
}

func TestMiddlewareRejectsOversizedBody(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 16
	f := newFixture(t, cfg)
	req := httptest.NewRequest(http.MethodGet, "/health", strings.NewReader(strings.Repeat("x", 64)))
	w, body := serve(newEngine(f), req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", body["type"])
}

func TestMiddlewareAppliesSlowDown(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.gw.c.SlowDown = abuse.NewSlowDown(abuse.SlowDownConfig{
		Window:    time.Minute,
		DelayStep: 30 * time.Millisecond,
		MaxDelay:  30 * time.Millisecond,
	}, f.clk)

	start := time.Now()
	w, _ := serve(newEngine(f), httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 1, f.events.Count(audit.EventSlowDownApplied))
}

func TestMiddlewareSlowDownStopsWithClient(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.gw.c.SlowDown = abuse.NewSlowDown(abuse.SlowDownConfig{
		Window:    time.Minute,
		DelayStep: time.Minute,
		MaxDelay:  time.Minute,
	}, f.clk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil).WithContext(ctx)

	start := time.Now()
	serve(newEngine(f), req)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, f.events.Count(audit.EventSlowDownApplied))
}
